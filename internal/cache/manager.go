// Package cache implements the multi-tier cache that fronts search,
// embedding and rerank lookups: a count-bounded memory LRU backed by a
// byte-bounded disk tier with lazy TTL enforcement and a pluggable
// serialize/compress/encrypt codec.
package cache

import (
	"log/slog"
	"time"

	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
)

// Namespaces for the cached computations.
const (
	NamespaceSearch     = "search"
	NamespaceEmbeddings = "embeddings"
	NamespaceRerank     = "rerank"
)

// Config holds cache settings with documented defaults.
type Config struct {
	// MemoryItems is the memory-tier entry capacity (default 1000).
	MemoryItems int

	// DiskBytes is the disk-tier byte capacity (default 100 MB).
	DiskBytes int64

	// Dir is the disk-tier root directory.
	Dir string

	// TTL is the default entry lifetime (default 1 hour).
	TTL time.Duration

	// Compress enables gzip in the codec pipeline.
	Compress bool

	// EncryptKey enables AES-GCM in the codec pipeline when non-empty.
	EncryptKey string

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// Manager is the multi-tier cache. Reads check memory first, then disk,
// promoting disk hits into memory. Writes land in both tiers.
type Manager struct {
	cfg    Config
	codec  *Codec
	memory *LRU
	disk   *Disk
	logger *slog.Logger
}

// NewManager creates a cache manager with both tiers initialized.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MemoryItems <= 0 {
		cfg.MemoryItems = 1000
	}
	if cfg.DiskBytes <= 0 {
		cfg.DiskBytes = 100 << 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Dir == "" {
		cfg.Dir = "cache"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	disk, err := NewDisk(cfg.Dir, cfg.DiskBytes, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		codec:  NewCodec(cfg.Compress, cfg.EncryptKey),
		memory: NewLRU(cfg.MemoryItems),
		disk:   disk,
		logger: logger,
	}, nil
}

// Close releases the disk tier.
func (m *Manager) Close() error {
	return m.disk.Close()
}

// Get looks up the value stored under (namespace, parts...) and decodes it
// into out. It reports false on a miss; decode failures count as misses.
func (m *Manager) Get(namespace string, out any, parts ...string) bool {
	key := Fingerprint(namespace, parts...)

	if data, ok := m.memory.Get(key); ok {
		if err := m.codec.Decode(data, out); err == nil {
			return true
		}
		m.memory.Delete(key)
	}

	if data, ok := m.disk.Get(key); ok {
		if err := m.codec.Decode(data, out); err == nil {
			// Promote to the memory tier.
			m.memory.Put(key, namespace, data, m.cfg.TTL)
			return true
		}
		m.disk.Delete(key)
	}

	return false
}

// Put stores value under (namespace, parts...) in both tiers. A zero ttl
// uses the configured default. Encoding failures are swallowed; the cache
// never propagates storage faults.
func (m *Manager) Put(namespace string, value any, ttl time.Duration, parts ...string) {
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}

	data, err := m.codec.Encode(value)
	if err != nil {
		m.logger.Warn("failed to encode cache value", "namespace", namespace, "error", err)
		return
	}

	key := Fingerprint(namespace, parts...)
	m.memory.Put(key, namespace, data, ttl)
	m.disk.Put(key, namespace, data, ttl)
}

// Invalidate removes the entry for (namespace, parts...) from both tiers.
func (m *Manager) Invalidate(namespace string, parts ...string) {
	key := Fingerprint(namespace, parts...)
	m.memory.Delete(key)
	m.disk.Delete(key)
}

// InvalidateNamespace removes every entry in a namespace from both tiers.
func (m *Manager) InvalidateNamespace(namespace string) {
	m.memory.DeleteNamespace(namespace)
	m.disk.DeleteNamespace(namespace)
}

// Sweep purges all expired entries from both tiers on demand.
func (m *Manager) Sweep() int {
	return m.memory.Sweep() + m.disk.Sweep()
}

// Clear empties both tiers.
func (m *Manager) Clear() {
	m.memory.Clear()
	m.disk.Clear()
}

// Stats reports per-tier counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Memory: m.memory.Stats(),
		Disk:   m.disk.Stats(),
	}
}

// Stats aggregates both tiers' counters.
type Stats struct {
	Memory TierStats `json:"memory"`
	Disk   TierStats `json:"disk"`
}

// PutSearchResults caches one provider's search results for a query.
func (m *Manager) PutSearchResults(query, providerName string, results []provider.SearchResult) {
	m.Put(NamespaceSearch, results, 0, query, providerName)
}

// GetSearchResults returns cached search results for (query, provider).
func (m *Manager) GetSearchResults(query, providerName string) ([]provider.SearchResult, bool) {
	var results []provider.SearchResult
	if m.Get(NamespaceSearch, &results, query, providerName) {
		return results, true
	}
	return nil, false
}

// PutEmbeddings caches token embeddings for a text.
func (m *Manager) PutEmbeddings(text string, vectors [][]float32) {
	m.Put(NamespaceEmbeddings, vectors, 0, text)
}

// GetEmbeddings returns cached token embeddings for a text.
func (m *Manager) GetEmbeddings(text string) ([][]float32, bool) {
	var vectors [][]float32
	if m.Get(NamespaceEmbeddings, &vectors, text) {
		return vectors, true
	}
	return nil, false
}

// PutRerank caches a rerank response for (query, provider).
func (m *Manager) PutRerank(query, providerName string, resp *reranker.Response) {
	m.Put(NamespaceRerank, resp, 0, query, providerName)
}

// GetRerank returns a cached rerank response for (query, provider).
func (m *Manager) GetRerank(query, providerName string) (*reranker.Response, bool) {
	var resp reranker.Response
	if m.Get(NamespaceRerank, &resp, query, providerName) {
		return &resp, true
	}
	return nil, false
}
