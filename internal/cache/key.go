package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives an opaque cache key from a namespace and ordered key
// parts. The same namespace and parts always produce the same key; the key
// reveals nothing about its inputs. Because keys are hashes, namespace-wide
// invalidation is tracked by storing the namespace alongside each entry
// rather than by matching key prefixes.
func Fingerprint(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
