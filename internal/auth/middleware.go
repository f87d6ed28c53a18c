package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header carrying the API key
	APIKeyHeader = "X-API-Key"

	// clientContextKey is the context key for storing client info
	clientContextKey contextKey = "client"
)

// ClientInfo holds client identity extracted from authentication
type ClientInfo struct {
	ID    string
	Name  string
	Admin bool
}

// Middleware authenticates requests with either the admin API key header or
// a JWT bearer token, and stores the client identity in the request context.
type Middleware struct {
	jwtManager  *JWTManager
	adminAPIKey string
	skipPaths   map[string]bool
}

// NewMiddleware creates authentication middleware. Health endpoints skip
// authentication by default.
func NewMiddleware(jwtManager *JWTManager, adminAPIKey string) *Middleware {
	return &Middleware{
		jwtManager:  jwtManager,
		adminAPIKey: adminAPIKey,
		skipPaths: map[string]bool{
			"/healthz": true,
			"/readyz":  true,
		},
	}
}

// WithSkipPaths adds paths that bypass authentication
func (m *Middleware) WithSkipPaths(paths ...string) *Middleware {
	for _, p := range paths {
		m.skipPaths[p] = true
	}
	return m
}

// Handler wraps next with authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader)); apiKey != "" {
			if m.adminAPIKey == "" || apiKey != m.adminAPIKey {
				unauthorized(w, "invalid API key")
				return
			}
			ctx := context.WithValue(r.Context(), clientContextKey, &ClientInfo{ID: "admin", Admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		bearer := r.Header.Get("Authorization")
		if !strings.HasPrefix(bearer, "Bearer ") {
			unauthorized(w, "missing credentials")
			return
		}
		claims, err := m.jwtManager.ValidateToken(strings.TrimPrefix(bearer, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		info := &ClientInfo{ID: claims.ClientID, Name: claims.ClientName}
		ctx := context.WithValue(r.Context(), clientContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientFromContext extracts client info from context
func ClientFromContext(ctx context.Context) (*ClientInfo, bool) {
	info, ok := ctx.Value(clientContextKey).(*ClientInfo)
	return info, ok
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  "unauthenticated",
		"reason": reason,
	})
}
