package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protectedHandler(t *testing.T, mw *Middleware) http.Handler {
	t.Helper()
	return mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := ClientFromContext(r.Context())
		if r.URL.Path != "/healthz" && !ok {
			t.Error("expected client info in context")
		}
		_ = info
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddleware_SkipsHealthEndpoints(t *testing.T) {
	mw := NewMiddleware(NewJWTManager(DefaultJWTConfig("secret")), "admin-key")
	h := protectedHandler(t, mw)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without credentials, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsMissingCredentials(t *testing.T) {
	mw := NewMiddleware(NewJWTManager(DefaultJWTConfig("secret")), "admin-key")
	h := protectedHandler(t, mw)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_AdminAPIKey(t *testing.T) {
	mw := NewMiddleware(NewJWTManager(DefaultJWTConfig("secret")), "admin-key")
	h := protectedHandler(t, mw)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set(APIKeyHeader, "admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with admin key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set(APIKeyHeader, "wrong-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestMiddleware_BearerToken(t *testing.T) {
	jm := NewJWTManager(DefaultJWTConfig("secret"))
	mw := NewMiddleware(jm, "admin-key")
	h := protectedHandler(t, mw)

	token, err := jm.GenerateToken("client-1", "Test Client")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rec.Code)
	}
}
