package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewJWTManager(DefaultJWTConfig("test-secret"))

	token, err := m.GenerateToken("client-1", "Test Client")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("expected client-1, got %s", claims.ClientID)
	}
	if claims.ClientName != "Test Client" {
		t.Errorf("expected Test Client, got %s", claims.ClientName)
	}
	if claims.Issuer != "searcheval" {
		t.Errorf("expected issuer searcheval, got %s", claims.Issuer)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	m := NewJWTManager(DefaultJWTConfig("secret-a"))
	other := NewJWTManager(DefaultJWTConfig("secret-b"))

	token, err := m.GenerateToken("client-1", "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	m := NewJWTManager(DefaultJWTConfig("test-secret"))

	if _, err := m.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	cfg.Expiry = -time.Minute
	m := NewJWTManager(cfg)

	token, err := m.GenerateToken("client-1", "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRefreshToken_ExpiredTokenStillRefreshes(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	cfg.Expiry = -time.Minute
	m := NewJWTManager(cfg)

	expired, err := m.GenerateToken("client-1", "Test Client")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	cfg.Expiry = time.Hour
	refreshed, err := m.RefreshToken(expired)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	claims, err := m.ValidateToken(refreshed)
	if err != nil {
		t.Fatalf("validate refreshed failed: %v", err)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("expected client-1, got %s", claims.ClientID)
	}
}
