package auth

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken(7, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("expected 7, got %d", claims.UserID)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken(1, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatalf("wrong secret must not look like expiry")
	}
}

func TestCreateToken_InvalidExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Second, Issuer: "test"}
	_, err := CreateToken(1, cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Minute, Issuer: "test"}
	tok, err := createTokenAt(1, cfg, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("createTokenAt: %v", err)
	}
	if _, err := VerifyToken(tok, cfg); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestPeekExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken(1, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	exp, ok := PeekExpiry(tok)
	if !ok {
		t.Fatalf("expected exp claim")
	}
	if exp.Before(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	if _, ok := PeekExpiry("not-a-jwt"); ok {
		t.Fatalf("expected no expiry for garbage")
	}
}
