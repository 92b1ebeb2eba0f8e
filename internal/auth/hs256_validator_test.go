package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret string, claims StandardClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHS256ValidatorAcceptsValidToken(t *testing.T) {
	v, err := NewHS256Validator("test-secret")
	if err != nil {
		t.Fatalf("NewHS256Validator: %v", err)
	}

	tok := signHS256(t, "test-secret", StandardClaims{
		Sub: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	userID, err := v.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("got userID %q, want user-123", userID)
	}
}

func TestHS256ValidatorRejectsExpiredToken(t *testing.T) {
	v, err := NewHS256Validator("test-secret")
	if err != nil {
		t.Fatalf("NewHS256Validator: %v", err)
	}

	tok := signHS256(t, "test-secret", StandardClaims{
		Sub: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.ValidateToken(tok); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestHS256ValidatorRejectsWrongSecret(t *testing.T) {
	v, err := NewHS256Validator("test-secret")
	if err != nil {
		t.Fatalf("NewHS256Validator: %v", err)
	}

	tok := signHS256(t, "other-secret", StandardClaims{
		Sub: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.ValidateToken(tok); err == nil {
		t.Fatal("expected error for token signed with wrong secret, got nil")
	}
}

func TestNewRejectsUnknownValidatorType(t *testing.T) {
	if _, err := New("rot13", "secret", ""); err == nil {
		t.Fatal("expected error for unknown validator type, got nil")
	}
}
