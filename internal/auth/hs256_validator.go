package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// HS256Validator is the primary validator: a single shared HMAC
// secret (AUTH_SECRET), no network round trip.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for the given HMAC secret.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// ValidateToken implements TokenValidator.
func (v *HS256Validator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StandardClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*StandardClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(time.Now(), true) {
		return "", ErrExpiredToken
	}

	return userIDFromClaims(claims)
}
