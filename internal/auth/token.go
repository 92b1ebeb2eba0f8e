// Package auth validates the bearer token presented on the WebSocket
// handshake and resolves it to a user identifier. Two validators are
// provided behind a common interface, selected by JWT_VALIDATOR_TYPE:
// hs256 (a single shared HMAC secret) and jwks (an alternate for
// deployments fronted by an OIDC provider).
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSecret = errors.New("no auth secret configured")
	ErrNoJWKS = errors.New("no JWKS URL provided")
)

// StandardClaims is the claim set the core expects on every token
// regardless of which validator is configured.
type StandardClaims struct {
	Sub string `json:"sub"`
	UserId string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenValidator validates a bearer token and extracts the user identifier
// used for logging and persistence.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

func userIDFromClaims(claims *StandardClaims) (string, error) {
	if claims.Sub != "" {
		return claims.Sub, nil
	}
	if claims.UserId != "" {
		return claims.UserId, nil
	}
	return "", errors.New("invalid token: no sub or user_id claim")
}
