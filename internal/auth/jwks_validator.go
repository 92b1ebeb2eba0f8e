package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// JWKSValidator is the alternate validator for deployments fronted by an
// OIDC-style identity provider publishing a JWKS document. It validates
// signature and expiry against the fetched key set; the issuer claim is not
// checked, and there is no dev-mode bypass or provider-specific user-ID
// extraction here.
type JWKSValidator struct {
	keySet jwk.Set
	jwksURL string
}

// NewJWKSValidator fetches the JWKS document once at startup.
func NewJWKSValidator(jwksURL string) (*JWKSValidator, error) {
	if jwksURL == "" {
		return nil, ErrNoJWKS
	}
	keySet, err := jwk.Fetch(context.Background(), jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSValidator{keySet: keySet, jwksURL: jwksURL}, nil
}

// RefreshKeys re-fetches the JWKS document, used when a kid lookup misses
// (key rotation may have happened since startup).
func (v *JWKSValidator) RefreshKeys() error {
	keySet, err := jwk.Fetch(context.Background(), v.jwksURL)
	if err != nil {
		return fmt.Errorf("refresh JWKS from %s: %w", v.jwksURL, err)
	}
	v.keySet = keySet
	return nil
}

// ValidateToken implements TokenValidator.
func (v *JWKSValidator) ValidateToken(tokenString string) (string, error) {
	unverified, _, err := new(jwt.Parser).ParseUnverified(tokenString, &StandardClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: parse header: %v", ErrInvalidToken, err)
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok {
		return "", fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	key, found := v.keySet.LookupKeyID(kid)
	if !found {
		if err := v.RefreshKeys(); err != nil {
			return "", fmt.Errorf("%w: key %s not found and refresh failed: %v", ErrInvalidToken, kid, err)
		}
		key, found = v.keySet.LookupKeyID(kid)
		if !found {
			return "", fmt.Errorf("%w: key %s not found after refresh", ErrInvalidToken, kid)
		}
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return "", fmt.Errorf("%w: decode key: %v", ErrInvalidToken, err)
	}

	validated, err := jwt.ParseWithClaims(tokenString, &StandardClaims{}, func(*jwt.Token) (interface{}, error) {
		return rawKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := validated.Claims.(*StandardClaims)
	if !ok || !validated.Valid {
		return "", ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(time.Now(), true) {
		return "", ErrExpiredToken
	}

	return userIDFromClaims(claims)
}
