package auth

import "fmt"

// New selects a TokenValidator by kind ("hs256" or "jwks"), driven by the
// JWT_VALIDATOR_TYPE config value.
func New(kind, hs256Secret, jwksURL string) (TokenValidator, error) {
	switch kind {
	case "", "hs256":
		return NewHS256Validator(hs256Secret)
	case "jwks":
		return NewJWKSValidator(jwksURL)
	default:
		return nil, fmt.Errorf("auth: unknown validator type %q", kind)
	}
}
