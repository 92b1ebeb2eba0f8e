// Package completion implements the opaque completion token that
// authorizes exactly-one closure of a streaming bus.
package completion

import (
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"
)

// ErrOwnership is raised whenever a caller presents a token that does not
// match the one minted for the bus, or when the bus has already closed
// under a different token. It is a programming error: it is logged at
// ERROR and the workflow continues rather than tearing down the stream.
// Carries codes.PermissionDenied so callers can map it to an error kind via
// apierr.KindFromGRPC without string-matching the message.
var ErrOwnership = status.Error(codes.PermissionDenied, "completion: ownership violation")

// Token is an opaque handle. It carries no exported fields; equality is
// by reference (pointer identity) only — two tokens minted for different
// buses are never interchangeable, and the zero value never equals a
// minted token.
type Token struct {
	id string
}

// Minter mints exactly one token per bus instance and tracks whether it has
// already been spent. It is embedded by the bus rather than used standalone.
type Minter struct {
	token *Token
	closed atomic.Bool
}

// NewMinter creates a minter and mints its single token.
func NewMinter() *Minter {
	return &Minter{token: &Token{id: uuid.NewString()}}
}

// CreateToken returns the minted token; every call returns the same token.
func (m *Minter) CreateToken() *Token {
	return m.token
}

// Closed reports whether SignalCompletion has already succeeded.
func (m *Minter) Closed() bool {
	return m.closed.Load()
}

// SignalCompletion validates tok against the minted token and, on the first
// successful call, flips the minter to closed and returns true so the
// caller knows it is responsible for closing out the bus. Idempotent:
// repeated calls with the matching token are no-ops returning false.
// Calls with a wrong or absent token return ErrOwnership and never close
// the bus.
func (m *Minter) SignalCompletion(tok *Token) (firstClose bool, err error) {
	if tok == nil || tok != m.token {
		return false, ErrOwnership
	}
	return m.closed.CompareAndSwap(false, true), nil
}
