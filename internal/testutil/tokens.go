// Package testutil provides deterministic collaborators for harness runs
// and tests: a counting token source and the stock two-device setup.
package testutil

import (
	"fmt"
	"sync"
)

// TokenCounter mints journal tokens from a monotonic counter instead of
// random UUIDs.
//
// The same scenario with the same TokenCounter produces a byte-identical
// ledger, which is what golden comparison and replay round-trips need.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type TokenCounter struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewTokenCounter creates a counting token source.
//
// If prefix is empty, tokens are minted as "tok-000001", "tok-000002", ...
func NewTokenCounter(prefix string) *TokenCounter {
	if prefix == "" {
		prefix = "tok"
	}
	return &TokenCounter{prefix: prefix}
}

// NewToken increments the counter and returns the next token.
//
// Implements devmem.TokenSource.
func (t *TokenCounter) NewToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	return fmt.Sprintf("%s-%06d", t.prefix, t.n)
}

// Reset rewinds the counter to 0.
//
// Used for scenario reuse. After Reset(), the next token is "<prefix>-000001".
func (t *TokenCounter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n = 0
}
