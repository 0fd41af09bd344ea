package store

import (
	"sync"

	"github.com/sndnv/syn-server-core/internal/herrors"
)

// TokenTable is a per-target-component table of single-use
// authorization tokens: post enqueues one, verify_and_consume checks
// and removes it atomically so no token survives a successful check.
type TokenTable[T comparable] struct {
	mu     sync.Mutex
	tokens map[T]struct{}
}

func NewTokenTable[T comparable]() *TokenTable[T] {
	return &TokenTable[T]{tokens: make(map[T]struct{})}
}

// Post registers token as valid for one future verification.
func (t *TokenTable[T]) Post(token T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = struct{}{}
}

// VerifyAndConsume checks whether token is currently valid and, if
// so, removes it so it cannot be verified again.
func (t *TokenTable[T]) VerifyAndConsume(token T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tokens[token]; !ok {
		return herrors.ErrAuth
	}
	delete(t.tokens, token)
	return nil
}

// Clear empties the table.
func (t *TokenTable[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = make(map[T]struct{})
}
