// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Entries are keyed by the SHA-256 digest
// of the token, so map lookups never operate on the caller supplied value.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[[sha256.Size]byte]PendingLogin
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// ensure that MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore.
// Supported options: WithTTL, WithNow
func NewMemoryStore(opt ...Option) (*MemoryStore, error) {
	const op = "state.NewMemoryStore"
	opts := getStoreOpts(opt...)
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	return &MemoryStore{
		entries: make(map[[sha256.Size]byte]PendingLogin),
		ttl:     opts.withTTL,
		now:     opts.withNow,
	}, nil
}

// Issue implements Store.Issue.
func (s *MemoryStore) Issue(_ context.Context) (string, error) {
	const op = "state.(MemoryStore).Issue"
	token, err := NewToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) >= s.ttl {
		s.sweepLocked(now)
	}
	s.entries[sha256.Sum256([]byte(token))] = PendingLogin{
		State:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	return token, nil
}

// Consume implements Store.Consume. The entry is removed whether or not it
// had expired.
func (s *MemoryStore) Consume(_ context.Context, token string) error {
	const op = "state.(MemoryStore).Consume"
	if !validToken(token) {
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	key := sha256.Sum256([]byte(token))
	now := s.now()

	s.mu.Lock()
	p, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok || p.IsExpired(now) {
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	return nil
}

// Len returns the number of entries currently held, including expired
// entries that have not been swept yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes every expired entry.
func (s *MemoryStore) Sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, p := range s.entries {
		if p.IsExpired(now) {
			delete(s.entries, k)
		}
	}
	s.lastSweep = now
}
