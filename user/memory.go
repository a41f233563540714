// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package user

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryRepository is a Repository held in process memory. Users are
// unique on (provider, provider id) and on case-insensitive email.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*User
	byExternal map[string]string
	byEmail    map[string]string
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       map[string]*User{},
		byExternal: map[string]string{},
		byEmail:    map[string]string{},
	}
}

// FindByExternalIdentity returns a copy of the user bound to
// (provider, providerID).
func (r *MemoryRepository) FindByExternalIdentity(_ context.Context, provider, providerID string) (*User, error) {
	const op = "user.(MemoryRepository).FindByExternalIdentity"
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byExternal[externalKey(provider, providerID)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

// FindByEmail returns a copy of the user with email.
func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	const op = "user.(MemoryRepository).FindByEmail"
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

// Create stores a copy of u.
func (r *MemoryRepository) Create(_ context.Context, u *User) error {
	const op = "user.(MemoryRepository).Create"
	if u == nil {
		return fmt.Errorf("%s: user is nil: %w", op, ErrNilParameter)
	}
	if u.ID == "" || u.Provider == "" || u.ProviderID == "" || u.Email == "" {
		return fmt.Errorf("%s: id, provider, provider id and email are required: %w", op, ErrInvalidParameter)
	}
	ext, email := externalKey(u.Provider, u.ProviderID), strings.ToLower(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("%s: id: %w", op, ErrAlreadyExists)
	}
	if _, ok := r.byExternal[ext]; ok {
		return fmt.Errorf("%s: external identity: %w", op, ErrAlreadyExists)
	}
	if _, ok := r.byEmail[email]; ok {
		return fmt.Errorf("%s: email: %w", op, ErrAlreadyExists)
	}
	r.byID[u.ID] = u.Clone()
	r.byExternal[ext] = u.ID
	r.byEmail[email] = u.ID
	return nil
}

// Len returns the number of stored users.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func externalKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}
