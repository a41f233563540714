// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

const (
	// DefaultTTL is the lifetime of an issued state.
	DefaultTTL = 10 * time.Minute

	// TokenBytes is the number of random bytes in a state token.
	TokenBytes = 32

	// MaxTokenLength is the longest state value accepted by Consume.
	MaxTokenLength = 100
)

// Store binds CSRF state tokens to pending logins. Implementations must be
// safe for concurrent use, and Consume must be atomic: of any number of
// concurrent consumers of the same token, exactly one succeeds.
type Store interface {
	// Issue generates a new state token and records it with the store's TTL.
	Issue(ctx context.Context) (string, error)

	// Consume invalidates the token and returns nil if it was issued and not
	// yet expired or consumed. Otherwise it returns ErrInvalidState.
	Consume(ctx context.Context, token string) error
}

// PendingLogin is the record kept for an issued state.
type PendingLogin struct {
	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the pending login is expired at now.
func (p PendingLogin) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// NewToken returns a url-safe token with TokenBytes of entropy.
func NewToken() (string, error) {
	const op = "state.NewToken"
	b, err := uuid.GenerateRandomBytes(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validToken(token string) bool {
	return token != "" && len(token) <= MaxTokenLength
}
