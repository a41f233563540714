// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces state keys in redis.
	DefaultKeyPrefix = "oauth_state:"

	// stateMarker is the value stored for every issued state.
	stateMarker = "valid"
)

// RedisStore is a Store backed by redis. Expiry is delegated to redis key
// TTLs and Consume uses GETDEL, so a state can be consumed once across every
// process sharing the same redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// ensure that RedisStore implements the Store interface
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore using client.
// Supported options: WithTTL, WithKeyPrefix
func NewRedisStore(client redis.UniversalClient, opt ...Option) (*RedisStore, error) {
	const op = "state.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrNilParameter)
	}
	opts := getStoreOpts(opt...)
	if opts.withTTL < time.Second {
		return nil, fmt.Errorf("%s: ttl less than one second: %w", op, ErrInvalidParameter)
	}
	return &RedisStore{
		client: client,
		ttl:    opts.withTTL,
		prefix: opts.withKeyPrefix,
	}, nil
}

// Issue implements Store.Issue.
func (s *RedisStore) Issue(ctx context.Context) (string, error) {
	const op = "state.(RedisStore).Issue"
	token, err := NewToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(token), stateMarker, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%s: unable to store state: %w", op, err)
	}
	if !ok {
		// a 256 bit collision; treat it like any other store failure
		return "", fmt.Errorf("%s: state already exists: %w", op, ErrTokenGeneration)
	}
	return token, nil
}

// Consume implements Store.Consume.
func (s *RedisStore) Consume(ctx context.Context, token string) error {
	const op = "state.(RedisStore).Consume"
	if !validToken(token) {
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	v, err := s.client.GetDel(ctx, s.key(token)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	case err != nil:
		return fmt.Errorf("%s: unable to consume state: %w", op, err)
	case v != stateMarker:
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	return nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}
