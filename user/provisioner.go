// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/hashicorp/rplogin/identity"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
)

// placeholderPasswordBytes is the amount of randomness hashed into a new
// user's unusable password.
const placeholderPasswordBytes = 32

// DefaultResolveTimeout bounds the repository work of one Resolve flight.
const DefaultResolveTimeout = 10 * time.Second

// Provisioner maps a validated external identity to a local user, creating
// the user on first login.
type Provisioner struct {
	repo          Repository
	provider      string
	emailFallback bool
	hashCost      int
	timeout       time.Duration
	now           func() time.Time
	logger        hclog.Logger
	group         singleflight.Group
}

// NewProvisioner creates a Provisioner backed by repo.
// Supported options: WithProviderName, WithNow, WithLogger,
// WithEmailFallback, WithPasswordHashCost, WithResolveTimeout
func NewProvisioner(repo Repository, opt ...Option) (*Provisioner, error) {
	const op = "user.NewProvisioner"
	if repo == nil {
		return nil, fmt.Errorf("%s: repository is nil: %w", op, ErrNilParameter)
	}
	opts := getProvisionerOpts(opt...)
	if strings.TrimSpace(opts.withProviderName) == "" {
		return nil, fmt.Errorf("%s: provider name is empty: %w", op, ErrInvalidParameter)
	}
	if opts.withHashCost < bcrypt.MinCost || opts.withHashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%s: password hash cost %d is out of range: %w", op, opts.withHashCost, ErrInvalidParameter)
	}
	if opts.withTimeout <= 0 {
		return nil, fmt.Errorf("%s: resolve timeout not greater than zero: %w", op, ErrInvalidParameter)
	}
	return &Provisioner{
		repo:          repo,
		provider:      opts.withProviderName,
		emailFallback: opts.withEmailFallback,
		hashCost:      opts.withHashCost,
		timeout:       opts.withTimeout,
		now:           opts.withNow,
		logger:        opts.withLogger,
	}, nil
}

// Resolve returns the local user bound to id, creating one with the USER
// role when none exists. Concurrent calls for the same subject in this
// process share one lookup; across processes the repository's uniqueness
// rule decides the winner and the loser re-reads it. Every failure is
// reported as ErrProvisioningFailed.
//
// The shared lookup is not bound to any one caller's cancellation. It runs
// under the provisioner's resolve timeout, and a caller whose ctx ends stops
// waiting without failing the others.
func (p *Provisioner) Resolve(ctx context.Context, id *identity.ExternalIdentity) (*User, error) {
	const op = "user.(Provisioner).Resolve"
	switch {
	case id == nil:
		return nil, fmt.Errorf("%s: identity is nil: %w", op, ErrProvisioningFailed)
	case strings.TrimSpace(id.Email) == "":
		return nil, fmt.Errorf("%s: identity has no email: %w", op, ErrProvisioningFailed)
	case strings.TrimSpace(id.Subject) == "":
		return nil, fmt.Errorf("%s: identity has no subject: %w", op, ErrProvisioningFailed)
	}

	ch := p.group.DoChan(externalKey(p.provider, id.Subject), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.resolve(flightCtx, id)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProvisioningFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		// callers sharing a flight must not share a pointer
		return res.Val.(*User).Clone(), nil
	}
}

func (p *Provisioner) resolve(ctx context.Context, id *identity.ExternalIdentity) (*User, error) {
	u, err := p.repo.FindByExternalIdentity(ctx, p.provider, id.Subject)
	switch {
	case err == nil:
		return u, nil
	case !errors.Is(err, ErrNotFound):
		p.logger.Error("unable to look up user by external identity", "provider", p.provider, "error", err)
		return nil, fmt.Errorf("lookup by external identity: %w: %w", ErrProvisioningFailed, err)
	}

	if p.emailFallback {
		u, err := p.repo.FindByEmail(ctx, id.Email)
		switch {
		case err == nil:
			p.logger.Debug("resolved user by email", "user_id", u.ID, "provider", p.provider)
			return u, nil
		case !errors.Is(err, ErrNotFound):
			p.logger.Error("unable to look up user by email", "provider", p.provider, "error", err)
			return nil, fmt.Errorf("lookup by email: %w: %w", ErrProvisioningFailed, err)
		}
	}

	u, err = p.newUser(id)
	if err != nil {
		p.logger.Error("unable to build user", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	err = p.repo.Create(ctx, u)
	switch {
	case err == nil:
		p.logger.Info("created user", "user_id", u.ID, "provider", p.provider)
		return u, nil
	case errors.Is(err, ErrAlreadyExists):
		// another process won the race; its row is the answer
		winner, findErr := p.repo.FindByExternalIdentity(ctx, p.provider, id.Subject)
		if findErr == nil {
			return winner, nil
		}
		p.logger.Error("user exists but is not bound to this identity", "provider", p.provider, "error", findErr)
		return nil, fmt.Errorf("create: %w: %w", ErrProvisioningFailed, err)
	default:
		p.logger.Error("unable to create user", "provider", p.provider, "error", err)
		return nil, fmt.Errorf("create: %w: %w", ErrProvisioningFailed, err)
	}
}

func (p *Provisioner) newUser(id *identity.ExternalIdentity) (*User, error) {
	userID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("unable to generate user id: %w", err)
	}
	secret, err := uuid.GenerateRandomBytes(placeholderPasswordBytes)
	if err != nil {
		return nil, fmt.Errorf("unable to generate placeholder password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(secret, p.hashCost)
	if err != nil {
		return nil, fmt.Errorf("unable to hash placeholder password: %w", err)
	}
	name := strings.TrimSpace(id.DisplayName)
	if name == "" {
		name = id.Email
	}
	now := p.now()
	return &User{
		ID:            userID,
		Email:         id.Email,
		Name:          name,
		Roles:         []Role{RoleUser},
		Provider:      p.provider,
		ProviderID:    id.Subject,
		EmailVerified: id.EmailVerified,
		PictureURL:    id.PictureURL,
		PasswordHash:  string(hash),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
