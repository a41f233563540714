// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package user

import (
	"context"
	"time"
)

// Role is an authorization role granted to a local user.
type Role string

const (
	// RoleUser is granted to every provisioned user.
	RoleUser Role = "USER"

	// ProviderGoogle is the default provider name recorded on users.
	ProviderGoogle = "GOOGLE"
)

// User is the local account bound to one external identity. It is created
// at most once per (Provider, ProviderID) and later logins resolve to the
// same record without changing it.
type User struct {
	ID            string
	Email         string
	Name          string
	Roles         []Role
	Provider      string
	ProviderID    string
	EmailVerified bool
	PictureURL    string

	// PasswordHash is a bcrypt hash of random bytes nobody knows, so the
	// account cannot be used with password login.
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleNames returns the user's roles as strings.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, string(r))
	}
	return names
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append([]Role(nil), u.Roles...)
	return &c
}

// Repository stores local users. Lookups that match nothing return
// ErrNotFound; a Create that would duplicate (Provider, ProviderID) or Email
// returns ErrAlreadyExists.
type Repository interface {
	FindByExternalIdentity(ctx context.Context, provider, providerID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
}
