// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-uuid"
)

const (
	// DefaultIssuer is the iss claim of issued tokens.
	DefaultIssuer = "rplogin"

	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// MinSigningKeyLength is the shortest HMAC key NewJWTIssuer accepts.
	MinSigningKeyLength = 32

	// TokenTypeBearer is the only token type issued.
	TokenTypeBearer = "Bearer"

	useAccess  = "access"
	useRefresh = "refresh"
)

// Token is a signed session credential.
type Token string

// RedactedToken is the redacted string or json for a session Token
const RedactedToken = "[REDACTED: session token]"

// String will redact the token
func (t Token) String() string {
	return RedactedToken
}

// MarshalJSON will redact the token
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedToken)
}

// Credentials are the session tokens handed to a logged in user.
type Credentials struct {
	AccessToken  Token
	RefreshToken Token
	TokenType    string

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	ExpiresAt time.Time
}

// Issuer issues session credentials for a subject and its roles.
type Issuer interface {
	Issue(ctx context.Context, subject string, roles []string) (*Credentials, error)
}

// Claims are the verified contents of a session token.
type Claims struct {
	ID        string
	Subject   string
	Roles     []string
	Refresh   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
	Use   string   `json:"use"`
}

// JWTIssuer issues HS256 signed JWT access and refresh tokens.
type JWTIssuer struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ Issuer = (*JWTIssuer)(nil)

// NewJWTIssuer creates a JWTIssuer signing with key.
// Supported options: WithIssuer, WithAccessTTL, WithRefreshTTL, WithNow
func NewJWTIssuer(key []byte, opt ...Option) (*JWTIssuer, error) {
	const op = "session.NewJWTIssuer"
	if len(key) < MinSigningKeyLength {
		return nil, fmt.Errorf("%s: signing key must be at least %d bytes: %w", op, MinSigningKeyLength, ErrInvalidParameter)
	}
	opts := getIssuerOpts(opt...)
	switch {
	case strings.TrimSpace(opts.withIssuer) == "":
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	case opts.withAccessTTL <= 0:
		return nil, fmt.Errorf("%s: access ttl must be positive: %w", op, ErrInvalidParameter)
	case opts.withRefreshTTL < opts.withAccessTTL:
		return nil, fmt.Errorf("%s: refresh ttl must not be shorter than access ttl: %w", op, ErrInvalidParameter)
	}
	return &JWTIssuer{
		key:        append([]byte(nil), key...),
		issuer:     opts.withIssuer,
		accessTTL:  opts.withAccessTTL,
		refreshTTL: opts.withRefreshTTL,
		now:        opts.withNow,
	}, nil
}

// Issue returns an access token and a refresh token for subject.
func (i *JWTIssuer) Issue(_ context.Context, subject string, roles []string) (*Credentials, error) {
	const op = "session.(JWTIssuer).Issue"
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	now := i.now()
	access, accessExp, err := i.sign(now, subject, roles, useAccess, i.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: access token: %w: %w", op, ErrIssueFailed, err)
	}
	refresh, _, err := i.sign(now, subject, nil, useRefresh, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: refresh token: %w: %w", op, ErrIssueFailed, err)
	}
	return &Credentials{
		AccessToken:  Token(access),
		RefreshToken: Token(refresh),
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(i.accessTTL / time.Second),
		ExpiresAt:    accessExp,
	}, nil
}

func (i *JWTIssuer) sign(now time.Time, subject string, roles []string, use string, ttl time.Duration) (string, time.Time, error) {
	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: roles,
		Use:   use,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies raw and returns its claims. Expired tokens are
// ErrTokenExpired; anything else that fails is ErrInvalidToken.
func (i *JWTIssuer) Parse(raw string) (*Claims, error) {
	const op = "session.(JWTIssuer).Parse"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidToken)
	}
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	if parsed.Use != useAccess && parsed.Use != useRefresh {
		return nil, fmt.Errorf("%s: unknown token use: %w", op, ErrInvalidToken)
	}

	c := &Claims{
		ID:        parsed.ID,
		Subject:   parsed.Subject,
		Roles:     parsed.Roles,
		Refresh:   parsed.Use == useRefresh,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		c.IssuedAt = parsed.IssuedAt.Time
	}
	return c, nil
}
