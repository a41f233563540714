// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rplogin/config"
	"github.com/hashicorp/rplogin/identity"
	"github.com/hashicorp/rplogin/provider"
	"github.com/hashicorp/rplogin/session"
	"github.com/hashicorp/rplogin/state"
	"github.com/hashicorp/rplogin/user"
)

// Provider is the subset of *provider.Client the flow needs.
type Provider interface {
	AuthURL(state, redirectURL string) (string, error)
	Exchange(ctx context.Context, code, redirectURL string) (*provider.TokenSet, error)
	FetchIdentityClaims(ctx context.Context, idToken provider.IDToken) (provider.Claims, error)
}

// Validator is the subset of *identity.Validator the flow needs.
type Validator interface {
	Validate(claims map[string]interface{}) (*identity.ExternalIdentity, error)
	VerifyIDToken(ctx context.Context, rawIDToken string, introspected map[string]interface{}) error
}

// UserResolver maps an external identity to a local user.
type UserResolver interface {
	Resolve(ctx context.Context, id *identity.ExternalIdentity) (*user.User, error)
}

// CompleteRequest is the callback input of a login attempt.
type CompleteRequest struct {
	Code        string
	RedirectURL string
	State       string

	// ClientIP is only used in log lines.
	ClientIP string
}

// Outcome is the result of a completed login.
type Outcome struct {
	User         *user.User
	SessionToken session.Token
	RefreshToken session.Token
	TokenType    string

	// ExpiresIn is the session token lifetime in seconds.
	ExpiresIn int64
}

// Flow drives the authorization code login: BeginLogin hands out a
// provider URL bound to a fresh state and CompleteLogin turns the callback
// into a local user with session credentials.
type Flow struct {
	config    *config.Config
	states    state.Store
	provider  Provider
	validator Validator
	users     UserResolver
	sessions  session.Issuer
	logger    hclog.Logger
}

// NewFlow creates a Flow from its collaborators, none of which may be nil.
// Supported options: WithLogger
func NewFlow(c *config.Config, states state.Store, p Provider, v Validator, users UserResolver, sessions session.Issuer, opt ...Option) (*Flow, error) {
	const op = "login.NewFlow"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case states == nil:
		return nil, fmt.Errorf("%s: state store is nil: %w", op, ErrNilParameter)
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	case v == nil:
		return nil, fmt.Errorf("%s: validator is nil: %w", op, ErrNilParameter)
	case users == nil:
		return nil, fmt.Errorf("%s: user resolver is nil: %w", op, ErrNilParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session issuer is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getFlowOpts(opt...)
	return &Flow{
		config:    c,
		states:    states,
		provider:  p,
		validator: v,
		users:     users,
		sessions:  sessions,
		logger:    opts.withLogger,
	}, nil
}

// BeginLogin returns the provider authorization URL for a new login
// attempt. An empty redirectURL selects the configured default.
func (f *Flow) BeginLogin(ctx context.Context, redirectURL string) (authURL string, retErr error) {
	const op = "login.(Flow).BeginLogin"
	defer f.recoverPanic(op, &retErr)

	if redirectURL == "" {
		redirectURL = f.config.DefaultRedirectURL
	}
	if err := f.config.CheckRedirectURL(redirectURL); err != nil {
		f.logger.Warn("login rejected", "op", op, "kind", InvalidRequest.String(), "reason", "redirect URL")
		return "", newError(op, InvalidRequest, err)
	}

	st, err := f.states.Issue(ctx)
	if err != nil {
		f.logger.Error("unable to issue state", "op", op, "error", err)
		return "", newError(op, ProviderUnavailable, err)
	}

	u, err := f.provider.AuthURL(st, redirectURL)
	if err != nil {
		k := Unclassified
		if errors.Is(err, provider.ErrInvalidParameter) {
			k = InvalidRequest
		}
		return "", newError(op, k, err)
	}
	f.logger.Debug("login started")
	return u, nil
}

// CompleteLogin finishes a login attempt. The state is consumed before any
// provider call is made, so a replayed or forged callback never reaches the
// provider. Failures short-circuit and are never retried.
func (f *Flow) CompleteLogin(ctx context.Context, req CompleteRequest) (out *Outcome, retErr error) {
	const op = "login.(Flow).CompleteLogin"
	defer f.recoverPanic(op, &retErr)

	logger := f.logger.With("client_ip", req.ClientIP)
	fail := func(k Kind, err error) (*Outcome, error) {
		logger.Warn("login failed", "op", op, "kind", k.String())
		return nil, newError(op, k, err)
	}

	if k, err := f.checkRequest(req); err != nil {
		return fail(k, err)
	}

	if err := f.states.Consume(ctx, req.State); err != nil {
		if errors.Is(err, state.ErrInvalidState) {
			return fail(InvalidState, err)
		}
		logger.Error("unable to consume state", "op", op, "error", err)
		return fail(Unclassified, err)
	}

	// Start -> CodeExchanged
	tokens, err := f.provider.Exchange(ctx, req.Code, req.RedirectURL)
	if err != nil {
		return fail(exchangeKind(err), err)
	}

	// CodeExchanged -> IdentityFetched
	claims, err := f.provider.FetchIdentityClaims(ctx, tokens.IDToken)
	if err != nil {
		k := InvalidToken
		if errors.Is(err, provider.ErrProviderUnavailable) {
			k = ProviderUnavailable
		}
		return fail(k, err)
	}

	// IdentityFetched -> IdentityValidated
	ext, err := f.validator.Validate(claims)
	if err != nil {
		return fail(identityKind(err), err)
	}
	if err := f.validator.VerifyIDToken(ctx, string(tokens.IDToken), claims); err != nil {
		return fail(identityKind(err), err)
	}
	logger = logger.With("email", MaskEmail(ext.Email))

	// IdentityValidated -> UserResolved
	u, err := f.users.Resolve(ctx, ext)
	if err != nil {
		return fail(ProvisioningFailed, err)
	}

	// UserResolved -> SessionIssued
	creds, err := f.sessions.Issue(ctx, u.Email, u.RoleNames())
	if err != nil {
		logger.Error("unable to issue session", "op", op, "user_id", u.ID, "error", err)
		return fail(Unclassified, err)
	}

	logger.Info("login completed", "user_id", u.ID)
	return &Outcome{
		User:         u,
		SessionToken: creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		ExpiresIn:    creds.ExpiresIn,
	}, nil
}

// checkRequest bounds the inbound fields before anything is consumed.
func (f *Flow) checkRequest(req CompleteRequest) (Kind, error) {
	switch {
	case strings.TrimSpace(req.State) == "":
		return InvalidState, fmt.Errorf("state is empty: %w", state.ErrInvalidState)
	case len(req.State) > state.MaxTokenLength:
		return InvalidState, fmt.Errorf("state longer than %d characters: %w", state.MaxTokenLength, state.ErrInvalidState)
	case strings.TrimSpace(req.Code) == "":
		return InvalidRequest, fmt.Errorf("code is empty: %w", ErrInvalidParameter)
	case len(req.Code) > provider.MaxCodeLength:
		return InvalidRequest, fmt.Errorf("code longer than %d characters: %w", provider.MaxCodeLength, ErrInvalidParameter)
	}
	if err := f.config.CheckRedirectURL(req.RedirectURL); err != nil {
		return InvalidRequest, err
	}
	return Unclassified, nil
}

// recoverPanic turns a panic raised by a collaborator into an Unclassified
// error. The panic value is not logged since it may hold request data.
func (f *Flow) recoverPanic(op string, retErr *error) {
	if r := recover(); r != nil {
		f.logger.Error("recovered from panic", "op", op, "panic_type", fmt.Sprintf("%T", r))
		*retErr = newError(op, Unclassified, errors.New("internal error"))
	}
}

func exchangeKind(err error) Kind {
	switch {
	case errors.Is(err, provider.ErrInvalidCode):
		return InvalidCode
	case errors.Is(err, provider.ErrProviderUnavailable):
		return ProviderUnavailable
	case errors.Is(err, provider.ErrInvalidParameter):
		return InvalidRequest
	default:
		return Unclassified
	}
}

func identityKind(err error) Kind {
	switch {
	case errors.Is(err, identity.ErrInvalidAudience):
		return InvalidAudience
	case errors.Is(err, identity.ErrTokenExpired):
		return TokenExpired
	default:
		return InvalidToken
	}
}

// MaskEmail hides the local part of email past its first two characters,
// for log lines. Short or malformed values are fully masked.
func MaskEmail(email string) string {
	const mask = "***"
	if utf8.RuneCountInString(email) < 3 {
		return mask
	}
	at := strings.Index(email, "@")
	if at < 0 {
		return mask
	}
	local := []rune(email[:at])
	if len(local) <= 1 {
		return mask
	}
	return string(local[:2]) + mask + email[at:]
}
