// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package login

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// Kind is the caller-facing category of a failed login.
type Kind int

const (
	Unclassified Kind = iota
	InvalidRequest
	InvalidState
	InvalidCode
	ProviderUnavailable
	InvalidToken
	InvalidAudience
	TokenExpired
	ProvisioningFailed
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case InvalidState:
		return "invalid_state"
	case InvalidCode:
		return "invalid_code"
	case ProviderUnavailable:
		return "provider_unavailable"
	case InvalidToken:
		return "invalid_token"
	case InvalidAudience:
		return "invalid_audience"
	case TokenExpired:
		return "token_expired"
	case ProvisioningFailed:
		return "provisioning_failed"
	default:
		return "unclassified"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case InvalidRequest, InvalidState, InvalidCode:
		return http.StatusBadRequest
	case ProviderUnavailable:
		return http.StatusServiceUnavailable
	case InvalidToken, InvalidAudience, TokenExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text that may be shown to the end user. It never
// carries detail about the underlying failure.
func (k Kind) Message() string {
	switch k {
	case InvalidRequest, InvalidState:
		return "invalid request"
	case InvalidCode:
		return "invalid authorization code"
	case ProviderUnavailable, InvalidToken, InvalidAudience, TokenExpired:
		return "authentication failed"
	case ProvisioningFailed:
		return "failed to create user account"
	default:
		return "internal server error"
	}
}

// Error is returned by every failed Flow operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or Unclassified when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unclassified
}

func newError(op string, k Kind, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}
