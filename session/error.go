// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidToken is returned by Parse for tokens that are malformed,
	// badly signed, or of the wrong use.
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token is expired")

	ErrIssueFailed = errors.New("unable to issue session credentials")
)
