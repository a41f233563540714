// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidToken is returned when the claims are malformed or a required
	// claim (sub, email, exp) is missing.
	ErrInvalidToken = errors.New("invalid id_token")

	// ErrInvalidAudience is returned when the token was not issued for the
	// configured client.
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrTokenExpired is returned when exp is not after the current time.
	ErrTokenExpired = errors.New("id_token is expired")

	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidSignature = errors.New("invalid signature")
)
