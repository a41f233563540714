// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package provider

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidCode is returned when the provider rejects the authorization
	// code, or the code can never be valid (empty).
	ErrInvalidCode = errors.New("invalid authorization code")

	// ErrProviderUnavailable is returned when a provider call cannot complete:
	// transport failures, timeouts, cancellation, 5xx responses, or a token
	// response without an id_token.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidToken is returned when the provider does not accept the
	// id_token at its token info endpoint.
	ErrInvalidToken = errors.New("invalid id_token")
)
