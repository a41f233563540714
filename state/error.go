// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidState is returned for any state that cannot be consumed:
	// unknown, expired, or already used. Callers cannot tell these apart.
	ErrInvalidState = errors.New("invalid state")

	ErrTokenGeneration = errors.New("state token generation failed")
)
