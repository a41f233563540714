// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import "errors"

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrInvalidCACert      = errors.New("invalid CA certificate")
	ErrInvalidRedirectURL = errors.New("invalid redirect URL")
)
