// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package user

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNotFound is returned by a Repository when no user matches.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists is returned by a Repository when a create would
	// violate the uniqueness of (provider, provider id) or email.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrProvisioningFailed is returned by Provisioner.Resolve when a local
	// user cannot be found or created.
	ErrProvisioningFailed = errors.New("user provisioning failed")
)
