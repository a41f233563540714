// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package user

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type provisionerOptions struct {
	withProviderName  string
	withNow           func() time.Time
	withLogger        hclog.Logger
	withEmailFallback bool
	withHashCost      int
	withTimeout       time.Duration
}

func provisionerDefaults() provisionerOptions {
	return provisionerOptions{
		withProviderName: ProviderGoogle,
		withNow:          time.Now,
		withLogger:       hclog.NewNullLogger(),
		withHashCost:     bcrypt.DefaultCost,
		withTimeout:      DefaultResolveTimeout,
	}
}

func getProvisionerOpts(opt ...Option) provisionerOptions {
	opts := provisionerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderName overrides the provider recorded on created users.
func WithProviderName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok {
			o.withProviderName = name
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithEmailFallback makes Resolve return an existing user with the same
// email when no user is bound to the external identity.
func WithEmailFallback() Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok {
			o.withEmailFallback = true
		}
	}
}

// WithPasswordHashCost sets the bcrypt cost of the placeholder password
// hash given to new users.
func WithPasswordHashCost(cost int) Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok {
			o.withHashCost = cost
		}
	}
}

// WithResolveTimeout overrides DefaultResolveTimeout.
func WithResolveTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*provisionerOptions); ok {
			o.withTimeout = d
		}
	}
}
