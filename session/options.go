// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "time"

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

type issuerOptions struct {
	withIssuer     string
	withAccessTTL  time.Duration
	withRefreshTTL time.Duration
	withNow        func() time.Time
}

func issuerDefaults() issuerOptions {
	return issuerOptions{
		withIssuer:     DefaultIssuer,
		withAccessTTL:  DefaultAccessTTL,
		withRefreshTTL: DefaultRefreshTTL,
		withNow:        time.Now,
	}
}

func getIssuerOpts(opt ...Option) issuerOptions {
	opts := issuerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuer sets the iss claim of issued tokens.
func WithIssuer(iss string) Option {
	return func(o interface{}) {
		if o, ok := o.(*issuerOptions); ok {
			o.withIssuer = iss
		}
	}
}

// WithAccessTTL sets the lifetime of access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*issuerOptions); ok {
			o.withAccessTTL = d
		}
	}
}

// WithRefreshTTL sets the lifetime of refresh tokens.
func WithRefreshTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*issuerOptions); ok {
			o.withRefreshTTL = d
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*issuerOptions); ok && now != nil {
			o.withNow = now
		}
	}
}
