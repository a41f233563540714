// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

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

type validatorOptions struct {
	withNow     func() time.Time
	withIssuers []string
	withKeySet  KeySet
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withNow: time.Now,
	}
}

func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithIssuers restricts the accepted iss claim to the given values. Without
// it any issuer is accepted.
func WithIssuers(issuers []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.withIssuers = issuers
		}
	}
}

// WithKeySet enables local id_token signature verification in
// Validator.VerifyIDToken.
func WithKeySet(ks KeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.withKeySet = ks
		}
	}
}
