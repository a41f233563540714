// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

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

// configOptions is the set of available options
type configOptions struct {
	withAllowedRedirectURLs []string
	withScopes              []string
	withIssuers             []string
	withJWKSURL             string
	withJWKSPublicKeys      []string
	withProviderCA          string
	withRequestTimeout      time.Duration
	withStateTTL            time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	scopes := make([]string, len(DefaultScopes))
	copy(scopes, DefaultScopes)
	return configOptions{
		withScopes:         scopes,
		withRequestTimeout: DefaultRequestTimeout,
		withStateTTL:       DefaultStateTTL,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAllowedRedirectURLs provides additional registered redirect URLs.
func WithAllowedRedirectURLs(urls []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAllowedRedirectURLs = urls
		}
	}
}

// WithScopes provides an optional list of scopes which replaces DefaultScopes.
func WithScopes(scopes []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithIssuers provides an optional list of trusted issuers.
func WithIssuers(issuers []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuers = issuers
		}
	}
}

// WithJWKSURL enables local id_token signature verification using the keys
// published at jwksURL.
func WithJWKSURL(jwksURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSURL = jwksURL
		}
	}
}

// WithJWKSPublicKeys enables local id_token signature verification using
// the given PEM-encoded public keys.
func WithJWKSPublicKeys(keys []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSPublicKeys = keys
		}
	}
}

// WithProviderCA provides an optional CA cert for requests to the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequestTimeout = d
		}
	}
}

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStateTTL = d
		}
	}
}
