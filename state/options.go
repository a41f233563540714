// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

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

type storeOptions struct {
	withTTL       time.Duration
	withNow       func() time.Time
	withKeyPrefix string
}

func storeDefaults() storeOptions {
	return storeOptions{
		withTTL:       DefaultTTL,
		withNow:       time.Now,
		withKeyPrefix: DefaultKeyPrefix,
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTTL overrides DefaultTTL for a store.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withTTL = d
		}
	}
}

// WithNow provides an optional func for determining the current time.
// Supported by MemoryStore.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix. Supported by RedisStore.
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withKeyPrefix = prefix
		}
	}
}
