// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import "github.com/hashicorp/go-hclog"

// DefaultMaxBodyBytes bounds the size of a callback request body.
const DefaultMaxBodyBytes = 16 * 1024

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

type handlerOptions struct {
	withLogger       hclog.Logger
	withMaxBodyBytes int64
}

func handlerDefaults() handlerOptions {
	return handlerOptions{
		withLogger:       hclog.NewNullLogger(),
		withMaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func getHandlerOpts(opt ...Option) handlerOptions {
	opts := handlerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the handlers.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && n > 0 {
			o.withMaxBodyBytes = n
		}
	}
}
