// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type keySetOptions struct {
	withHTTPClient   *http.Client
	withFetchTimeout time.Duration
	withLogger       hclog.Logger
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withFetchTimeout: DefaultFetchTimeout,
		withLogger:       hclog.NewNullLogger(),
	}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithHTTPClient provides the http client used to fetch a JWKS.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			v.withHTTPClient = c
		}
	}
}

// WithFetchTimeout bounds each JWKS request.
func WithFetchTimeout(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			v.withFetchTimeout = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			if l != nil {
				v.withLogger = l
			}
		}
	}
}
