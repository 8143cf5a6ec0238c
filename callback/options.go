// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultLoginURL is where failed logins are sent.
	DefaultLoginURL = "/login"

	// DefaultLandingURL is where successful logins are sent.
	DefaultLandingURL = "/guitars"

	// DefaultSignedOutURL is where a sign-out ends when there's no provider
	// logout to go through.
	DefaultSignedOutURL = "/"

	// DefaultMaxSessionLifetime caps the lifetime of a session.
	DefaultMaxSessionLifetime = time.Hour
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

// authenticatorOptions is the set of available options for an Authenticator
type authenticatorOptions struct {
	withLoginURL           string
	withLandingURL         string
	withSignedOutURL       string
	withProviderLogoutURL  string
	withMaxSessionLifetime time.Duration
	withSecureCookies      bool
	withLogger             hclog.Logger
	withNowFunc            func() time.Time
}

// authenticatorDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{
		withLoginURL:           DefaultLoginURL,
		withLandingURL:         DefaultLandingURL,
		withSignedOutURL:       DefaultSignedOutURL,
		withMaxSessionLifetime: DefaultMaxSessionLifetime,
		withLogger:             hclog.NewNullLogger(),
		withNowFunc:            time.Now,
	}
}

// getAuthenticatorOpts gets the defaults and applies the opt overrides passed
// in.
func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLoginURL provides the location failed logins are redirected to, with an
// "error" query parameter carrying the Reason.
func WithLoginURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withLoginURL = u
		}
	}
}

// WithLandingURL provides the location successful logins are redirected to.
func WithLandingURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withLandingURL = u
		}
	}
}

// WithSignedOutURL provides the location SignOutHandler redirects to when no
// provider logout URL is configured.
func WithSignedOutURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withSignedOutURL = u
		}
	}
}

// WithProviderLogoutURL provides the provider's logout URL (see
// oidc.Config.LogoutURL). SignOutHandler redirects there to end the provider's
// session as well.
func WithProviderLogoutURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withProviderLogoutURL = u
		}
	}
}

// WithMaxSessionLifetime caps the lifetime of sessions. Defaults to an hour.
func WithMaxSessionLifetime(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withMaxSessionLifetime = d
		}
	}
}

// WithSecureCookies marks every cookie written as Secure. Production
// deployments served over https must set it.
func WithSecureCookies(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withSecureCookies = secure
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
