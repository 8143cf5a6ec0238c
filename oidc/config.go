// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultRequestTimeout bounds every request made to the provider: the
	// token exchange and the JWKS fetch.
	DefaultRequestTimeout = 10 * time.Second

	// ScopeOpenID is the mandatory scope for all OpenID Connect OAuth2 requests.
	ScopeOpenID = oidc.ScopeOpenID

	authorizePath = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"
	logoutPath    = "/logout"
	jwksPath      = "/.well-known/jwks.json"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{ScopeOpenID, "profile", "email"}

// Config represents the configuration for the authorization code flow (with
// PKCE) against a hosted-UI provider such as an AWS Cognito user pool.
type Config struct {
	// Region of the user pool, used to derive the issuer.
	Region string

	// UserPoolID identifies the user pool (tenant), used to derive the issuer.
	UserPoolID string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the optional relying party secret. Public clients
	// using PKCE don't have one.
	ClientSecret ClientSecret

	// Domain is the base URL of the provider's hosted UI, including the
	// scheme (https://auth.example.com).
	Domain string

	// RedirectURL is the registered callback URL.
	RedirectURL string

	// Scopes requested of the provider. The "openid" scope is required.
	Scopes []string

	// SupportedSigningAlgs is a list of supported id_token signing
	// algorithms: RS256, RS384, RS512
	SupportedSigningAlgs []Alg

	// Issuer overrides the issuer derived from Region and UserPoolID.
	Issuer string

	// JWKSURL overrides the JWKS URL derived from the issuer.
	JWKSURL string

	// LogoutRedirectURL is an optional URL the provider's hosted UI should
	// return to after signing out there.
	LogoutRedirectURL string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// RequestTimeout bounds requests to the provider.
	RequestTimeout time.Duration
}

// NewConfig composes a new config for a provider.
//
// Supported options:
//
//	WithClientSecret
//	WithScopes
//	WithSupportedSigningAlgs
//	WithIssuer
//	WithJWKSURL
//	WithLogoutRedirectURL
//	WithProviderCA
//	WithRequestTimeout
func NewConfig(region, userPoolID, clientID, domain, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Region:               region,
		UserPoolID:           userPoolID,
		ClientID:             clientID,
		ClientSecret:         opts.withClientSecret,
		Domain:               strings.TrimSuffix(domain, "/"),
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		Issuer:               opts.withIssuer,
		JWKSURL:              opts.withJWKSURL,
		LogoutRedirectURL:    opts.withLogoutRedirectURL,
		ProviderCA:           opts.withProviderCA,
		RequestTimeout:       opts.withRequestTimeout,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Every problem found is reported, not
// just the first one. It doesn't make any requests to the provider.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	invalid := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, a...), ErrInvalidParameter))
	}
	if c.ClientID == "" {
		invalid("client id is empty")
	}
	if c.Issuer == "" {
		if c.Region == "" {
			invalid("region is empty")
		}
		if c.UserPoolID == "" {
			invalid("user pool id is empty")
		}
	} else if err := validateURL(c.Issuer); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: issuer %q: %v: %w", op, c.Issuer, err, ErrInvalidIssuer))
	}
	if c.Domain == "" {
		invalid("domain is empty")
	} else if err := validateURL(c.Domain); err != nil {
		invalid("domain %q: %s", c.Domain, err)
	}
	if c.RedirectURL == "" {
		invalid("redirect URL is empty")
	} else if err := validateURL(c.RedirectURL); err != nil {
		invalid("redirect URL %q: %s", c.RedirectURL, err)
	}
	if c.JWKSURL != "" {
		if err := validateURL(c.JWKSURL); err != nil {
			invalid("jwks URL %q: %s", c.JWKSURL, err)
		}
	}
	if c.LogoutRedirectURL != "" {
		if err := validateURL(c.LogoutRedirectURL); err != nil {
			invalid("logout redirect URL %q: %s", c.LogoutRedirectURL, err)
		}
	}
	if !containsString(c.Scopes, ScopeOpenID) {
		invalid("scopes must include %q", ScopeOpenID)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		invalid("supported algorithms is empty")
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, a, ErrUnsupportedAlg))
		}
	}
	if c.RequestTimeout <= 0 {
		invalid("request timeout must be greater than zero")
	}
	if c.ProviderCA != "" {
		if ok := x509.NewCertPool().AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert))
		}
	}
	return errs.ErrorOrNil()
}

// IssuerURL returns the issuer every id_token must carry in its "iss" claim.
func (c *Config) IssuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// JWKSEndpoint returns the URL of the provider's published signing keys.
func (c *Config) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return strings.TrimSuffix(c.IssuerURL(), "/") + jwksPath
}

// AuthEndpoint returns the provider's authorization endpoint.
func (c *Config) AuthEndpoint() string { return c.Domain + authorizePath }

// TokenEndpoint returns the provider's token endpoint.
func (c *Config) TokenEndpoint() string { return c.Domain + tokenPath }

// LogoutURL returns the provider's hosted UI logout URL, which ends the
// provider's own session and then returns to returnTo. It returns an empty
// string when returnTo is empty.
func (c *Config) LogoutURL(returnTo string) string {
	if returnTo == "" {
		return ""
	}
	v := url.Values{}
	v.Set("client_id", c.ClientID)
	v.Set("logout_uri", returnTo)
	return c.Domain + logoutPath + "?" + v.Encode()
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured. The client trusts ProviderCA when one is set, and its
// overall timeout is RequestTimeout.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   c.RequestTimeout,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("scheme is not http or https")
	}
	if u.Host == "" {
		return errors.New("host is empty")
	}
	return nil
}

func containsString(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret         ClientSecret
	withScopes               []string
	withSupportedSigningAlgs []Alg
	withIssuer               string
	withJWKSURL              string
	withLogoutRedirectURL    string
	withProviderCA           string
	withRequestTimeout       time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withScopes:               append([]string(nil), DefaultScopes...),
		withSupportedSigningAlgs: []Alg{RS256},
		withRequestTimeout:       DefaultRequestTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for confidential clients
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithScopes provides an optional list of scopes for the provider's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of supported id_token
// signing algorithms for the provider's config
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithIssuer provides an optional issuer which overrides the one derived from
// the region and user pool id.
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithJWKSURL provides an optional JWKS URL which overrides the one derived
// from the issuer.
func WithJWKSURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSURL = u
		}
	}
}

// WithLogoutRedirectURL provides an optional URL the provider's hosted UI
// returns to after logout.
func WithLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogoutRedirectURL = u
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithRequestTimeout provides an optional timeout for requests made to the
// provider.
func WithRequestTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequestTimeout = d
		}
	}
}
