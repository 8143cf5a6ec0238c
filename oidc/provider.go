// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Provider provides integration with a provider using the authorization code
// flow with PKCE. Creating a Provider makes no requests; the provider's
// endpoints are derived from its Config.
type Provider struct {
	config *Config
	oauth2 oauth2.Config
	client *http.Client
	logger hclog.Logger
}

// NewProvider creates and initializes a Provider.
// Supported options: WithLogger
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	authStyle := oauth2.AuthStyleInParams
	if c.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}
	return &Provider{
		config: c,
		oauth2: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: string(c.ClientSecret),
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthEndpoint(),
				TokenURL:  c.TokenEndpoint(),
				AuthStyle: authStyle,
			},
		},
		client: client,
		logger: opts.withLogger,
	}, nil
}

// Config returns the provider's configuration. It must not be modified.
func (p *Provider) Config() *Config { return p.config }

// HTTPClient returns the client the provider uses for its requests, so other
// components talking to the same provider (the JWKS key set) can share it.
func (p *Provider) HTTPClient() *http.Client { return p.client }

// AuthURL will generate a URL the caller can use to kick off an authorization
// code flow with the provider. The verifier's challenge and the state are
// included; the caller keeps the verifier and the state until the callback.
func (p *Provider) AuthURL(v CodeVerifier, state string) (string, error) {
	const op = "Provider.AuthURL"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if v.Method() != S256 {
		return "", fmt.Errorf("%s: %s: %w", op, v.Method(), ErrUnsupportedChallengeMethod)
	}
	return p.oauth2.AuthCodeURL(state, oauth2.S256ChallengeOption(v.Verifier())), nil
}

// Exchange will request tokens from the provider's token endpoint using the
// authorizationCode it received in the callback and the PKCE verifier of the
// same attempt. The request is bounded by the config's RequestTimeout and is
// never retried.
//
// A non-2xx response is returned as ErrTokenExchangeFailed, which also wraps
// the *oauth2.RetrieveError.
func (p *Provider) Exchange(ctx context.Context, authorizationCode string, v CodeVerifier) (*Token, error) {
	const op = "Provider.Exchange"
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if v == nil {
		return nil, fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	oauth2Token, err := p.oauth2.Exchange(HTTPClientContext(ctx, p.client), authorizationCode, oauth2.VerifierOption(v.Verifier()))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			p.logger.Error("token endpoint rejected the exchange", "op", op, "status", retrieveErr.Response.StatusCode, "body", string(retrieveErr.Body))
		} else {
			p.logger.Error("token exchange request failed", "op", op, "error", err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchangeFailed, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new token: %w", op, err)
	}
	p.logger.Debug("authorization code exchanged", "op", op, "expires_in", t.ExpiresIn())
	return t, nil
}

// providerOptions is the set of available options for Provider functions
type providerOptions struct {
	withLogger hclog.Logger
}

// providerDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
