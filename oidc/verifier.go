// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gearshelf/idpauth/jwt"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/square/go-jose.v2"
)

// Claims are the identity claims taken from a verified id_token.
type Claims struct {
	Subject  string
	Email    string
	Username string
	Groups   []string
	Issuer   string
	Audience []string
	Expiry   time.Time
}

// Role returns the first group the user belongs to, or an empty string.
func (c *Claims) Role() string {
	if len(c.Groups) == 0 {
		return ""
	}
	return c.Groups[0]
}

// idTokenClaims are the claims of interest beyond the standard ones go-oidc
// already decodes.
type idTokenClaims struct {
	Email             string   `json:"email"`
	CognitoUsername   string   `json:"cognito:username"`
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"cognito:groups"`
}

// IDTokenVerifier verifies id_tokens issued by a provider: their signature
// against the provider's KeySet, their algorithm, issuer, audience and expiry.
type IDTokenVerifier struct {
	keys     jwt.KeySet
	issuer   string
	audience string
	algs     []string
	now      func() time.Time
	logger   hclog.Logger
}

// NewIDTokenVerifier creates a verifier for id_tokens issued by issuer to
// audience (the client id). The issuer is compared with the "iss" claim by
// exact string equality.
// Supported options: WithSupportedAlgs, WithNow, WithLogger
func NewIDTokenVerifier(keys jwt.KeySet, issuer, audience string, opt ...Option) (*IDTokenVerifier, error) {
	const op = "oidc.NewIDTokenVerifier"
	switch {
	case keys == nil:
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	case issuer == "":
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer)
	case audience == "":
		return nil, fmt.Errorf("%s: audience is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifierOpts(opt...)
	if len(opts.withSupportedAlgs) == 0 {
		return nil, fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(opts.withSupportedAlgs))
	for _, a := range opts.withSupportedAlgs {
		if !supportedAlgorithms[a] {
			return nil, fmt.Errorf("%s: %s: %w", op, a, ErrUnsupportedAlg)
		}
		algs = append(algs, string(a))
	}
	return &IDTokenVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		algs:     algs,
		now:      opts.withNowFunc,
		logger:   opts.withLogger,
	}, nil
}

// EnsureLoaded loads the verifier's signing keys when they aren't loaded yet.
func (v *IDTokenVerifier) EnsureLoaded(ctx context.Context) error {
	const op = "IDTokenVerifier.EnsureLoaded"
	if err := v.keys.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Verify the id_token and return its claims.
//
// A token signed by a key id the KeySet doesn't know causes the KeySet to be
// invalidated and reloaded, and the token to be verified once more. This
// picks up keys rotated by the provider without a restart.
//
// Every failure is returned as ErrInvalidToken; the specific reason is logged
// and wrapped for the caller's diagnostics, and must not be shown to end users.
func (v *IDTokenVerifier) Verify(ctx context.Context, t IDToken) (*Claims, error) {
	const op = "IDTokenVerifier.Verify"
	c, err := v.verify(ctx, t)
	if errors.Is(err, ErrUnknownKeyID) {
		v.logger.Warn("id_token signed with an unknown key id, reloading jwks", "op", op)
		v.keys.Invalidate()
		c, err = v.verify(ctx, t)
	}
	if err != nil {
		v.logger.Error("id_token verification failed", "op", op, "error", err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	return c, nil
}

func (v *IDTokenVerifier) verify(ctx context.Context, t IDToken) (*Claims, error) {
	if t == "" {
		return nil, fmt.Errorf("id_token is empty: %w", ErrMalformedToken)
	}
	jws, err := jose.ParseSigned(string(t))
	if err != nil {
		return nil, fmt.Errorf("unable to parse id_token: %v: %w", err, ErrMalformedToken)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("id_token must have exactly one signature: %w", ErrMalformedToken)
	}
	header := jws.Signatures[0].Header
	if !containsString(v.algs, header.Algorithm) {
		return nil, fmt.Errorf("id_token signed with %q: %w", header.Algorithm, ErrUnsupportedAlg)
	}

	if err := v.keys.EnsureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("unable to load signing keys: %w", err)
	}
	key, ok := v.keys.Key(header.KeyID)
	if !ok {
		return nil, fmt.Errorf("key id %q: %w", header.KeyID, ErrUnknownKeyID)
	}

	oidcConfig := &oidc.Config{
		ClientID:             v.audience,
		SupportedSigningAlgs: v.algs,
		Now:                  v.now,
	}
	verifier := oidc.NewVerifier(v.issuer, &singleKeySet{key: key}, oidcConfig)
	oidcIDToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidSignature)
	}
	if len(oidcIDToken.Audience) != 1 || oidcIDToken.Audience[0] != v.audience {
		return nil, fmt.Errorf("audience %v: %w", oidcIDToken.Audience, ErrInvalidAudience)
	}

	var extra idTokenClaims
	if err := oidcIDToken.Claims(&extra); err != nil {
		return nil, fmt.Errorf("unable to decode claims: %v: %w", err, ErrMalformedToken)
	}
	username := extra.CognitoUsername
	if username == "" {
		username = extra.PreferredUsername
	}
	return &Claims{
		Subject:  oidcIDToken.Subject,
		Email:    extra.Email,
		Username: username,
		Groups:   extra.Groups,
		Issuer:   oidcIDToken.Issuer,
		Audience: oidcIDToken.Audience,
		Expiry:   oidcIDToken.Expiry,
	}, nil
}

// singleKeySet adapts the key located by kid to the go-oidc KeySet interface.
type singleKeySet struct {
	key *jose.JSONWebKey
}

func (s *singleKeySet) VerifySignature(_ context.Context, raw string) ([]byte, error) {
	jws, err := jose.ParseSigned(raw)
	if err != nil {
		return nil, err
	}
	return jws.Verify(s.key.Key)
}

// verifierOptions is the set of available options for IDTokenVerifier
type verifierOptions struct {
	withSupportedAlgs []Alg
	withNowFunc       func() time.Time
	withLogger        hclog.Logger
}

func verifierDefaults() verifierOptions {
	return verifierOptions{
		withSupportedAlgs: []Alg{RS256},
		withNowFunc:       time.Now,
		withLogger:        hclog.NewNullLogger(),
	}
}

func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSupportedAlgs provides the id_token signing algorithms an
// IDTokenVerifier accepts. Defaults to RS256.
func WithSupportedAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withSupportedAlgs = algs
		}
	}
}
