// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is used when the provider's token response carries no
// usable lifetime.
const DefaultTokenLifetime = time.Hour

// MaxTokenLifetime caps the lifetime a provider can report. Cognito issues
// tokens valid for at most a day.
const MaxTokenLifetime = 24 * time.Hour

// Token is the result of a successful authorization code exchange: an
// id_token, an access_token, an optional refresh_token and the lifetime the
// provider reported for them.
type Token struct {
	idToken      IDToken
	accessToken  AccessToken
	refreshToken RefreshToken
	expiresIn    time.Duration
}

// NewToken creates a new Token from an id_token and the oauth2 token returned
// by the token endpoint.
func NewToken(i IDToken, t *oauth2.Token) (*Token, error) {
	const op = "oidc.NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if i == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrMissingIDToken)
	}
	return &Token{
		idToken:      i,
		accessToken:  AccessToken(t.AccessToken),
		refreshToken: RefreshToken(t.RefreshToken),
		expiresIn:    expiresIn(t, time.Now()),
	}, nil
}

func (t *Token) IDToken() IDToken           { return t.idToken }      // IDToken returns the id_token.
func (t *Token) AccessToken() AccessToken   { return t.accessToken }  // AccessToken returns the access_token.
func (t *Token) RefreshToken() RefreshToken { return t.refreshToken } // RefreshToken returns the refresh_token, if any.

// ExpiresIn returns the token lifetime reported by the provider.
func (t *Token) ExpiresIn() time.Duration { return t.expiresIn }

// expiresIn reads the token endpoint's "expires_in" value, falling back to the
// expiry oauth2 derived from it and finally to DefaultTokenLifetime. Fractions
// of a second are rounded up and the result never exceeds MaxTokenLifetime.
func expiresIn(t *oauth2.Token, now time.Time) time.Duration {
	var secs float64
	switch v := t.Extra("expires_in").(type) {
	case float64:
		secs = v
	case json.Number:
		secs, _ = v.Float64()
	case string:
		secs, _ = strconv.ParseFloat(v, 64)
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	}
	switch {
	case secs > MaxTokenLifetime.Seconds():
		return MaxTokenLifetime
	case secs > 0:
		return time.Duration(math.Ceil(secs)) * time.Second
	}
	if !t.Expiry.IsZero() {
		d := t.Expiry.Sub(now).Round(time.Second)
		switch {
		case d > MaxTokenLifetime:
			return MaxTokenLifetime
		case d > 0:
			return d
		}
	}
	return DefaultTokenLifetime
}
