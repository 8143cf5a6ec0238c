// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrInvalidCodeVerifier        = errors.New("invalid PKCE code verifier")
	ErrStateGeneratorFailed       = errors.New("state generation failed")
	ErrTokenExchangeFailed        = errors.New("token exchange failed")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrMalformedToken             = errors.New("malformed token")
	ErrUnknownKeyID               = errors.New("unknown key id")
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrInvalidToken               = errors.New("invalid token")
)
