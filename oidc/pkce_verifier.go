// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// PKCE code challenge methods as defined by RFC 7636.
	//
	// See: https://tools.ietf.org/html/rfc7636#page-9
	S256 ChallengeMethod = "S256" // SHA-256
)

const (
	// verifierLen is the length of a generated verifier: 32 random bytes,
	// base64url encoded without padding.
	verifierLen = 43

	// RFC 7636 bounds for any verifier.
	minVerifierLen = 43
	maxVerifierLen = 128
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method. It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier) from 256 bits of
// cryptographically secure randomness.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
func NewCodeVerifier() *S256Verifier {
	v := oauth2.GenerateVerifier()
	return &S256Verifier{
		verifier:  v,
		challenge: oauth2.S256ChallengeFromVerifier(v),
		method:    S256,
	}
}

// NewCodeVerifierFrom re-creates the CodeVerifier for a previously generated
// verifier, such as one read back from a cookie.
func NewCodeVerifierFrom(verifier string) (*S256Verifier, error) {
	const op = "oidc.NewCodeVerifierFrom"
	if l := len(verifier); l < minVerifierLen || l > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is out of range: %w", op, l, ErrInvalidCodeVerifier)
	}
	for _, r := range verifier {
		if !isUnreserved(r) {
			return nil, fmt.Errorf("%s: verifier contains %q: %w", op, r, ErrInvalidCodeVerifier)
		}
	}
	return &S256Verifier{
		verifier:  verifier,
		challenge: oauth2.S256ChallengeFromVerifier(verifier),
		method:    S256,
	}, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(v.Verifier()), nil
	default:
		return "", fmt.Errorf("%s: %s is invalid: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

// isUnreserved reports whether r is in the RFC 7636 verifier alphabet.
func isUnreserved(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '.', r == '_', r == '~':
		return true
	}
	return false
}
