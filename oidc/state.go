// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// stateBytes is the amount of randomness in a generated state.
const stateBytes = 32

// NewState generates the opaque value round-tripped through the provider as
// the "state" parameter of one authentication attempt. It's used to tie the
// provider's response back to the attempt that started it, which prevents
// CSRF against the callback.
func NewState() (string, error) {
	const op = "oidc.NewState"
	b, err := uuid.GenerateRandomBytes(stateBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", op, err, ErrStateGeneratorFailed)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StatesEqual compares the stored state with the one returned by the provider.
// Empty values never match.
func StatesEqual(stored, returned string) bool {
	if stored == "" || returned == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) == 1
}
