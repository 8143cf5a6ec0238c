// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrJWKSFetch        = errors.New("unable to fetch JWKS")
)
