// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package jwt provides the key sets used to verify the signatures of JWTs issued
by an OIDC provider: a lazily loaded cache of a provider's published JWKS, and a
static set of locally configured keys.
*/
package jwt
