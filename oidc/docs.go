// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for writing integrations with a hosted-UI OIDC provider (an
AWS Cognito user pool) using the authorization code flow with PKCE.

Primary types provided by the package

* Config: provides the configuration for the authorization code flow: region
and user pool id (from which the issuer and JWKS URL are derived), client
id/secret, hosted UI domain, redirect URL, scopes and supported signing
algorithms.

* CodeVerifier: a PKCE code verifier and its S256 challenge. A new one is
generated for every authentication attempt.

* Provider: generates auth URLs and exchanges authorization codes (with the
attempt's verifier) for tokens at the provider's token endpoint.

* Token: the id_token, access_token and refresh_token of one exchange and the
lifetime the provider reported for them. The token types redact themselves
when printed or marshaled.

* IDTokenVerifier: verifies an id_token's signature against the provider's
JWKS (see the jwt package), its algorithm, issuer, audience and expiry, and
returns its Claims.

* Alg: represents asymmetric signing algorithms

Testing

StartTestProvider starts an in-process TLS provider serving the authorize,
token, logout and JWKS endpoints, for tests of code built on this package.
*/
package oidc
