// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// idpauth signs users of a web application in with an Amazon Cognito user
// pool's hosted UI, using the OIDC authorization code flow with PKCE, and then
// keeps them signed in with the application's own signed session cookie.
//
// It's a collection of packages:
//
//	oidc      provider configuration, the authorization code exchange and
//	          id_token verification
//	jwt       the provider's JSON Web Key Set, fetched once and cached
//	session   the signed session cookie's payload and codec
//	callback  login, callback, session and sign-out operations plus their
//	          http handlers
//	config    configuration from the environment and dotenv files
//
// See examples/webapp for a complete server.
package idpauth
