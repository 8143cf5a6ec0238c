// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

// Reason is the machine-readable code a failed login carries back to the
// login page. Reasons are deliberately coarse; the underlying error is only
// logged.
type Reason string

const (
	// ReasonAuthFailed means the provider reported an error.
	ReasonAuthFailed Reason = "auth_failed"

	// ReasonStateMismatch means the returned state is missing or doesn't
	// match the stored one.
	ReasonStateMismatch Reason = "state_mismatch"

	// ReasonNoCode means the callback carried no authorization code.
	ReasonNoCode Reason = "no_code"

	// ReasonPKCEMissing means the login attempt's code verifier is gone.
	ReasonPKCEMissing Reason = "pkce_missing"

	// ReasonTokenExchangeFailed means the token endpoint or the provider's
	// JWKS couldn't be used.
	ReasonTokenExchangeFailed Reason = "token_exchange_failed"

	// ReasonInvalidToken means the id_token failed verification.
	ReasonInvalidToken Reason = "invalid_token"

	// ReasonSessionFailed means the session couldn't be signed.
	ReasonSessionFailed Reason = "session_failed"
)

// AuthenErrorResponse represents Oauth2 error responses. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
