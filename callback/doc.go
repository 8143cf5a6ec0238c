// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package callback ties the oidc and session packages into the four operations a
web application needs: begin a login, handle the provider's callback, read the
current session and sign out.

Every cookie read and write of an operation goes through a Transport, which is
built from the incoming request and applied to the response once the operation
is done. This keeps the operations testable without an http server.

The Authenticator's operations are also available as http.HandlerFuncs:
LoginHandler, CallbackHandler, SignOutHandler and SessionHandler, plus the
RequireSession middleware.
*/
package callback
