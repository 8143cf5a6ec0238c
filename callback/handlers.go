// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gearshelf/idpauth/session"
)

type sessionContextKey struct{}

// FromContext returns the session RequireSession stored in ctx.
func FromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok && s != nil
}

// LoginHandler creates a handler which starts a login attempt and redirects
// to the provider.
func LoginHandler(a *Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.LoginHandler"
		t := a.NewTransport(req)
		authURL, err := a.BeginLogin(t)
		if err != nil {
			a.logger.Error("unable to start login", "op", op, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		t.Apply(w)
		http.Redirect(w, req, authURL, http.StatusFound)
	}
}

// CallbackHandler creates an authorization code callback handler. Successful
// logins are redirected to the landing URL with a session cookie; failed ones
// to the login URL with an "error" query parameter.
func CallbackHandler(a *Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		t := a.NewTransport(req)
		outcome := a.HandleCallback(req.Context(), t, req.URL.Query())
		t.Apply(w)
		http.Redirect(w, req, outcome.Location, http.StatusFound)
	}
}

// SignOutHandler creates a handler which signs out and redirects to the
// Authenticator's SignedOutLocation.
func SignOutHandler(a *Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		t := a.NewTransport(req)
		a.SignOut(t)
		t.Apply(w)
		http.Redirect(w, req, a.SignedOutLocation(), http.StatusFound)
	}
}

// SessionHandler creates a handler which responds with the current session,
// without its tokens, as JSON. Anonymous requests get a 401.
func SessionHandler(a *Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.SessionHandler"
		t := a.NewTransport(req)
		s := a.Current(t)
		t.Apply(w)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		var body interface{}
		if s == nil {
			w.WriteHeader(http.StatusUnauthorized)
			body = struct {
				Error string `json:"error"`
			}{Error: "unauthenticated"}
		} else {
			body = s.Public()
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			a.logger.Error("unable to write session", "op", op, "error", err)
		}
	}
}

// RequireSession creates middleware which only lets requests with a current
// session through, storing the session in the request's context (see
// FromContext). Other requests are redirected to the login URL.
func RequireSession(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			t := a.NewTransport(req)
			s := a.Current(t)
			t.Apply(w)
			if s == nil {
				http.Redirect(w, req, a.loginURL, http.StatusFound)
				return
			}
			ctx := context.WithValue(req.Context(), sessionContextKey{}, s)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
