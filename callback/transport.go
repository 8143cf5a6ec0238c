// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"
)

const (
	// SessionCookie holds the signed session.
	SessionCookie = "app_session"

	// VerifierCookie holds the PKCE code verifier of a login attempt.
	VerifierCookie = "pkce_code_verifier"

	// StateCookie holds the state of a login attempt.
	StateCookie = "oauth_state"

	// LoginCookieMaxAge is the lifetime, in seconds, of the cookies of a
	// login attempt.
	LoginCookieMaxAge = 300
)

// Transport is the cookie context of one request. Reads come from the
// request unless an earlier Set or Delete replaced the value; writes are
// recorded and only reach the client when Apply is called.
type Transport struct {
	req    *http.Request
	secure bool
	writes []*http.Cookie
}

// NewTransport returns a Transport reading the cookies of req. Cookies it
// writes are marked Secure when secure is true. req may be nil.
func NewTransport(req *http.Request, secure bool) *Transport {
	return &Transport{req: req, secure: secure}
}

// Get returns the value of the named cookie.
func (t *Transport) Get(name string) (string, bool) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if w := t.writes[i]; w.Name == name {
			if w.MaxAge < 0 {
				return "", false
			}
			return w.Value, true
		}
	}
	if t.req == nil {
		return "", false
	}
	c, err := t.req.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set records a cookie living maxAge seconds.
func (t *Transport) Set(name, value string, maxAge int) {
	t.record(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Delete records the removal of the named cookie. It's recorded even when the
// request doesn't carry the cookie.
func (t *Transport) Delete(name string) {
	t.record(&http.Cookie{
		Name:     name,
		Path:     "/",
		MaxAge:   -1,
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// record keeps only the last write of a cookie.
func (t *Transport) record(c *http.Cookie) {
	for i, w := range t.writes {
		if w.Name == c.Name {
			t.writes = append(t.writes[:i], t.writes[i+1:]...)
			break
		}
	}
	t.writes = append(t.writes, c)
}

// Writes returns copies of the cookies recorded so far, in order.
func (t *Transport) Writes() []http.Cookie {
	out := make([]http.Cookie, 0, len(t.writes))
	for _, w := range t.writes {
		out = append(out, *w)
	}
	return out
}

// Apply writes the recorded cookies to the response. It must be called
// before the response's header is written.
func (t *Transport) Apply(w http.ResponseWriter) {
	for _, c := range t.writes {
		http.SetCookie(w, c)
	}
}
