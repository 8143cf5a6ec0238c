// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gearshelf/idpauth/jwt"
	"github.com/gearshelf/idpauth/oidc"
	"github.com/gearshelf/idpauth/session"
	"github.com/hashicorp/go-hclog"
)

// CodeExchanger starts authorization code flows and exchanges their codes.
// *oidc.Provider implements it.
type CodeExchanger interface {
	AuthURL(v oidc.CodeVerifier, state string) (string, error)
	Exchange(ctx context.Context, authorizationCode string, v oidc.CodeVerifier) (*oidc.Token, error)
}

// TokenVerifier verifies id_tokens. *oidc.IDTokenVerifier implements it.
type TokenVerifier interface {
	EnsureLoaded(ctx context.Context) error
	Verify(ctx context.Context, t oidc.IDToken) (*oidc.Claims, error)
}

// SessionCodec signs and verifies sessions. *session.Codec implements it.
type SessionCodec interface {
	Encode(s *session.Session) (string, error)
	Decode(blob string) (*session.Session, error)
}

var (
	_ CodeExchanger = (*oidc.Provider)(nil)
	_ TokenVerifier = (*oidc.IDTokenVerifier)(nil)
	_ SessionCodec  = (*session.Codec)(nil)
)

// Outcome is the result of handling a callback: where to send the user-agent
// and, for failures, why.
type Outcome struct {
	// Location to redirect to.
	Location string

	// Reason is empty when the login succeeded.
	Reason Reason

	// Session is the session established by a successful login.
	Session *session.Session

	// ProviderError is the error the provider redirected back with, when the
	// failure is ReasonAuthFailed.
	ProviderError *AuthenErrorResponse
}

// Failed reports whether the callback failed.
func (o Outcome) Failed() bool { return o.Reason != "" }

// Authenticator runs the login, callback, session and sign-out operations.
// It's safe for concurrent use; all per-request state lives in the Transport
// passed to each operation.
type Authenticator struct {
	exchanger CodeExchanger
	verifier  TokenVerifier
	codec     SessionCodec

	loginURL           string
	landingURL         string
	signedOutURL       string
	providerLogoutURL  string
	maxSessionLifetime time.Duration
	secure             bool
	logger             hclog.Logger
	now                func() time.Time
}

// NewAuthenticator creates an Authenticator.
//
// Supported options:
//
//	WithLoginURL
//	WithLandingURL
//	WithSignedOutURL
//	WithProviderLogoutURL
//	WithMaxSessionLifetime
//	WithSecureCookies
//	WithLogger
//	WithNow
func NewAuthenticator(e CodeExchanger, v TokenVerifier, c SessionCodec, opt ...Option) (*Authenticator, error) {
	const op = "callback.NewAuthenticator"
	switch {
	case e == nil:
		return nil, fmt.Errorf("%s: code exchanger is nil: %w", op, ErrNilParameter)
	case v == nil:
		return nil, fmt.Errorf("%s: token verifier is nil: %w", op, ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: session codec is nil: %w", op, ErrNilParameter)
	}
	opts := getAuthenticatorOpts(opt...)
	switch {
	case opts.withLoginURL == "":
		return nil, fmt.Errorf("%s: login URL is empty: %w", op, ErrInvalidParameter)
	case opts.withLandingURL == "":
		return nil, fmt.Errorf("%s: landing URL is empty: %w", op, ErrInvalidParameter)
	case opts.withMaxSessionLifetime <= 0:
		return nil, fmt.Errorf("%s: max session lifetime must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if _, err := url.Parse(opts.withLoginURL); err != nil {
		return nil, fmt.Errorf("%s: login URL: %v: %w", op, err, ErrInvalidParameter)
	}
	return &Authenticator{
		exchanger:          e,
		verifier:           v,
		codec:              c,
		loginURL:           opts.withLoginURL,
		landingURL:         opts.withLandingURL,
		signedOutURL:       opts.withSignedOutURL,
		providerLogoutURL:  opts.withProviderLogoutURL,
		maxSessionLifetime: opts.withMaxSessionLifetime,
		secure:             opts.withSecureCookies,
		logger:             opts.withLogger,
		now:                opts.withNowFunc,
	}, nil
}

// NewTransport returns a Transport for req that writes cookies the way the
// Authenticator is configured to.
func (a *Authenticator) NewTransport(req *http.Request) *Transport {
	return NewTransport(req, a.secure)
}

// BeginLogin starts a login attempt: it stores a new PKCE code verifier and
// state in t and returns the provider URL the user-agent must be sent to.
func (a *Authenticator) BeginLogin(t *Transport) (string, error) {
	const op = "Authenticator.BeginLogin"
	if t == nil {
		return "", fmt.Errorf("%s: transport is nil: %w", op, ErrNilParameter)
	}
	verifier := oidc.NewCodeVerifier()
	state, err := oidc.NewState()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := a.exchanger.AuthURL(verifier, state)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	t.Set(VerifierCookie, verifier.Verifier(), LoginCookieMaxAge)
	t.Set(StateCookie, state, LoginCookieMaxAge)
	a.logger.Debug("login started", "op", op)
	return authURL, nil
}

// HandleCallback completes a login attempt from the provider's redirect,
// whose query parameters are given. On success the session cookie is written
// to t. On failure nothing but the removal of the attempt's cookies is
// written, and the outcome carries the Reason.
func (a *Authenticator) HandleCallback(ctx context.Context, t *Transport, query url.Values) Outcome {
	const op = "Authenticator.HandleCallback"
	if t == nil {
		return a.fail(op, nil, ReasonAuthFailed, fmt.Errorf("transport is nil: %w", ErrNilParameter))
	}

	if e := query.Get("error"); e != "" {
		resp := &AuthenErrorResponse{
			Error:       e,
			Description: query.Get("error_description"),
			Uri:         query.Get("error_uri"),
		}
		out := a.fail(op, t, ReasonAuthFailed, fmt.Errorf("provider returned %q: %s (%s)", resp.Error, resp.Description, resp.Uri))
		out.ProviderError = resp
		return out
	}

	storedState, _ := t.Get(StateCookie)
	t.Delete(StateCookie)
	if !oidc.StatesEqual(storedState, query.Get("state")) {
		return a.fail(op, t, ReasonStateMismatch, errors.New("stored state is missing or doesn't match"))
	}

	code := query.Get("code")
	if code == "" {
		return a.fail(op, t, ReasonNoCode, errors.New("authorization code is missing"))
	}

	storedVerifier, ok := t.Get(VerifierCookie)
	t.Delete(VerifierCookie)
	if !ok {
		return a.fail(op, t, ReasonPKCEMissing, errors.New("code verifier is missing"))
	}
	verifier, err := oidc.NewCodeVerifierFrom(storedVerifier)
	if err != nil {
		return a.fail(op, t, ReasonPKCEMissing, err)
	}

	tk, err := a.exchanger.Exchange(ctx, code, verifier)
	if err != nil {
		return a.fail(op, t, ReasonTokenExchangeFailed, err)
	}

	if err := a.verifier.EnsureLoaded(ctx); err != nil {
		return a.fail(op, t, ReasonTokenExchangeFailed, err)
	}
	claims, err := a.verifier.Verify(ctx, tk.IDToken())
	switch {
	case errors.Is(err, jwt.ErrJWKSFetch):
		return a.fail(op, t, ReasonTokenExchangeFailed, err)
	case err != nil:
		return a.fail(op, t, ReasonInvalidToken, err)
	}

	now := a.now()
	lifetime := tk.ExpiresIn()
	if lifetime > a.maxSessionLifetime {
		lifetime = a.maxSessionLifetime
	}
	if !claims.Expiry.IsZero() {
		if untilExpiry := claims.Expiry.Sub(now).Truncate(time.Second); untilExpiry < lifetime {
			lifetime = untilExpiry
		}
	}
	maxAge := int(lifetime / time.Second)
	if maxAge <= 0 {
		return a.fail(op, t, ReasonInvalidToken, errors.New("token lifetime has already passed"))
	}
	s := &session.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Username:    claims.Username,
		Role:        claims.Role(),
		AccessToken: string(tk.AccessToken()),
		IDToken:     string(tk.IDToken()),
		Exp:         now.Add(lifetime).Unix(),
	}
	blob, err := a.codec.Encode(s)
	if err != nil {
		return a.fail(op, t, ReasonSessionFailed, err)
	}
	t.Set(SessionCookie, blob, maxAge)

	a.logger.Info("login succeeded", "op", op, "user_id", s.UserID, "expires_in", lifetime)
	return Outcome{Location: a.landingURL, Session: s}
}

// fail clears the login attempt's cookies and returns an Outcome sending the
// user-agent to the login URL with reason.
func (a *Authenticator) fail(op string, t *Transport, reason Reason, err error) Outcome {
	if t != nil {
		t.Delete(StateCookie)
		t.Delete(VerifierCookie)
	}
	a.logger.Error("login failed", "op", op, "reason", reason, "error", err)
	return Outcome{Location: a.failureLocation(reason), Reason: reason}
}

func (a *Authenticator) failureLocation(reason Reason) string {
	u, err := url.Parse(a.loginURL)
	if err != nil {
		return DefaultLoginURL + "?error=" + url.QueryEscape(string(reason))
	}
	q := u.Query()
	q.Set("error", string(reason))
	u.RawQuery = q.Encode()
	return u.String()
}

// Current returns the session carried by t, or nil when there is none. A
// session that can't be decoded or has expired is signed out. Sessions are
// never extended.
func (a *Authenticator) Current(t *Transport) *session.Session {
	const op = "Authenticator.Current"
	if t == nil {
		return nil
	}
	blob, ok := t.Get(SessionCookie)
	if !ok {
		return nil
	}
	s, err := a.codec.Decode(blob)
	if err != nil {
		a.logger.Warn("discarding session", "op", op, "error", err)
		a.SignOut(t)
		return nil
	}
	if s.IsExpired(a.now()) {
		a.logger.Debug("session expired", "op", op, "user_id", s.UserID)
		a.SignOut(t)
		return nil
	}
	return s
}

// SignOut removes the session and any login attempt's cookies. It's safe to
// call when none exist.
func (a *Authenticator) SignOut(t *Transport) {
	if t == nil {
		return
	}
	t.Delete(SessionCookie)
	t.Delete(VerifierCookie)
	t.Delete(StateCookie)
}

// SignedOutLocation returns where the user-agent goes after signing out: the
// provider's logout URL when one is configured, the signed out URL otherwise.
func (a *Authenticator) SignedOutLocation() string {
	if a.providerLogoutURL != "" {
		return a.providerLogoutURL
	}
	return a.signedOutURL
}

// LoginURL returns the location of the application's login page.
func (a *Authenticator) LoginURL() string { return a.loginURL }
