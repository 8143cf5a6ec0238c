// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gearshelf/idpauth/jwt"
	"github.com/gearshelf/idpauth/oidc"
	"github.com/gearshelf/idpauth/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testNow = time.Unix(1_700_000_000, 0)

type testExchanger struct {
	expiresIn float64
	err       error
	exchanges int
	verifiers []string
}

func (e *testExchanger) AuthURL(v oidc.CodeVerifier, state string) (string, error) {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", v.Challenge())
	q.Set("code_challenge_method", string(v.Method()))
	return "https://auth.example.com/oauth2/authorize?" + q.Encode(), nil
}

func (e *testExchanger) Exchange(_ context.Context, code string, v oidc.CodeVerifier) (*oidc.Token, error) {
	e.exchanges++
	e.verifiers = append(e.verifiers, v.Verifier())
	if e.err != nil {
		return nil, e.err
	}
	t := (&oauth2.Token{AccessToken: "access-token", TokenType: "Bearer"}).
		WithExtra(map[string]interface{}{"expires_in": e.expiresIn})
	return oidc.NewToken("id-token", t)
}

type testTokenVerifier struct {
	ensureErr error
	verifyErr error
	claims    *oidc.Claims
}

func (v *testTokenVerifier) EnsureLoaded(context.Context) error { return v.ensureErr }

func (v *testTokenVerifier) Verify(_ context.Context, t oidc.IDToken) (*oidc.Claims, error) {
	if v.verifyErr != nil {
		return nil, v.verifyErr
	}
	if t != "id-token" {
		return nil, oidc.ErrInvalidToken
	}
	return v.claims, nil
}

type failingCodec struct{ *session.Codec }

func (failingCodec) Encode(*session.Session) (string, error) { return "", errors.New("encode failed") }

func testCodec(t *testing.T) *session.Codec {
	t.Helper()
	c, err := session.NewCodec(bytes.Repeat([]byte("k"), session.MinSecretLen))
	require.NoError(t, err)
	return c
}

func testClaims() *oidc.Claims {
	return &oidc.Claims{
		Subject:  "user-sub",
		Email:    "player@example.com",
		Username: "player",
		Groups:   []string{"admins", "customers"},
		Expiry:   testNow.Add(time.Hour),
	}
}

func TestNewAuthenticator(t *testing.T) {
	t.Parallel()
	codec := testCodec(t)
	tests := []struct {
		name      string
		e         CodeExchanger
		v         TokenVerifier
		c         SessionCodec
		opt       []Option
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", e: &testExchanger{}, v: &testTokenVerifier{}, c: codec},
		{name: "nil-exchanger", v: &testTokenVerifier{}, c: codec, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-verifier", e: &testExchanger{}, c: codec, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-codec", e: &testExchanger{}, v: &testTokenVerifier{}, wantErr: true, wantIsErr: ErrNilParameter},
		{
			name: "empty-login-url", e: &testExchanger{}, v: &testTokenVerifier{}, c: codec,
			opt: []Option{WithLoginURL("")}, wantErr: true, wantIsErr: ErrInvalidParameter,
		},
		{
			name: "zero-lifetime", e: &testExchanger{}, v: &testTokenVerifier{}, c: codec,
			opt: []Option{WithMaxSessionLifetime(0)}, wantErr: true, wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewAuthenticator(tt.e, tt.v, tt.c, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(DefaultLoginURL, got.LoginURL())
			assert.Equal(DefaultLandingURL, got.landingURL)
			assert.Equal(DefaultMaxSessionLifetime, got.maxSessionLifetime)
			assert.Equal(DefaultSignedOutURL, got.SignedOutLocation())
		})
	}
}

func TestAuthenticator_BeginLogin(t *testing.T) {
	t.Parallel()
	for _, secure := range []bool{false, true} {
		secure := secure
		t.Run(fmt.Sprintf("secure-%t", secure), func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t), WithSecureCookies(secure))
			require.NoError(err)

			tr := a.NewTransport(testRequest(nil))
			authURL, err := a.BeginLogin(tr)
			require.NoError(err)

			u, err := url.Parse(authURL)
			require.NoError(err)
			verifier, ok := testWrite(tr, VerifierCookie)
			require.True(ok)
			state, ok := testWrite(tr, StateCookie)
			require.True(ok)

			assert.Equal(state.Value, u.Query().Get("state"))
			assert.Equal(oauth2.S256ChallengeFromVerifier(verifier.Value), u.Query().Get("code_challenge"))
			assert.Equal("S256", u.Query().Get("code_challenge_method"))
			for _, c := range []http.Cookie{verifier, state} {
				assert.Equal(LoginCookieMaxAge, c.MaxAge)
				assert.True(c.HttpOnly)
				assert.Equal(secure, c.Secure)
				assert.Equal(http.SameSiteLaxMode, c.SameSite)
				assert.Equal("/", c.Path)
			}
			_, ok = testWrite(tr, SessionCookie)
			assert.False(ok)
		})
	}
	t.Run("unique-attempts", func(t *testing.T) {
		require := require.New(t)
		a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t))
		require.NoError(err)
		t1, t2 := a.NewTransport(nil), a.NewTransport(nil)
		_, err = a.BeginLogin(t1)
		require.NoError(err)
		_, err = a.BeginLogin(t2)
		require.NoError(err)
		v1, _ := t1.Get(VerifierCookie)
		v2, _ := t2.Get(VerifierCookie)
		s1, _ := t1.Get(StateCookie)
		s2, _ := t2.Get(StateCookie)
		assert.NotEqual(t, v1, v2)
		assert.NotEqual(t, s1, s2)
	})
}

func TestAuthenticator_HandleCallback(t *testing.T) {
	t.Parallel()
	const (
		state = "stored-state"
		code  = "abc"
	)
	verifier := oidc.NewCodeVerifier().Verifier()
	loginCookies := map[string]string{StateCookie: state, VerifierCookie: verifier}
	query := func(kv ...string) url.Values {
		q := url.Values{}
		for i := 0; i+1 < len(kv); i += 2 {
			q.Set(kv[i], kv[i+1])
		}
		return q
	}

	tests := []struct {
		name          string
		cookies       map[string]string
		query         url.Values
		exchanger     *testExchanger
		verifier      *testTokenVerifier
		codec         func(t *testing.T) SessionCodec
		wantReason        Reason
		wantProviderError *AuthenErrorResponse
		wantExchanges     int
		wantMaxAge        int
	}{
		{
			name:          "success",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			wantExchanges: 1,
			wantMaxAge:    3600,
		},
		{
			name:          "lifetime-capped",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			exchanger:     &testExchanger{expiresIn: 7200},
			verifier:      &testTokenVerifier{claims: &oidc.Claims{Subject: "user-sub", Expiry: testNow.Add(3 * time.Hour)}},
			wantExchanges: 1,
			wantMaxAge:    3600,
		},
		{
			name:          "lifetime-capped-by-id-token",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			verifier:      &testTokenVerifier{claims: &oidc.Claims{Subject: "user-sub", Expiry: testNow.Add(10 * time.Minute)}},
			wantExchanges: 1,
			wantMaxAge:    600,
		},
		{
			name:       "provider-error",
			cookies:    loginCookies,
			query: query("error", "access_denied", "error_description", "user cancelled",
				"error_uri", "https://idp.example.com/errors/access_denied", "code", code, "state", state),
			wantReason: ReasonAuthFailed,
			wantProviderError: &AuthenErrorResponse{
				Error:       "access_denied",
				Description: "user cancelled",
				Uri:         "https://idp.example.com/errors/access_denied",
			},
		},
		{
			name:       "missing-state-cookie",
			cookies:    map[string]string{VerifierCookie: verifier},
			query:      query("code", code, "state", state),
			wantReason: ReasonStateMismatch,
		},
		{
			name:       "state-mismatch",
			cookies:    loginCookies,
			query:      query("code", code, "state", "forged-state"),
			wantReason: ReasonStateMismatch,
		},
		{
			name:       "missing-state-param",
			cookies:    loginCookies,
			query:      query("code", code),
			wantReason: ReasonStateMismatch,
		},
		{
			name:       "no-code",
			cookies:    loginCookies,
			query:      query("state", state),
			wantReason: ReasonNoCode,
		},
		{
			name:       "missing-verifier",
			cookies:    map[string]string{StateCookie: state},
			query:      query("code", code, "state", state),
			wantReason: ReasonPKCEMissing,
		},
		{
			name:       "invalid-verifier",
			cookies:    map[string]string{StateCookie: state, VerifierCookie: "too-short"},
			query:      query("code", code, "state", state),
			wantReason: ReasonPKCEMissing,
		},
		{
			name:          "exchange-failed",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			exchanger:     &testExchanger{err: oidc.ErrTokenExchangeFailed},
			wantReason:    ReasonTokenExchangeFailed,
			wantExchanges: 1,
		},
		{
			name:          "jwks-unavailable",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			verifier:      &testTokenVerifier{ensureErr: jwt.ErrJWKSFetch},
			wantReason:    ReasonTokenExchangeFailed,
			wantExchanges: 1,
		},
		{
			name:          "jwks-unavailable-on-reload",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			verifier:      &testTokenVerifier{verifyErr: fmt.Errorf("%w: %w", oidc.ErrInvalidToken, jwt.ErrJWKSFetch)},
			wantReason:    ReasonTokenExchangeFailed,
			wantExchanges: 1,
		},
		{
			name:          "invalid-token",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			verifier:      &testTokenVerifier{verifyErr: oidc.ErrInvalidToken},
			wantReason:    ReasonInvalidToken,
			wantExchanges: 1,
		},
		{
			name:          "session-failed",
			cookies:       loginCookies,
			query:         query("code", code, "state", state),
			codec:         func(t *testing.T) SessionCodec { return failingCodec{testCodec(t)} },
			wantReason:    ReasonSessionFailed,
			wantExchanges: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			if tt.exchanger == nil {
				tt.exchanger = &testExchanger{expiresIn: 3600}
			}
			if tt.verifier == nil {
				tt.verifier = &testTokenVerifier{claims: testClaims()}
			}
			var codec SessionCodec = testCodec(t)
			if tt.codec != nil {
				codec = tt.codec(t)
			}
			a, err := NewAuthenticator(tt.exchanger, tt.verifier, codec,
				WithNow(func() time.Time { return testNow }),
				WithLoginURL("/login"),
			)
			require.NoError(err)

			tr := a.NewTransport(testRequest(tt.cookies))
			got := a.HandleCallback(context.Background(), tr, tt.query)

			assert.Equal(tt.wantExchanges, tt.exchanger.exchanges)
			for _, name := range []string{StateCookie, VerifierCookie} {
				c, ok := testWrite(tr, name)
				if assert.Truef(ok, "%s is not deleted", name) {
					assert.Equal(-1, c.MaxAge)
				}
			}

			if tt.wantReason != "" {
				assert.True(got.Failed())
				assert.Equal(tt.wantReason, got.Reason)
				assert.Equal(tt.wantProviderError, got.ProviderError)
				assert.Equal("/login?error="+string(tt.wantReason), got.Location)
				assert.Nil(got.Session)
				_, ok := testWrite(tr, SessionCookie)
				assert.False(ok, "session cookie written on failure")
				return
			}

			assert.False(got.Failed())
			assert.Equal(DefaultLandingURL, got.Location)
			assert.Equal([]string{verifier}, tt.exchanger.verifiers)

			c, ok := testWrite(tr, SessionCookie)
			require.True(ok)
			assert.Equal(tt.wantMaxAge, c.MaxAge)
			assert.True(c.HttpOnly)

			s, err := codec.Decode(c.Value)
			require.NoError(err)
			assert.Equal(got.Session, s)
			assert.Equal(testNow.Unix()+int64(tt.wantMaxAge), s.Exp)
			assert.Equal("user-sub", s.UserID)
			assert.Equal("access-token", s.AccessToken)
			assert.Equal("id-token", s.IDToken)
		})
	}

	t.Run("claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a, err := NewAuthenticator(&testExchanger{expiresIn: 3600}, &testTokenVerifier{claims: testClaims()}, testCodec(t),
			WithNow(func() time.Time { return testNow }))
		require.NoError(err)
		got := a.HandleCallback(context.Background(), a.NewTransport(testRequest(loginCookies)), query("code", code, "state", state))
		require.False(got.Failed())
		assert.Equal(&session.Session{
			UserID:      "user-sub",
			Email:       "player@example.com",
			Username:    "player",
			Role:        "admins",
			AccessToken: "access-token",
			IDToken:     "id-token",
			Exp:         testNow.Add(time.Hour).Unix(),
		}, got.Session)
	})
	t.Run("replayed-callback", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a, err := NewAuthenticator(&testExchanger{expiresIn: 3600}, &testTokenVerifier{claims: testClaims()}, testCodec(t),
			WithNow(func() time.Time { return testNow }))
		require.NoError(err)
		tr := a.NewTransport(testRequest(loginCookies))
		first := a.HandleCallback(context.Background(), tr, query("code", code, "state", state))
		require.False(first.Failed())
		// the same transport no longer carries the attempt's cookies
		second := a.HandleCallback(context.Background(), tr, query("code", code, "state", state))
		assert.Equal(ReasonStateMismatch, second.Reason)
	})
	t.Run("login-url-with-query", func(t *testing.T) {
		a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t), WithLoginURL("/auth?next=%2Fguitars"))
		require.NoError(t, err)
		got := a.HandleCallback(context.Background(), a.NewTransport(nil), query("error", "access_denied"))
		assert.Equal(t, "/auth?error=auth_failed&next=%2Fguitars", got.Location)
	})
}

func TestAuthenticator_Current(t *testing.T) {
	t.Parallel()
	codec := testCodec(t)
	a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, codec, WithNow(func() time.Time { return testNow }))
	require.NoError(t, err)

	encode := func(exp time.Time) string {
		blob, err := codec.Encode(&session.Session{UserID: "user-sub", Exp: exp.Unix()})
		require.NoError(t, err)
		return blob
	}
	valid := encode(testNow.Add(time.Hour))
	tampered := []byte(valid)
	sig := bytes.LastIndexByte(tampered, '.') + 1
	if tampered[sig] == 'A' {
		tampered[sig] = 'B'
	} else {
		tampered[sig] = 'A'
	}

	tests := []struct {
		name        string
		cookies     map[string]string
		wantSession bool
		wantSignOut bool
	}{
		{name: "anonymous"},
		{name: "valid", cookies: map[string]string{SessionCookie: valid}, wantSession: true},
		{name: "expires-in-one-second", cookies: map[string]string{SessionCookie: encode(testNow.Add(time.Second))}, wantSession: true},
		{name: "expires-now", cookies: map[string]string{SessionCookie: encode(testNow)}, wantSession: true},
		{name: "expired-one-second-ago", cookies: map[string]string{SessionCookie: encode(testNow.Add(-time.Second))}, wantSignOut: true},
		{name: "tampered", cookies: map[string]string{SessionCookie: string(tampered)}, wantSignOut: true},
		{name: "garbage", cookies: map[string]string{SessionCookie: "garbage"}, wantSignOut: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			tr := a.NewTransport(testRequest(tt.cookies))
			got := a.Current(tr)
			if tt.wantSession {
				if assert.NotNil(got) {
					assert.Equal("user-sub", got.UserID)
				}
			} else {
				assert.Nil(got)
			}
			if !tt.wantSignOut {
				assert.Empty(tr.Writes())
				return
			}
			c, ok := testWrite(tr, SessionCookie)
			if assert.True(ok) {
				assert.Equal(-1, c.MaxAge)
			}
		})
	}
	t.Run("never-extends", func(t *testing.T) {
		assert := assert.New(t)
		tr := a.NewTransport(testRequest(map[string]string{SessionCookie: valid}))
		_ = a.Current(tr)
		_ = a.Current(tr)
		assert.Empty(tr.Writes())
	})
	t.Run("nil-transport", func(t *testing.T) {
		assert.Nil(t, a.Current(nil))
	})
}

func TestAuthenticator_SignOut(t *testing.T) {
	t.Parallel()
	a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t))
	require.NoError(t, err)

	tests := []struct {
		name    string
		cookies map[string]string
	}{
		{name: "no-cookies"},
		{name: "all-cookies", cookies: map[string]string{SessionCookie: "s", StateCookie: "st", VerifierCookie: "v"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			tr := a.NewTransport(testRequest(tt.cookies))
			a.SignOut(tr)
			a.SignOut(tr)

			writes := tr.Writes()
			assert.Len(writes, 3)
			for _, c := range writes {
				assert.Equal(-1, c.MaxAge, "%s is set, not deleted", c.Name)
				assert.Empty(c.Value)
			}
			for _, name := range []string{SessionCookie, StateCookie, VerifierCookie} {
				_, ok := tr.Get(name)
				assert.False(ok)
			}
		})
	}
	t.Run("nil-transport", func(t *testing.T) {
		a.SignOut(nil)
	})
}

func TestAuthenticator_SignedOutLocation(t *testing.T) {
	t.Parallel()
	a, err := NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t),
		WithSignedOutURL("/bye"),
		WithProviderLogoutURL("https://auth.example.com/logout?client_id=c&logout_uri=https%3A%2F%2Fapp.example.com%2F"),
	)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/logout?client_id=c&logout_uri=https%3A%2F%2Fapp.example.com%2F", a.SignedOutLocation())

	a, err = NewAuthenticator(&testExchanger{}, &testTokenVerifier{}, testCodec(t), WithSignedOutURL("/bye"))
	require.NoError(t, err)
	assert.Equal(t, "/bye", a.SignedOutLocation())
}
