// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	// TestRegion is the region of configs returned by TestProvider.Config.
	TestRegion = "us-east-1"
	// TestUserPoolID is the user pool the TestProvider issues tokens for.
	TestUserPoolID = "us-east-1_TestPool"
	// TestAuthCode is the authorization code the TestProvider issues unless
	// another is configured with SetExpectedAuthCode.
	TestAuthCode = "test-authorization-code"
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier. It serves the subset of a Cognito user pool
// and its hosted UI that an authorization code flow with PKCE touches:
// /oauth2/authorize, /oauth2/token, /logout and the pool's
// /.well-known/jwks.json.
//
// The issuer of its tokens is Issuer(), which is not derivable from a region
// and user pool id, so configs pointing at a TestProvider must set it
// explicitly. Config() returns one that does.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	challenges          map[string]string
	replySubject        string
	replyEmail          string
	replyUsername       string
	replyGroups         []string
	customClaims        map[string]interface{}
	customAudience      []string
	expiresIn           int
	omitIDToken         bool
	tokenErrorStatus    int
	tokenRequests       int
	jwksStatus          int
	jwksHits            int

	signingKey *rsa.PrivateKey
	keyID      string
	jwks       *jose.JSONWebKeySet

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider, which is stopped when
// the test and all its subtests complete.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:         "test-client-id",
		expectedAuthCode: TestAuthCode,
		challenges:       map[string]string{},
		replySubject:     "9f0c2a6e-5d8b-4c11-a7e3-0b52d1f0c9aa",
		replyEmail:       "player@example.com",
		replyUsername:    "player",
		replyGroups:      []string{"customers"},
		expiresIn:        3600,
		t:                t,
	}
	p.setSigningKey(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

func (p *TestProvider) setSigningKey(t *testing.T) {
	t.Helper()
	require := require.New(t)
	key, _, _ := TestGenerateKeys(t)
	kid, err := uuid.GenerateUUID()
	require.NoError(err)
	p.signingKey = key
	p.keyID = kid
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: &key.PublicKey, KeyID: kid, Algorithm: string(RS256), Use: "sig"},
		},
	}
}

// RotateSigningKey replaces the provider's signing key with a new one under a
// new key id. The old key is no longer published.
func (p *TestProvider) RotateSigningKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setSigningKey(p.t)
}

// SigningKey returns the provider's current signing key and its key id.
func (p *TestProvider) SigningKey() (*rsa.PrivateKey, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKey, p.keyID
}

// SetClientCreds is for configuring the client information required for the
// authorization code flow. When clientSecret is not empty, /oauth2/token
// requires it in a basic authorization header.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// SetExpectedAuthCode configures the auth code to return from
// /oauth2/authorize and the allowed auth code for /oauth2/token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs. If
// not configured any redirect URI is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetUser configures the identity claims of issued id_tokens.
func (p *TestProvider) SetUser(subject, email, username string, groups ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = subject
	p.replyEmail = email
	p.replyUsername = username
	p.replyGroups = groups
}

// SetCustomClaims lets you set claims to return in the id_tokens issued by the
// provider. They override the standard ones.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience values to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomAudience(aud ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetExpiresIn configures the "expires_in" of token responses and the
// lifetime of issued tokens. Zero or less omits "expires_in" from responses.
func (p *TestProvider) SetExpiresIn(secs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = secs
}

// OmitIDTokens forces an error state where /oauth2/token does not return an
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetTokenErrorStatus forces /oauth2/token to fail with the status code. Zero
// restores normal behavior.
func (p *TestProvider) SetTokenErrorStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrorStatus = code
}

// SetJWKSStatus forces the jwks endpoint to fail with the status code. Zero
// restores normal behavior.
func (p *TestProvider) SetJWKSStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksStatus = code
}

// JWKSHits returns how many requests the jwks endpoint has served.
func (p *TestProvider) JWKSHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksHits
}

// TokenRequests returns how many requests /oauth2/token has served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// Addr returns the current base URL for the test provider's running
// webserver. It's also the provider's hosted UI domain.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the "iss" of every token the provider issues.
func (p *TestProvider) Issuer() string { return p.Addr() + "/" + TestUserPoolID }

// JWKSURL returns the URL of the provider's published signing keys.
func (p *TestProvider) JWKSURL() string { return p.Issuer() + jwksPath }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http.Client that trusts the provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// Config returns a valid Config for the provider and its current client id.
func (p *TestProvider) Config(redirectURL string, opt ...Option) *Config {
	p.t.Helper()
	opts := append([]Option{WithIssuer(p.Issuer()), WithProviderCA(p.CACert())}, opt...)
	p.mu.Lock()
	clientID := p.clientID
	p.mu.Unlock()
	c, err := NewConfig(TestRegion, TestUserPoolID, clientID, p.Addr(), redirectURL, opts...)
	require.NoError(p.t, err)
	return c
}

// IDToken signs an id_token for the configured user with the provider's
// current key, the same way /oauth2/token does.
func (p *TestProvider) IDToken() IDToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return IDToken(p.signToken("id"))
}

// signToken must be called with mu held.
func (p *TestProvider) signToken(use string) string {
	now := time.Now()
	lifetime := time.Duration(p.expiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	stdClaims := jwt.Claims{
		Subject:  p.replySubject,
		Issuer:   p.Issuer(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(lifetime)),
		Audience: jwt.Audience{p.clientID},
	}
	if len(p.customAudience) > 0 {
		stdClaims.Audience = jwt.Audience(p.customAudience)
	}
	private := map[string]interface{}{
		"token_use": use,
	}
	if use == "id" {
		private["email"] = p.replyEmail
		private["cognito:username"] = p.replyUsername
		if len(p.replyGroups) > 0 {
			private["cognito:groups"] = p.replyGroups
		}
		for k, v := range p.customClaims {
			private[k] = v
		}
	}
	return TestSignJWT(p.t, p.signingKey, p.keyID, stdClaims, private)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if uri == "" {
		return false
	}
	return len(p.allowedRedirectURIs) == 0 || containsString(p.allowedRedirectURIs, uri)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case authorizePath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()

		if !p.redirectAllowed(qv.Get("redirect_uri")) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !containsString(strings.Fields(qv.Get("scope")), ScopeOpenID):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("code_challenge_method") != string(S256) || qv.Get("code_challenge") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "pkce is required")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		p.challenges[p.expectedAuthCode] = qv.Get("code_challenge")

		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/" + TestUserPoolID + jwksPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.jwksHits++
		if p.jwksStatus != 0 {
			w.WriteHeader(p.jwksStatus)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case tokenPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		if p.tokenErrorStatus != 0 {
			_ = p.writeTokenErrorResponse(w, p.tokenErrorStatus, "invalid_request", "forced failure")
			return
		}

		clientID := req.FormValue("client_id")
		if p.clientSecret != "" {
			id, secret, ok := req.BasicAuth()
			if ok {
				id, _ = url.QueryUnescape(id)
				secret, _ = url.QueryUnescape(secret)
			}
			if !ok || secret != p.clientSecret {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
				return
			}
			clientID = id
		}
		code := req.FormValue("code")
		challenge, issued := p.challenges[code]
		switch {
		case req.FormValue("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		case clientID != p.clientID:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_client", "unknown client")
			return
		case !p.redirectAllowed(req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case code != p.expectedAuthCode || !issued:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != challenge:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
			return
		}
		delete(p.challenges, code)

		reply := struct {
			IDToken      string `json:"id_token,omitempty"`
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in,omitempty"`
			TokenType    string `json:"token_type"`
		}{
			AccessToken:  p.signToken("access"),
			RefreshToken: "test-refresh-token",
			ExpiresIn:    p.expiresIn,
			TokenType:    "Bearer",
		}
		if !p.omitIDToken {
			reply.IDToken = p.signToken("id")
		}
		_ = p.writeJSON(w, &reply)

	case logoutPath:
		qv := req.URL.Query()
		if qv.Get("client_id") != p.clientID || qv.Get("logout_uri") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.Redirect(w, req, qv.Get("logout_uri"), http.StatusFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
