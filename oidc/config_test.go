// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	_, testCaPEM := TestGenerateCA(t, []string{"localhost"})

	const (
		region   = "eu-west-1"
		pool     = "eu-west-1_AbCdEf"
		clientID = "test-client-id"
		domain   = "https://auth.example.com"
		redirect = "https://app.example.com/api/auth/callback"
	)

	type args struct {
		region      string
		userPoolID  string
		clientID    string
		domain      string
		redirectURL string
		opt         []Option
	}
	tests := []struct {
		name      string
		args      args
		want      *Config
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "defaults",
			args: args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect},
			want: &Config{
				Region:               region,
				UserPoolID:           pool,
				ClientID:             clientID,
				Domain:               domain,
				RedirectURL:          redirect,
				Scopes:               []string{ScopeOpenID, "profile", "email"},
				SupportedSigningAlgs: []Alg{RS256},
				RequestTimeout:       DefaultRequestTimeout,
			},
		},
		{
			name: "all-options",
			args: args{
				region: region, userPoolID: pool, clientID: clientID, domain: domain + "/", redirectURL: redirect,
				opt: []Option{
					WithClientSecret("secret"),
					WithScopes(ScopeOpenID, "email"),
					WithSupportedSigningAlgs(RS256, RS512),
					WithIssuer("https://issuer.example.com"),
					WithJWKSURL("https://keys.example.com/jwks.json"),
					WithLogoutRedirectURL("https://app.example.com/"),
					WithProviderCA(testCaPEM),
					WithRequestTimeout(3 * time.Second),
				},
			},
			want: &Config{
				Region:               region,
				UserPoolID:           pool,
				ClientID:             clientID,
				ClientSecret:         "secret",
				Domain:               domain,
				RedirectURL:          redirect,
				Scopes:               []string{ScopeOpenID, "email"},
				SupportedSigningAlgs: []Alg{RS256, RS512},
				Issuer:               "https://issuer.example.com",
				JWKSURL:              "https://keys.example.com/jwks.json",
				LogoutRedirectURL:    "https://app.example.com/",
				ProviderCA:           testCaPEM,
				RequestTimeout:       3 * time.Second,
			},
		},
		{
			name: "issuer-replaces-region-and-pool",
			args: args{clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithIssuer("https://issuer.example.com")}},
			want: &Config{
				ClientID:             clientID,
				Domain:               domain,
				RedirectURL:          redirect,
				Scopes:               []string{ScopeOpenID, "profile", "email"},
				SupportedSigningAlgs: []Alg{RS256},
				Issuer:               "https://issuer.example.com",
				RequestTimeout:       DefaultRequestTimeout,
			},
		},
		{
			name:      "missing-region",
			args:      args{userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "missing-client-id",
			args:      args{region: region, userPoolID: pool, domain: domain, redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-domain",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: "auth.example.com", redirectURL: redirect},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-redirect",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: "/callback"},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-issuer",
			args:      args{clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithIssuer("not a url")}},
			wantErr:   true,
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "missing-openid-scope",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithScopes("email")}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "unsupported-alg",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithSupportedSigningAlgs("HS256")}},
			wantErr:   true,
			wantIsErr: ErrUnsupportedAlg,
		},
		{
			name:      "zero-timeout",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithRequestTimeout(0)}},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-ca",
			args:      args{region: region, userPoolID: pool, clientID: clientID, domain: domain, redirectURL: redirect, opt: []Option{WithProviderCA("not a cert")}},
			wantErr:   true,
			wantIsErr: ErrInvalidCACert,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.args.region, tt.args.userPoolID, tt.args.clientID, tt.args.domain, tt.args.redirectURL, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	t.Run("reports-every-problem", func(t *testing.T) {
		assert := assert.New(t)
		c := &Config{RequestTimeout: time.Second, Scopes: []string{ScopeOpenID}, SupportedSigningAlgs: []Alg{RS256}}
		err := c.Validate()
		assert.ErrorIs(err, ErrInvalidParameter)
		for _, want := range []string{"client id", "region", "user pool id", "domain", "redirect URL"} {
			assert.Contains(err.Error(), want)
		}
	})
	t.Run("nil", func(t *testing.T) {
		var c *Config
		assert.ErrorIs(t, c.Validate(), ErrNilParameter)
	})
}

func TestConfig_Endpoints(t *testing.T) {
	t.Parallel()
	c, err := NewConfig("us-east-1", "us-east-1_Pool", "client", "https://auth.example.com", "https://app.example.com/cb")
	require.NoError(t, err)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "issuer", got: c.IssuerURL(), want: "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_Pool"},
		{name: "jwks", got: c.JWKSEndpoint(), want: "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_Pool/.well-known/jwks.json"},
		{name: "authorize", got: c.AuthEndpoint(), want: "https://auth.example.com/oauth2/authorize"},
		{name: "token", got: c.TokenEndpoint(), want: "https://auth.example.com/oauth2/token"},
		{name: "logout-empty", got: c.LogoutURL(""), want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}

	t.Run("logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		u, err := url.Parse(c.LogoutURL("https://app.example.com/"))
		require.NoError(err)
		assert.Equal("/logout", u.Path)
		assert.Equal("client", u.Query().Get("client_id"))
		assert.Equal("https://app.example.com/", u.Query().Get("logout_uri"))
	})
	t.Run("overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("", "", "client", "https://auth.example.com", "https://app.example.com/cb",
			WithIssuer("https://issuer.example.com/"), WithJWKSURL("https://keys.example.com/keys"))
		require.NoError(err)
		assert.Equal("https://issuer.example.com/", c.IssuerURL())
		assert.Equal("https://keys.example.com/keys", c.JWKSEndpoint())
	})
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	t.Run("trusts-provider-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := tp.Config("https://app.example.com/cb", WithRequestTimeout(2*time.Second))
		client, err := c.HTTPClient()
		require.NoError(err)
		assert.Equal(2*time.Second, client.Timeout)

		resp, err := client.Get(tp.JWKSURL())
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusOK, resp.StatusCode)
	})
	t.Run("bad-ca", func(t *testing.T) {
		c := &Config{ProviderCA: "bad"}
		_, err := c.HTTPClient()
		assert.ErrorIs(t, err, ErrInvalidCACert)
	})
	t.Run("context", func(t *testing.T) {
		client := &http.Client{}
		ctx := HTTPClientContext(context.Background(), client)
		assert.Equal(t, client, ctx.Value(oauth2.HTTPClient))
	})
}
