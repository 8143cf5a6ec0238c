// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config reads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gearshelf/idpauth/oidc"
	"github.com/gearshelf/idpauth/session"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// ProductionEnv is the APP_ENV value of production deployments, which get
// Secure cookies.
const ProductionEnv = "production"

// Env is the configuration read from the environment.
type Env struct {
	Region            string        `env:"COGNITO_REGION" env-description:"user pool region"`
	UserPoolID        string        `env:"COGNITO_USER_POOL_ID" env-description:"user pool id"`
	ClientID          string        `env:"COGNITO_APP_CLIENT_ID" env-description:"app client id"`
	ClientSecret      string        `env:"COGNITO_APP_CLIENT_SECRET" env-description:"app client secret, for confidential clients"`
	Domain            string        `env:"COGNITO_DOMAIN" env-description:"hosted UI base URL"`
	RedirectURI       string        `env:"COGNITO_REDIRECT_URI" env-description:"registered callback URL"`
	Issuer            string        `env:"COGNITO_ISSUER" env-description:"issuer override, replaces region and user pool id"`
	JWKSURL           string        `env:"COGNITO_JWKS_URL" env-description:"JWKS URL override"`
	LogoutRedirectURI string        `env:"COGNITO_LOGOUT_REDIRECT_URI" env-description:"URL the hosted UI returns to after logout"`
	AuthSecret        string        `env:"AUTH_SECRET" env-description:"session signing secret, at least 32 bytes"`
	AppEnv            string        `env:"APP_ENV" env-default:"development" env-description:"production enables Secure cookies"`
	RequestTimeout    time.Duration `env:"IDP_REQUEST_TIMEOUT" env-default:"10s" env-description:"timeout of requests to the provider"`
	ListenAddr        string        `env:"LISTEN_ADDR" env-default:":3000" env-description:"address the server listens on"`
	LogLevel          string        `env:"LOG_LEVEL" env-default:"info" env-description:"trace, debug, info, warn or error"`
}

// Load reads the configuration. Dotenv files are loaded first (see
// WithEnvFiles), then the environment is read and validated. Every missing or
// invalid value is reported.
func Load(opt ...Option) (*Env, error) {
	const op = "config.Load"
	opts := getLoadOpts(opt...)
	for _, f := range opts.withEnvFiles {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("%s: unable to load %s: %w", op, f, err)
		}
	}
	var e Env
	if err := cleanenv.ReadEnv(&e); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrInvalidValue)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &e, nil
}

// Validate reports every missing or invalid value.
func (e *Env) Validate() error {
	const op = "Env.Validate"
	var errs *multierror.Error
	missing := func(key string) {
		errs = multierror.Append(errs, fmt.Errorf("%s: %s: %w", op, key, ErrMissingValue))
	}
	if e.Issuer == "" {
		if e.Region == "" {
			missing("COGNITO_REGION")
		}
		if e.UserPoolID == "" {
			missing("COGNITO_USER_POOL_ID")
		}
	}
	if e.ClientID == "" {
		missing("COGNITO_APP_CLIENT_ID")
	}
	if e.Domain == "" {
		missing("COGNITO_DOMAIN")
	}
	if e.RedirectURI == "" {
		missing("COGNITO_REDIRECT_URI")
	}
	switch {
	case e.AuthSecret == "":
		missing("AUTH_SECRET")
	case len(e.AuthSecret) < session.MinSecretLen:
		errs = multierror.Append(errs, fmt.Errorf("%s: AUTH_SECRET must be at least %d bytes: %w", op, session.MinSecretLen, ErrInvalidValue))
	}
	if e.RequestTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: IDP_REQUEST_TIMEOUT must be greater than zero: %w", op, ErrInvalidValue))
	}
	if e.Level() == hclog.NoLevel {
		errs = multierror.Append(errs, fmt.Errorf("%s: LOG_LEVEL %q: %w", op, e.LogLevel, ErrInvalidValue))
	}
	return errs.ErrorOrNil()
}

// Production reports whether APP_ENV is production.
func (e *Env) Production() bool {
	return strings.EqualFold(e.AppEnv, ProductionEnv)
}

// Secret returns the session signing secret.
func (e *Env) Secret() []byte {
	return []byte(e.AuthSecret)
}

// Level returns LOG_LEVEL as an hclog level, NoLevel when it isn't one.
func (e *Env) Level() hclog.Level {
	return hclog.LevelFromString(e.LogLevel)
}

// ProviderConfig returns the provider configuration.
func (e *Env) ProviderConfig() (*oidc.Config, error) {
	const op = "Env.ProviderConfig"
	opts := []oidc.Option{
		oidc.WithRequestTimeout(e.RequestTimeout),
	}
	if e.ClientSecret != "" {
		opts = append(opts, oidc.WithClientSecret(oidc.ClientSecret(e.ClientSecret)))
	}
	if e.Issuer != "" {
		opts = append(opts, oidc.WithIssuer(e.Issuer))
	}
	if e.JWKSURL != "" {
		opts = append(opts, oidc.WithJWKSURL(e.JWKSURL))
	}
	if e.LogoutRedirectURI != "" {
		opts = append(opts, oidc.WithLogoutRedirectURL(e.LogoutRedirectURI))
	}
	c, err := oidc.NewConfig(e.Region, e.UserPoolID, e.ClientID, e.Domain, e.RedirectURI, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Usage describes the environment variables read by Load.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Env{}, nil)
	if err != nil {
		return ""
	}
	return desc
}
