// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
	"gopkg.in/square/go-jose.v2"
)

// KeySet represents a set of keys that can be used to verify the signatures of
// JWTs issued by a provider. Implementations must be safe for concurrent use.
type KeySet interface {
	// EnsureLoaded makes sure the set holds at least one key. It returns
	// without any network activity when keys are already present.
	EnsureLoaded(ctx context.Context) error

	// Key returns the verification key published under kid.
	Key(kid string) (*jose.JSONWebKey, bool)

	// Invalidate drops every key so the next EnsureLoaded has to load them
	// again. It's used when a token references a key id the set doesn't know,
	// which is what happens after a provider rotates its keys.
	Invalidate()
}

// DefaultFetchTimeout bounds a single JWKS request.
const DefaultFetchTimeout = 10 * time.Second

// maxJWKSBytes caps the size of a JWKS response body.
const maxJWKSBytes = 1 << 20

type keyMap map[string]jose.JSONWebKey

// JSONWebKeySet is a KeySet backed by the JSON Web Key Set (JWKS) published at
// a URL. Keys are fetched lazily and kept until Invalidate is called.
//
// Readers never take a lock: the key map is replaced as a whole through an
// atomic pointer. Concurrent loaders share a single in-flight request, and each
// of them waits only as long as its own context allows.
type JSONWebKeySet struct {
	jwksURL string
	client  *http.Client
	timeout time.Duration
	logger  hclog.Logger

	keys  atomic.Pointer[keyMap]
	group singleflight.Group
}

var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that loads its keys from jwksURL.
// Supported options: WithHTTPClient, WithFetchTimeout, WithLogger
func NewJSONWebKeySet(jwksURL string, opt ...Option) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withFetchTimeout <= 0 {
		return nil, fmt.Errorf("%s: fetch timeout must be greater than zero: %w", op, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &JSONWebKeySet{
		jwksURL: jwksURL,
		client:  client,
		timeout: opts.withFetchTimeout,
		logger:  opts.withLogger,
	}, nil
}

// URL returns the JWKS endpoint the set loads from.
func (ks *JSONWebKeySet) URL() string { return ks.jwksURL }

// Len returns the number of keys currently cached.
func (ks *JSONWebKeySet) Len() int {
	m := ks.keys.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}

// Key returns the cached key for kid. It never fetches.
func (ks *JSONWebKeySet) Key(kid string) (*jose.JSONWebKey, bool) {
	m := ks.keys.Load()
	if m == nil {
		return nil, false
	}
	k, ok := (*m)[kid]
	if !ok {
		return nil, false
	}
	return &k, true
}

// Invalidate drops the cached keys.
func (ks *JSONWebKeySet) Invalidate() {
	ks.keys.Store(nil)
	ks.logger.Debug("jwks cache invalidated", "url", ks.jwksURL)
}

// EnsureLoaded fetches the key set when the cache is empty. On failure the
// cache stays empty and an error wrapping ErrJWKSFetch is returned.
func (ks *JSONWebKeySet) EnsureLoaded(ctx context.Context) error {
	const op = "JSONWebKeySet.EnsureLoaded"
	if ks.Len() > 0 {
		return nil
	}
	ch := ks.group.DoChan(ks.jwksURL, func() (interface{}, error) {
		if ks.Len() > 0 {
			return nil, nil
		}
		return nil, ks.fetch()
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("%s: %w", op, res.Err)
		}
		return nil
	}
}

// fetch runs under its own timeout rather than a caller's context, since its
// result is shared by every caller waiting on it.
func (ks *JSONWebKeySet) fetch() error {
	const op = "JSONWebKeySet.fetch"
	ctx, cancel := context.WithTimeout(context.Background(), ks.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %v: %w", op, err, ErrJWKSFetch)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		ks.logger.Error("jwks request failed", "url", ks.jwksURL, "error", err)
		return fmt.Errorf("%s: request failed: %v: %w", op, err, ErrJWKSFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ks.logger.Error("jwks request returned unexpected status", "url", ks.jwksURL, "status", resp.StatusCode)
		return fmt.Errorf("%s: unexpected status %d: %w", op, resp.StatusCode, ErrJWKSFetch)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return fmt.Errorf("%s: unable to read response: %v: %w", op, err, ErrJWKSFetch)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		ks.logger.Error("jwks response is not a key set", "url", ks.jwksURL, "error", err)
		return fmt.Errorf("%s: unable to parse key set: %v: %w", op, err, ErrJWKSFetch)
	}

	keys := make(keyMap, len(set.Keys))
	for _, k := range set.Keys {
		switch {
		case k.KeyID == "":
			continue
		case k.Use != "" && k.Use != "sig":
			continue
		}
		if _, ok := k.Key.(*rsa.PublicKey); !ok {
			continue
		}
		keys[k.KeyID] = k
	}
	if len(keys) == 0 {
		return fmt.Errorf("%s: key set has no usable RSA signing keys: %w", op, ErrJWKSFetch)
	}
	ks.keys.Store(&keys)
	ks.logger.Info("jwks fetched and cached", "url", ks.jwksURL, "keys", len(keys))
	return nil
}

// StaticKeySet is a KeySet of fixed, locally configured keys. It never fetches
// and Invalidate has no effect, which makes it a convenient stand-in for a
// provider's JWKS in tests.
type StaticKeySet struct {
	keys keyMap
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet from PEM-encoded RSA public keys, indexed
// by key id. The PEMs must be of x509 certificate or PKIX public key forms.
func NewStaticKeySet(publicKeys map[string]string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	keys := make(keyMap, len(publicKeys))
	for kid, k := range publicKeys {
		if kid == "" {
			return nil, fmt.Errorf("%s: key id is empty: %w", op, ErrInvalidParameter)
		}
		pub, err := parsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: key %q: %w", op, kid, err)
		}
		keys[kid] = jose.JSONWebKey{Key: pub, KeyID: kid, Use: "sig"}
	}
	return &StaticKeySet{keys: keys}, nil
}

// EnsureLoaded always succeeds.
func (ks *StaticKeySet) EnsureLoaded(context.Context) error { return nil }

// Key returns the key for kid.
func (ks *StaticKeySet) Key(kid string) (*jose.JSONWebKey, bool) {
	k, ok := ks.keys[kid]
	if !ok {
		return nil, false
	}
	return &k, true
}

// Invalidate is a no-op.
func (ks *StaticKeySet) Invalidate() {}

// parsePublicKeyPEM is used to parse RSA public keys from PEMs.
func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("data is not PEM encoded: %w", ErrInvalidPublicKey)
	}
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidPublicKey)
		}
		rawKey = cert.PublicKey
	}
	rsaPublicKey, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("data does not contain an RSA public key: %w", ErrInvalidPublicKey)
	}
	return rsaPublicKey, nil
}
