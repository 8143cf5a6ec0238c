// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/square/go-jose.v2"
)

// MinSecretLen is the minimum length of a codec's secret.
const MinSecretLen = 32

// Codec signs sessions into compact HS256 JWS values and verifies them back.
type Codec struct {
	secret []byte
	signer jose.Signer
}

// NewCodec creates a Codec using secret as the HMAC key. The secret must be at
// least MinSecretLen bytes.
func NewCodec(secret []byte) (*Codec, error) {
	const op = "session.NewCodec"
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%s: secret must be at least %d bytes: %w", op, MinSecretLen, ErrInvalidParameter)
	}
	key := append([]byte(nil), secret...)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	return &Codec{secret: key, signer: signer}, nil
}

// Encode serializes and signs the session. The result is a cookie-safe
// string.
func (c *Codec) Encode(s *Session) (string, error) {
	const op = "Codec.Encode"
	if s == nil {
		return "", fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal session: %w", op, err)
	}
	jws, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign session: %w", op, err)
	}
	blob, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize session: %w", op, err)
	}
	return blob, nil
}

// Decode verifies the blob's signature and only then unmarshals the session
// it carries. Any failure is returned as ErrInvalidSession.
func (c *Codec) Decode(blob string) (*Session, error) {
	const op = "Codec.Decode"
	if blob == "" {
		return nil, fmt.Errorf("%s: blob is empty: %w", op, ErrInvalidSession)
	}
	if !isCanonicalCompact(blob) {
		return nil, fmt.Errorf("%s: blob is not canonical base64url: %w", op, ErrInvalidSession)
	}
	jws, err := jose.ParseSigned(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed blob: %v: %w", op, err, ErrInvalidSession)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%s: expected one signature: %w", op, ErrInvalidSession)
	}
	if alg := jws.Signatures[0].Header.Algorithm; alg != string(jose.HS256) {
		return nil, fmt.Errorf("%s: unexpected algorithm %q: %w", op, alg, ErrInvalidSession)
	}
	payload, err := jws.Verify(c.secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrInvalidSession)
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%s: malformed payload: %v: %w", op, err, ErrInvalidSession)
	}
	return &s, nil
}

// strictEncoding rejects encodings whose unused trailing bits are set. go-jose
// decodes leniently, so distinct blobs could otherwise carry the same
// signature.
var strictEncoding = base64.RawURLEncoding.Strict()

// isCanonicalCompact reports whether blob has three segments, each of them
// canonical unpadded base64url.
func isCanonicalCompact(blob string) bool {
	parts := strings.Split(blob, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if _, err := strictEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
