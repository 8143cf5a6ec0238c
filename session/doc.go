// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package session provides the application's own session record and the codec
that turns it into a signed cookie value.

A Session is created once, after the provider's id_token has been verified, and
is never mutated afterwards. Its only trust anchor is the HMAC secret given to
NewCodec: a value that fails signature verification is never decoded.
*/
package session
