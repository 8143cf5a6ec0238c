// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import "errors"

var (
	ErrMissingValue = errors.New("missing required value")
	ErrInvalidValue = errors.New("invalid value")
)
