// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"
)

// Session is the application session established after a successful login.
//
// It carries the provider's tokens but they are not re-validated against the
// provider once the session exists: revoking the user at the provider doesn't
// end the session before Exp.
type Session struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	Role        string `json:"role,omitempty"`
	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken"`

	// Exp is the session's expiry, in unix seconds.
	Exp int64 `json:"exp"`
}

// IsExpired reports whether the session's expiry is before now. A session
// expiring in the same second as now is still valid.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Exp < now.Unix()
}

// ExpiresAt returns Exp as a time.
func (s *Session) ExpiresAt() time.Time {
	return time.Unix(s.Exp, 0)
}

// Public is the part of a session that's safe to hand to a browser.
type Public struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	Exp      int64  `json:"exp"`
}

// Public returns the session without its tokens.
func (s *Session) Public() Public {
	return Public{
		UserID:   s.UserID,
		Email:    s.Email,
		Username: s.Username,
		Role:     s.Role,
		Exp:      s.Exp,
	}
}
