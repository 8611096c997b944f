// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

package assertion

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime is how long an assertion stays valid after its issue instant.
// Authorities reject grants that claim a longer window.
const Lifetime = time.Hour

// Identity names the integration and the account user a grant is requested
// for. Every claim in an assertion derives from it.
type Identity struct {
	// IntegrationKey identifies the registered integration (the iss claim).
	IntegrationKey string
	// UserID is the account user the integration acts on behalf of (the sub
	// claim).
	UserID string
	// Authority is the token authority host the assertion is addressed to
	// (the aud claim).
	Authority string
	// Scope is the space-separated list of scopes the grant requests.
	Scope string
}

// Claims is the claim set carried by a grant assertion.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// NewClaims assembles the claim set for identity issued at the given instant.
// Expiry is always the issue instant plus Lifetime.
func NewClaims(identity Identity, at time.Time) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    identity.IntegrationKey,
			Subject:   identity.UserID,
			Audience:  []string{identity.Authority},
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(at.Add(Lifetime)),
		},
		Scope: identity.Scope,
	}
}
