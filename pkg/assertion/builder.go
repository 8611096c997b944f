// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

// Package assertion builds the signed JWT grant assertions that the
// jwt-bearer flow exchanges for access tokens.
//
// An assertion is a compact RS256 JWS whose claims name the integration
// (iss), the impersonated account user (sub), the token authority (aud), and
// the requested scopes. Building is pure: no network, no clock reads unless
// BuildNow is used, and the same identity, key, and instant always produce
// the same serialization.
package assertion

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opensigning/signbridge/pkg/keys"
)

// SigningAlgorithm is the JWS algorithm every assertion is signed with.
// Authorities pin integration keys to RS256 (RSASSA-PKCS1-v1_5 with SHA-256).
const SigningAlgorithm = "RS256"

// Builder signs grant assertions for one identity with one integration key.
type Builder struct {
	identity   Identity
	signingKey *rsa.PrivateKey
}

// NewBuilder imports the private key material and returns a Builder for
// identity. Unusable material fails here, once, with a *keys.KeyFormatError,
// rather than on every build.
func NewBuilder(identity Identity, keyMaterial string) (*Builder, error) {
	key, err := keys.ParsePrivateKey(keyMaterial)
	if err != nil {
		return nil, err
	}
	return NewBuilderWithKey(identity, key), nil
}

// NewBuilderWithKey returns a Builder around an already imported signing key.
func NewBuilderWithKey(identity Identity, key *rsa.PrivateKey) *Builder {
	return &Builder{
		identity:   identity,
		signingKey: key,
	}
}

// Identity returns the identity assertions are built for.
func (b *Builder) Identity() Identity {
	return b.identity
}

// Build signs an assertion issued at the given instant. Timestamps are
// truncated to whole seconds on serialization.
func (b *Builder) Build(at time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, NewClaims(b.identity, at))
	signed, err := token.SignedString(b.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// BuildNow signs an assertion issued at the current instant.
func (b *Builder) BuildNow() (string, error) {
	return b.Build(time.Now())
}
