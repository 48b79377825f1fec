// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth resolves the owner_id every task is scoped to: from an
// authenticated bearer token's claims when one is present, falling back to
// the conventional "local" owner for single-tenant deployments.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalOwner is the conventional owner used when no authenticated context
// is available.
const LocalOwner = "local"

// Claims is the subset of JWT claims the router needs to resolve an owner.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id,omitempty"`
}

// Config configures bearer-token validation for owner resolution.
type Config struct {
	// Secret is the HS256 signing key. A zero Config (no secret) means JWT
	// validation is disabled entirely and ResolveOwner always returns
	// LocalOwner — the documented single-tenant fallback.
	Secret []byte

	// Issuer, if set, is required to match the token's iss claim.
	Issuer string

	// ClockSkew allows for clock skew when validating exp/nbf/iat.
	ClockSkew time.Duration
}

// Resolver resolves an owner_id from an inbound bearer token, or LocalOwner
// if none is configured or present.
type Resolver struct {
	cfg Config
}

// NewResolver constructs a Resolver. The zero Config disables JWT
// validation entirely.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// ResolveOwner validates bearerToken (the raw token string, without a
// "Bearer " prefix) and returns the owner_id it authenticates. An empty
// token, or a Resolver with no Secret configured, resolves to LocalOwner —
// this is the conventional single-tenant fallback, not
// an error condition.
func (r *Resolver) ResolveOwner(ctx context.Context, bearerToken string) (string, error) {
	if len(r.cfg.Secret) == 0 || bearerToken == "" {
		return LocalOwner, nil
	}

	parser := jwt.NewParser(jwt.WithLeeway(r.cfg.ClockSkew))
	token, err := parser.ParseWithClaims(bearerToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return r.cfg.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("validate bearer token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("bearer token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	if r.cfg.Issuer != "" && claims.Issuer != r.cfg.Issuer {
		return "", fmt.Errorf("invalid issuer: expected %s, got %s", r.cfg.Issuer, claims.Issuer)
	}
	if claims.OwnerID == "" {
		return "", fmt.Errorf("token carries no owner_id claim")
	}
	return claims.OwnerID, nil
}
