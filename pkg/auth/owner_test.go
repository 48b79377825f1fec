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

package auth_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tombee/taskcore/pkg/auth"
)

func TestResolveOwnerFallsBackToLocal(t *testing.T) {
	r := auth.NewResolver(auth.Config{})
	owner, err := r.ResolveOwner(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, auth.LocalOwner, owner)
}

func TestResolveOwnerFromValidToken(t *testing.T) {
	secret := []byte("test-secret")
	r := auth.NewResolver(auth.Config{Secret: secret})

	claims := auth.Claims{OwnerID: "acme-corp"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	owner, err := r.ResolveOwner(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "acme-corp", owner)
}

func TestResolveOwnerRejectsBadSignature(t *testing.T) {
	r := auth.NewResolver(auth.Config{Secret: []byte("right-secret")})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{OwnerID: "acme-corp"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = r.ResolveOwner(context.Background(), signed)
	require.Error(t, err)
}

func TestResolveOwnerRequiresOwnerClaim(t *testing.T) {
	secret := []byte("test-secret")
	r := auth.NewResolver(auth.Config{Secret: secret})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = r.ResolveOwner(context.Background(), signed)
	require.Error(t, err)
}
