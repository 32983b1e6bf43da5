package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimsFromMap(t *testing.T) {
	mc := jwt.MapClaims{
		"sub":   "user-123",
		"iss":   "https://auth.example.com",
		"email": "user@example.com",
		"roles": []any{"analyst", 7},
		"ctx":   map[string]any{"tenant_id": "acme", "region": 3.0},
	}

	c, err := claimsFromMap(mc, "")
	require.NoError(t, err)
	assert.Equal(t, "user-123", c.Subject)
	assert.Equal(t, "https://auth.example.com", c.Issuer)
	assert.Equal(t, "user@example.com", c.Email)
	assert.Equal(t, []string{"analyst"}, c.Roles)
	assert.Equal(t, map[string]string{"tenant_id": "acme", "region": "3"}, c.Markers)
}

func TestClaimsFromMap_CustomMarkerClaim(t *testing.T) {
	mc := jwt.MapClaims{
		"sub": "svc",
		"ctx": map[string]any{"tenant_id": "ignored"},
		"rls": map[string]any{"tenant_id": "acme"},
	}
	c, err := claimsFromMap(mc, "rls")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tenant_id": "acme"}, c.Markers)
}

func TestClaimsFromMap_Errors(t *testing.T) {
	_, err := claimsFromMap(jwt.MapClaims{"sub": 12}, "")
	assert.Error(t, err)

	_, err = claimsFromMap(jwt.MapClaims{"sub": "a", "ctx": "tenant"}, "")
	assert.ErrorContains(t, err, `claim "ctx" must be an object`)
}

func TestClaimsFromMap_NoMarkers(t *testing.T) {
	c, err := claimsFromMap(jwt.MapClaims{"sub": "a"}, "")
	require.NoError(t, err)
	assert.Nil(t, c.Markers)
}

func TestWithClaims(t *testing.T) {
	claims := &Claims{Markers: map[string]string{"tenant_id": "acme"}}
	claims.Subject = "user-1"

	ctx := WithClaims(context.Background(), claims, "raw-token")

	got, ok := GetClaims(ctx)
	require.True(t, ok)
	assert.Same(t, claims, got)

	token, ok := GetToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "raw-token", token)

	sc := GetSecurityContext(ctx)
	assert.Equal(t, "user-1", sc.Principal)
	assert.True(t, sc.HasMarker("tenant_id"))

	// The security context holds its own copy of the markers.
	claims.Markers["tenant_id"] = ""
	assert.True(t, GetSecurityContext(ctx).HasMarker("tenant_id"))
}
