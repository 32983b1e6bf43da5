package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecurityContext_Anonymous(t *testing.T) {
	sc := GetSecurityContext(context.Background())
	assert.Empty(t, sc.Principal)
	assert.False(t, sc.HasMarker("tenant_id"))
	assert.Empty(t, GetPrincipalFromContext(context.Background()))
}

func TestWithSecurityContext(t *testing.T) {
	markers := map[string]string{"tenant_id": "acme", "region": ""}
	ctx := WithSecurityContext(context.Background(), SecurityContext{Principal: "cli", Markers: markers})

	sc := GetSecurityContext(ctx)
	assert.Equal(t, "cli", sc.Principal)
	assert.True(t, sc.HasMarker("tenant_id"))
	assert.False(t, sc.HasMarker("region"), "empty values do not count")
	assert.False(t, sc.HasMarker("missing"))

	markers["tenant_id"] = ""
	assert.True(t, GetSecurityContext(ctx).HasMarker("tenant_id"), "caller's map is copied")
}

func TestRequirePrincipalFromContext(t *testing.T) {
	_, err := RequirePrincipalFromContext(context.Background())
	assert.Error(t, err)

	ctx := WithSecurityContext(context.Background(), SecurityContext{Principal: "user-9"})
	p, err := RequirePrincipalFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-9", p)
}
