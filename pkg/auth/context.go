package auth

import (
	"context"
	"fmt"
	"maps"
)

const securityContextKey contextKey = "security_context"

// SecurityContext identifies the caller of a pipeline run. Markers are the
// row-security context values (for example tenant_id) the caller is allowed
// to query under.
type SecurityContext struct {
	Principal string
	Markers   map[string]string
}

// HasMarker reports whether the marker is present with a non-empty value.
func (s SecurityContext) HasMarker(name string) bool {
	return s.Markers[name] != ""
}

// WithSecurityContext returns a context carrying sc. Callers outside HTTP
// (the CLI, tests) use it directly; the middleware derives it from claims.
func WithSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	sc.Markers = maps.Clone(sc.Markers)
	return context.WithValue(ctx, securityContextKey, sc)
}

// GetSecurityContext returns the security context stored in ctx, or an
// anonymous one without markers.
func GetSecurityContext(ctx context.Context) SecurityContext {
	if sc, ok := ctx.Value(securityContextKey).(SecurityContext); ok {
		return sc
	}
	return SecurityContext{}
}

// GetPrincipalFromContext returns the caller's principal, or "" when the
// request is anonymous.
func GetPrincipalFromContext(ctx context.Context) string {
	return GetSecurityContext(ctx).Principal
}

// RequirePrincipalFromContext returns the principal or an error if the
// request is anonymous.
func RequirePrincipalFromContext(ctx context.Context) (string, error) {
	p := GetPrincipalFromContext(ctx)
	if p == "" {
		return "", fmt.Errorf("principal not found in context")
	}
	return p, nil
}
