// Package auth validates bearer tokens and carries the caller's identity and
// row-security markers through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// DefaultMarkerClaim is the claim that carries row-security markers when no
// other claim is configured.
const DefaultMarkerClaim = "ctx"

// Claims is the validated content of a bearer token. Markers are copied from
// the configured marker claim, e.g. {"ctx": {"tenant_id": "acme"}}.
type Claims struct {
	jwt.RegisteredClaims
	Email   string            `json:"email,omitempty"`
	Roles   []string          `json:"roles,omitempty"`
	Markers map[string]string `json:"-"`
}

// claimsFromMap converts parsed token claims. Marker values that are not
// strings are formatted with %v; a marker claim that is not an object is an
// error.
func claimsFromMap(mc jwt.MapClaims, markerClaim string) (*Claims, error) {
	if markerClaim == "" {
		markerClaim = DefaultMarkerClaim
	}

	c := &Claims{}
	var err error
	if c.Subject, err = mc.GetSubject(); err != nil {
		return nil, err
	}
	if c.Issuer, err = mc.GetIssuer(); err != nil {
		return nil, err
	}
	if c.Audience, err = mc.GetAudience(); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = mc.GetExpirationTime(); err != nil {
		return nil, err
	}
	if c.IssuedAt, err = mc.GetIssuedAt(); err != nil {
		return nil, err
	}
	if email, ok := mc["email"].(string); ok {
		c.Email = email
	}
	if roles, ok := mc["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	}

	raw, present := mc[markerClaim]
	if !present || raw == nil {
		return c, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("claim %q must be an object", markerClaim)
	}
	c.Markers = make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			c.Markers[k] = s
		} else {
			c.Markers[k] = fmt.Sprintf("%v", v)
		}
	}
	return c, nil
}

// ErrNoClaims is returned when a request context carries no claims.
var ErrNoClaims = errors.New("authentication required: no claims in context")

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims stores validated claims and their token in ctx, together with the
// security context derived from them.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	ctx = context.WithValue(ctx, TokenKey, token)
	return WithSecurityContext(ctx, SecurityContext{
		Principal: claims.Subject,
		Markers:   maps.Clone(claims.Markers),
	})
}
