package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockJWKSClient is a mock implementation of JWKSClientInterface.
type mockJWKSClient struct {
	claims *Claims
	err    error
	seen   string
}

func (m *mockJWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	m.seen = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockJWKSClient) Close() {}

func TestAuthService_ValidateRequest(t *testing.T) {
	validClaims := &Claims{}
	validClaims.Subject = "user-1"

	tests := []struct {
		name      string
		header    string
		jwksErr   error
		wantErr   error
		wantToken string
	}{
		{name: "valid bearer", header: "Bearer abc.def.ghi", wantToken: "abc.def.ghi"},
		{name: "missing header", wantErr: ErrMissingAuthorization},
		{name: "basic scheme", header: "Basic dXNlcjpwdw==", wantErr: ErrInvalidAuthFormat},
		{name: "bearer without token", header: "Bearer ", wantErr: ErrInvalidAuthFormat},
		{name: "extra parts", header: "Bearer a b", wantErr: ErrInvalidAuthFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jwks := &mockJWKSClient{claims: validClaims, err: tt.jwksErr}
			svc := NewAuthService(jwks, zaptest.NewLogger(t))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			claims, token, err := svc.ValidateRequest(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Same(t, validClaims, claims)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantToken, jwks.seen)
		})
	}
}

func TestAuthService_ValidateRequest_TokenRejected(t *testing.T) {
	rejected := errors.New("token expired")
	svc := NewAuthService(&mockJWKSClient{err: rejected}, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")

	_, _, err := svc.ValidateRequest(req)
	assert.ErrorIs(t, err, rejected)
}
