package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	required    bool
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware. When required is false,
// requests without an Authorization header pass through anonymously; a
// header that is present must still be valid.
func NewMiddleware(authService AuthService, required bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		required:    required,
		logger:      logger,
	}
}

// Authenticate validates the bearer token and stores claims plus the derived
// security context for downstream handlers.
func (m *Middleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if errors.Is(err, ErrMissingAuthorization) && !m.required {
			next(w, r)
			return
		}
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		if claims.Subject == "" {
			m.logger.Warn("Token without subject rejected", zap.String("path", r.URL.Path))
			m.unauthorized(w, "Token has no subject")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
