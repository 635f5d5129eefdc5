package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware attaches caller identity to requests.
type Middleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(validator TokenValidator, logger *zap.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// Identify resolves optional caller identity. Requests without a bearer
// token proceed anonymously; requests that present a token must present a
// valid one and get 401 otherwise. Ownership-gated operations downstream
// reject anonymous callers themselves.
func (m *Middleware) Identify(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next(w, r)
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireAuth is Identify plus a hard requirement that the caller is
// authenticated with a parseable user ID.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return m.Identify(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == nil {
			m.unauthorized(w, "Authentication required")
			return
		}
		next(w, r)
	})
}

// bearerToken extracts the token from the Authorization header, or returns
// the empty string when none is present.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
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
