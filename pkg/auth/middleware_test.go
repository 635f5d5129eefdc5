package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubValidator struct {
	claims *Claims
	err    error
}

func (s *stubValidator) ValidateToken(tokenString string) (*Claims, error) {
	return s.claims, s.err
}

func claimsForUser(userID uuid.UUID) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
	}
}

func TestIdentify_NoToken_Anonymous(t *testing.T) {
	m := NewMiddleware(&stubValidator{}, zap.NewNop())

	var userID *uuid.UUID
	handler := m.Identify(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/timelines", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, userID, "missing token means anonymous, not rejected")
}

func TestIdentify_ValidToken_SetsIdentity(t *testing.T) {
	expected := uuid.New()
	m := NewMiddleware(&stubValidator{claims: claimsForUser(expected)}, zap.NewNop())

	var userID *uuid.UUID
	handler := m.Identify(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/timelines", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, userID)
	assert.Equal(t, expected, *userID)
}

func TestIdentify_InvalidToken_Unauthorized(t *testing.T) {
	m := NewMiddleware(&stubValidator{err: errors.New("expired")}, zap.NewNop())

	called := false
	handler := m.Identify(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/timelines", nil)
	req.Header.Set("Authorization", "Bearer bad.token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called, "presented-but-invalid tokens must not fall back to anonymous")
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	m := NewMiddleware(&stubValidator{}, zap.NewNop())

	handler := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodDelete, "/api/timelines/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_RejectsNonUUIDSubject(t *testing.T) {
	m := NewMiddleware(&stubValidator{claims: &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "service-account"},
	}}, zap.NewNop())

	handler := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/timelines/x", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", bearerToken(req), "scheme match is case-insensitive")

	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	assert.Equal(t, "", bearerToken(req))
}
