package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/auth"
	"github.com/foresight-inc/foresight-engine/pkg/models"
)

// stubService is a canned-response TimelineService for handler tests.
type stubService struct {
	timeline *models.TimelineVersion
	versions []models.VersionSummary
	err      error

	gotTopic   string
	gotSlug    string
	gotVersion *int
}

func (s *stubService) CreateTimeline(ctx context.Context, topic string, userID *uuid.UUID) (*models.TimelineVersion, error) {
	s.gotTopic = topic
	return s.timeline, s.err
}

func (s *stubService) GetTimeline(ctx context.Context, slug string, version *int) (*models.TimelineVersion, error) {
	s.gotSlug = slug
	s.gotVersion = version
	return s.timeline, s.err
}

func (s *stubService) ReprocessTimeline(ctx context.Context, slug string, userID *uuid.UUID) (*models.TimelineVersion, error) {
	s.gotSlug = slug
	return s.timeline, s.err
}

func (s *stubService) ListVersions(ctx context.Context, slug string) ([]models.VersionSummary, error) {
	return s.versions, s.err
}

func (s *stubService) Search(ctx context.Context, query string, limit int) ([]*models.TimelineVersion, error) {
	return nil, s.err
}

func (s *stubService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimelineVersion, error) {
	return nil, s.err
}

func (s *stubService) ListPopular(ctx context.Context, limit int) ([]*models.TimelineVersion, error) {
	return nil, s.err
}

func (s *stubService) SetVisibility(ctx context.Context, slug string, userID *uuid.UUID, visibility models.Visibility) error {
	s.gotSlug = slug
	return s.err
}

func (s *stubService) DeleteTimeline(ctx context.Context, slug string, userID *uuid.UUID) error {
	s.gotSlug = slug
	return s.err
}

type allowAllValidator struct{}

func (allowAllValidator) ValidateToken(string) (*auth.Claims, error) {
	return nil, fmt.Errorf("no tokens in these tests")
}

func newTestMux(svc *stubService) *http.ServeMux {
	logger := zap.NewNop()
	mux := http.NewServeMux()
	h := NewTimelineHandler(svc, logger)
	h.RegisterRoutes(mux, auth.NewMiddleware(allowAllValidator{}, logger))
	return mux
}

func sampleTimeline() *models.TimelineVersion {
	return &models.TimelineVersion{
		ID:         uuid.New(),
		Slug:       "bitcoin-price-abc123",
		Version:    1,
		Topic:      "bitcoin price",
		ValueLabel: "USD",
		Visibility: models.VisibilityPrivate,
	}
}

func TestCreate_Success(t *testing.T) {
	svc := &stubService{timeline: sampleTimeline()}
	mux := newTestMux(svc)

	body := strings.NewReader(`{"topic": "bitcoin price"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/timelines", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bitcoin price", svc.gotTopic)

	var resp models.TimelineVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bitcoin-price-abc123", resp.Slug)
}

func TestCreate_MissingTopic(t *testing.T) {
	mux := newTestMux(&stubService{})
	req := httptest.NewRequest(http.MethodPost, "/api/timelines", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_GenerationFailure(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("%w: every tier failed", apperrors.ErrGenerationFailed)}
	mux := newTestMux(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/timelines", strings.NewReader(`{"topic": "x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "every tier failed",
		"diagnostic detail stays in logs, not in the response")
}

func TestGet_VersionQuery(t *testing.T) {
	svc := &stubService{timeline: sampleTimeline()}
	mux := newTestMux(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/timelines/bitcoin-price-abc123?version=2", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.gotVersion)
	assert.Equal(t, 2, *svc.gotVersion)
}

func TestGet_InvalidVersion(t *testing.T) {
	mux := newTestMux(&stubService{timeline: sampleTimeline()})
	req := httptest.NewRequest(http.MethodGet, "/api/timelines/x?version=zero", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_NotFound(t *testing.T) {
	mux := newTestMux(&stubService{err: apperrors.ErrNotFound})
	req := httptest.NewRequest(http.MethodGet, "/api/timelines/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete_RequiresAuth(t *testing.T) {
	mux := newTestMux(&stubService{})
	req := httptest.NewRequest(http.MethodDelete, "/api/timelines/x", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateVisibility_InvalidValue(t *testing.T) {
	// RequireAuth runs first, so an anonymous request never reaches validation.
	mux := newTestMux(&stubService{})
	req := httptest.NewRequest(http.MethodPatch, "/api/timelines/x/visibility",
		strings.NewReader(`{"visibility": "secret"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListVersions(t *testing.T) {
	svc := &stubService{versions: []models.VersionSummary{{Version: 2}, {Version: 1}}}
	mux := newTestMux(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/timelines/x/versions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp VersionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestListVersions_UnknownSlug(t *testing.T) {
	mux := newTestMux(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/api/timelines/missing/versions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList_UserWithoutIdentity(t *testing.T) {
	mux := newTestMux(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/api/timelines?user=me", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReprocess_ConflictMapsTo409(t *testing.T) {
	mux := newTestMux(&stubService{err: apperrors.ErrConflict})
	req := httptest.NewRequest(http.MethodPost, "/api/timelines/x/reprocess", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrForbidden, http.StatusForbidden},
		{apperrors.ErrNotPrivate, http.StatusConflict},
		{apperrors.ErrConflict, http.StatusConflict},
		{apperrors.ErrGenerationFailed, http.StatusBadGateway},
	}

	for _, tc := range cases {
		mux := newTestMux(&stubService{err: tc.err})
		req := httptest.NewRequest(http.MethodPost, "/api/timelines/x/reprocess", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}
