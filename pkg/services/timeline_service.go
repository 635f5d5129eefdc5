// Package services ties the synthesis orchestrators to the versioned store.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/models"
	"github.com/foresight-inc/foresight-engine/pkg/repositories"
	"github.com/foresight-inc/foresight-engine/pkg/timeline"
)

const (
	popularCacheKey = "foresight:popular"

	// popularCacheSize is how deep the cached ranking goes. The cache always
	// holds the full ranking so one entry serves every request limit.
	popularCacheSize = 100

	defaultPopularLimit = 20
)

// TimelineService exposes the application operations over timelines.
type TimelineService interface {
	// CreateTimeline synthesizes a new timeline from a free-text topic and
	// persists it as version 1 under a fresh slug.
	CreateTimeline(ctx context.Context, topic string, userID *uuid.UUID) (*models.TimelineVersion, error)

	// GetTimeline fetches a version (latest when version is nil) and counts
	// the view.
	GetTimeline(ctx context.Context, slug string, version *int) (*models.TimelineVersion, error)

	// ReprocessTimeline re-observes the present value and regenerates
	// predictions against the latest version's context, committing the result
	// as a new version. History is carried over unchanged.
	ReprocessTimeline(ctx context.Context, slug string, userID *uuid.UUID) (*models.TimelineVersion, error)

	// ListVersions returns a slug's version history, newest first.
	ListVersions(ctx context.Context, slug string) ([]models.VersionSummary, error)

	// Search finds public timelines by topic text.
	Search(ctx context.Context, query string, limit int) ([]*models.TimelineVersion, error)

	// ListByUser lists timelines owned by the user.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimelineVersion, error)

	// ListPopular lists public timelines by view count, served from cache
	// when Redis is configured.
	ListPopular(ctx context.Context, limit int) ([]*models.TimelineVersion, error)

	// SetVisibility changes visibility across all versions of a slug.
	SetVisibility(ctx context.Context, slug string, userID *uuid.UUID, visibility models.Visibility) error

	// DeleteTimeline removes all versions of a slug.
	DeleteTimeline(ctx context.Context, slug string, userID *uuid.UUID) error
}

type timelineService struct {
	repo          repositories.TimelineRepository
	synthesizer   *timeline.Synthesizer
	reprocessor   *timeline.Reprocessor
	cache         *redis.Client // nil when caching is disabled
	cacheTTL      time.Duration
	logger        *zap.Logger
	newSlugSuffix func() string
}

// NewTimelineService creates a new TimelineService. cache may be nil.
func NewTimelineService(
	repo repositories.TimelineRepository,
	synthesizer *timeline.Synthesizer,
	reprocessor *timeline.Reprocessor,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) TimelineService {
	return &timelineService{
		repo:        repo,
		synthesizer: synthesizer,
		reprocessor: reprocessor,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger.Named("timeline_service"),
		newSlugSuffix: func() string {
			return uuid.NewString()[:8]
		},
	}
}

var _ TimelineService = (*timelineService)(nil)

func (s *timelineService) CreateTimeline(ctx context.Context, topic string, userID *uuid.UUID) (*models.TimelineVersion, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic must not be empty")
	}

	result, err := s.synthesizer.Synthesize(ctx, topic)
	if err != nil {
		return nil, err
	}

	v := &models.TimelineVersion{
		Slug:         s.buildSlug(topic),
		Topic:        result.Topic,
		ValueLabel:   result.ValueLabel,
		PastEntries:  result.PastEntries,
		PresentEntry: result.PresentEntry,
		Predictions:  result.Predictions,
		UserID:       userID,
		Visibility:   models.VisibilityPrivate,
	}

	if err := s.repo.Save(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to persist timeline: %w", err)
	}

	s.logger.Info("Timeline created",
		zap.String("slug", v.Slug),
		zap.String("topic", topic),
		zap.Int("past_entries", len(v.PastEntries)),
		zap.Int("predictions", len(v.Predictions)))

	return v, nil
}

func (s *timelineService) GetTimeline(ctx context.Context, slug string, version *int) (*models.TimelineVersion, error) {
	return s.repo.GetBySlug(ctx, slug, version)
}

func (s *timelineService) ReprocessTimeline(ctx context.Context, slug string, userID *uuid.UUID) (*models.TimelineVersion, error) {
	latest, err := s.repo.GetLatest(ctx, slug)
	if err != nil {
		return nil, err
	}

	result, err := s.reprocessor.Reprocess(ctx, timeline.ReprocessInput{
		Slug:                slug,
		Topic:               latest.Topic,
		ValueLabel:          latest.ValueLabel,
		PastEntries:         latest.PastEntries,
		PreviousPresent:     latest.PresentEntry,
		PreviousPredictions: latest.Predictions,
	})
	if err != nil {
		return nil, err
	}

	// The prior present observation joins the historical record; curation
	// keeps per-year density bounded.
	past := append([]models.TimelineEntry{}, latest.PastEntries...)
	past = append(past, latest.PresentEntry)
	past = timeline.LimitEventsPerYear(past, timeline.MaxEventsPerYear)

	next := &models.TimelineVersion{
		Slug:         slug,
		Topic:        latest.Topic,
		ValueLabel:   latest.ValueLabel,
		PastEntries:  past,
		PresentEntry: result.PresentEntry,
		Predictions:  result.Predictions,
		UserID:       latest.UserID,
		Visibility:   latest.Visibility,
	}

	version, err := s.repo.SaveVersion(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to persist reprocessed version: %w", err)
	}

	s.logger.Info("Timeline reprocessed",
		zap.String("slug", slug),
		zap.Int("version", version),
		zap.Float64("delta_abs", result.DeltaAbs),
		zap.Float64("delta_pct", result.DeltaPct))

	return next, nil
}

func (s *timelineService) ListVersions(ctx context.Context, slug string) ([]models.VersionSummary, error) {
	return s.repo.ListVersions(ctx, slug)
}

func (s *timelineService) Search(ctx context.Context, query string, limit int) ([]*models.TimelineVersion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return s.repo.Search(ctx, query, limit)
}

func (s *timelineService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimelineVersion, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *timelineService) ListPopular(ctx context.Context, limit int) ([]*models.TimelineVersion, error) {
	if limit <= 0 || limit > popularCacheSize {
		limit = defaultPopularLimit
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, popularCacheKey).Bytes()
		if err == nil {
			var results []*models.TimelineVersion
			if err := json.Unmarshal(cached, &results); err == nil {
				if len(results) > limit {
					results = results[:limit]
				}
				return results, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("Popular cache read failed", zap.Error(err))
		}
	}

	results, err := s.repo.ListPopular(ctx, popularCacheSize)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(results); err == nil {
			if err := s.cache.Set(ctx, popularCacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("Popular cache write failed", zap.Error(err))
			}
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *timelineService) SetVisibility(ctx context.Context, slug string, userID *uuid.UUID, visibility models.Visibility) error {
	if err := s.repo.UpdateVisibility(ctx, slug, userID, visibility); err != nil {
		return err
	}
	s.invalidatePopular(ctx)
	return nil
}

func (s *timelineService) DeleteTimeline(ctx context.Context, slug string, userID *uuid.UUID) error {
	if err := s.repo.Delete(ctx, slug, userID); err != nil {
		return err
	}
	s.invalidatePopular(ctx)
	return nil
}

func (s *timelineService) invalidatePopular(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, popularCacheKey).Err(); err != nil {
		s.logger.Warn("Popular cache invalidation failed", zap.Error(err))
	}
}

// buildSlug derives a URL-safe slug from the topic plus a random suffix so
// repeated topics never collide.
func (s *timelineService) buildSlug(topic string) string {
	base := slugify(topic)
	if base == "" {
		base = "timeline"
	}
	return base + "-" + s.newSlugSuffix()
}

func slugify(text string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	return slug
}
