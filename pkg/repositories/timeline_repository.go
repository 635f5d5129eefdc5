// Package repositories provides data access for versioned timelines.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/database"
	"github.com/foresight-inc/foresight-engine/pkg/models"
	"github.com/foresight-inc/foresight-engine/pkg/retry"
)

// TimelineRepository persists timeline versions. Each slug owns versions
// 1..N; versions are immutable after creation except for view counts.
type TimelineRepository interface {
	// Save creates version 1 for an unseen slug, or overwrites the content of
	// the current highest version in place (same version number, original
	// createdAt and viewCount preserved). "Edit last draft" semantics.
	Save(ctx context.Context, v *models.TimelineVersion) error

	// SaveVersion always creates a new version numbered one above the current
	// max, copying createdAt from version 1 and resetting viewCount.
	// "Commit new snapshot" semantics. Returns the assigned version number.
	SaveVersion(ctx context.Context, v *models.TimelineVersion) (int, error)

	// GetBySlug returns the requested version, or the highest version when
	// version is nil. Increments that version's view count and returns the
	// post-increment value.
	GetBySlug(ctx context.Context, slug string, version *int) (*models.TimelineVersion, error)

	// GetLatest returns the highest version without touching view counts.
	// Internal read used by reprocessing and ownership checks.
	GetLatest(ctx context.Context, slug string) (*models.TimelineVersion, error)

	// ListVersions returns the per-version history for a slug, newest first.
	ListVersions(ctx context.Context, slug string) ([]models.VersionSummary, error)

	// Search returns the latest version per matching non-private slug, ranked
	// by text relevance.
	Search(ctx context.Context, query string, limit int) ([]*models.TimelineVersion, error)

	// ListByUser returns the latest version per slug owned by the user,
	// newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimelineVersion, error)

	// ListPopular returns the latest version per non-private slug, ranked by
	// view count then recency.
	ListPopular(ctx context.Context, limit int) ([]*models.TimelineVersion, error)

	// UpdateVisibility sets the visibility of every version of the slug.
	// Only the owner of the latest version may change it.
	UpdateVisibility(ctx context.Context, slug string, userID *uuid.UUID, visibility models.Visibility) error

	// Delete removes every version of the slug. Permitted only for the owner
	// of the latest version, and only while that version is private.
	Delete(ctx context.Context, slug string, userID *uuid.UUID) error
}

type timelineRepository struct {
	db *database.DB
}

// NewTimelineRepository creates a new TimelineRepository.
func NewTimelineRepository(db *database.DB) TimelineRepository {
	return &timelineRepository{db: db}
}

var _ TimelineRepository = (*timelineRepository)(nil)

const timelineColumns = `id, slug, version, topic, value_label, past_entries, present_entry,
	predictions, user_id, visibility, view_count, created_at, updated_at`

func (r *timelineRepository) Save(ctx context.Context, v *models.TimelineVersion) error {
	if err := v.Validate(); err != nil {
		return err
	}

	pastJSON, presentJSON, predictionsJSON, err := marshalPayload(v)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	// Content-only update of the latest version: version number, createdAt,
	// viewCount, ownership and visibility all stay as they were.
	updateQuery := `
		UPDATE engine_timelines
		SET topic = $2, value_label = $3, past_entries = $4, present_entry = $5,
		    predictions = $6, updated_at = $7
		WHERE slug = $1
		  AND version = (SELECT MAX(version) FROM engine_timelines WHERE slug = $1)
		RETURNING version, view_count, created_at, user_id, visibility`

	row := r.db.QueryRow(ctx, updateQuery,
		v.Slug, v.Topic, v.ValueLabel, pastJSON, presentJSON, predictionsJSON, now)
	err = row.Scan(&v.Version, &v.ViewCount, &v.CreatedAt, &v.UserID, &v.Visibility)
	if err == nil {
		v.UpdatedAt = now
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update latest version: %w", err)
	}

	// Unseen slug: create version 1.
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Version = 1
	v.ViewCount = 0
	v.CreatedAt = now
	v.UpdatedAt = now

	insertQuery := `
		INSERT INTO engine_timelines (
			id, slug, version, topic, value_label, past_entries, present_entry,
			predictions, user_id, visibility, view_count, created_at, updated_at
		) VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)`

	_, err = r.db.Exec(ctx, insertQuery,
		v.ID, v.Slug, v.Topic, v.ValueLabel, pastJSON, presentJSON, predictionsJSON,
		v.UserID, v.Visibility, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: concurrent create for slug %s", apperrors.ErrConflict, v.Slug)
		}
		return fmt.Errorf("failed to create timeline: %w", err)
	}
	return nil
}

// versionConflictError marks a lost version-number race as retryable so the
// retry package re-runs the insert against a fresh max-version read.
type versionConflictError struct {
	slug string
}

func (e *versionConflictError) Error() string {
	return fmt.Sprintf("version conflict for slug %s", e.slug)
}

func (e *versionConflictError) IsRetryable() bool { return true }

func (r *timelineRepository) SaveVersion(ctx context.Context, v *models.TimelineVersion) (int, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}

	pastJSON, presentJSON, predictionsJSON, err := marshalPayload(v)
	if err != nil {
		return 0, err
	}

	// The next version number is computed from a read that may be stale under
	// concurrent writers; the unique (slug, version) constraint is the
	// arbiter and losers retry with a fresh read.
	query := `
		INSERT INTO engine_timelines (
			id, slug, version, topic, value_label, past_entries, present_entry,
			predictions, user_id, visibility, view_count, created_at, updated_at
		)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, $7, $8, $9, 0,
		       COALESCE(MIN(created_at), $10), $10
		FROM engine_timelines WHERE slug = $2
		RETURNING version, created_at`

	retryCfg := &retry.Config{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}

	err = retry.DoIfRetryable(ctx, retryCfg, func() error {
		id := uuid.New()
		now := time.Now().UTC()
		row := r.db.QueryRow(ctx, query,
			id, v.Slug, v.Topic, v.ValueLabel, pastJSON, presentJSON, predictionsJSON,
			v.UserID, v.Visibility, now)
		if scanErr := row.Scan(&v.Version, &v.CreatedAt); scanErr != nil {
			if isUniqueViolation(scanErr) {
				return &versionConflictError{slug: v.Slug}
			}
			return fmt.Errorf("failed to insert version: %w", scanErr)
		}
		v.ID = id
		v.ViewCount = 0
		v.UpdatedAt = now
		return nil
	})
	if err != nil {
		var conflict *versionConflictError
		if errors.As(err, &conflict) {
			return 0, fmt.Errorf("%w: version race for slug %s", apperrors.ErrConflict, v.Slug)
		}
		return 0, err
	}

	return v.Version, nil
}

func (r *timelineRepository) GetBySlug(ctx context.Context, slug string, version *int) (*models.TimelineVersion, error) {
	// Fetch and count the view in one atomic statement; the returned count is
	// post-increment.
	query := `
		UPDATE engine_timelines
		SET view_count = view_count + 1
		WHERE slug = $1
		  AND version = COALESCE($2::int, (SELECT MAX(version) FROM engine_timelines WHERE slug = $1))
		RETURNING ` + timelineColumns

	row := r.db.QueryRow(ctx, query, slug, version)
	v, err := scanTimelineRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *timelineRepository) GetLatest(ctx context.Context, slug string) (*models.TimelineVersion, error) {
	query := `
		SELECT ` + timelineColumns + `
		FROM engine_timelines
		WHERE slug = $1
		ORDER BY version DESC
		LIMIT 1`

	row := r.db.QueryRow(ctx, query, slug)
	v, err := scanTimelineRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *timelineRepository) ListVersions(ctx context.Context, slug string) ([]models.VersionSummary, error) {
	query := `
		SELECT version, created_at, (present_entry->>'value')::double precision
		FROM engine_timelines
		WHERE slug = $1
		ORDER BY version DESC`

	rows, err := r.db.Query(ctx, query, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var summaries []models.VersionSummary
	for rows.Next() {
		var s models.VersionSummary
		if err := rows.Scan(&s.Version, &s.CreatedAt, &s.PresentValue); err != nil {
			return nil, fmt.Errorf("failed to scan version summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// latestPerSlug deduplicates: only the highest version per slug survives.
const latestPerSlug = `
	SELECT DISTINCT ON (slug) ` + timelineColumns + `
	FROM engine_timelines
	ORDER BY slug, version DESC`

func (r *timelineRepository) Search(ctx context.Context, query string, limit int) ([]*models.TimelineVersion, error) {
	sql := `
		SELECT ` + timelineColumns + ` FROM (` + latestPerSlug + `) t
		WHERE t.visibility <> 'private' AND t.topic ILIKE '%' || $1 || '%'
		ORDER BY ts_rank(to_tsvector('english', t.topic), plainto_tsquery('english', $1)) DESC,
		         t.updated_at DESC
		LIMIT $2`

	return r.queryTimelines(ctx, sql, query, clampLimit(limit))
}

func (r *timelineRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimelineVersion, error) {
	sql := `
		SELECT ` + timelineColumns + ` FROM (` + latestPerSlug + `) t
		WHERE t.user_id = $1
		ORDER BY t.updated_at DESC
		LIMIT $2`

	return r.queryTimelines(ctx, sql, userID, clampLimit(limit))
}

func (r *timelineRepository) ListPopular(ctx context.Context, limit int) ([]*models.TimelineVersion, error) {
	sql := `
		SELECT ` + timelineColumns + ` FROM (` + latestPerSlug + `) t
		WHERE t.visibility <> 'private'
		ORDER BY t.view_count DESC, t.updated_at DESC
		LIMIT $1`

	return r.queryTimelines(ctx, sql, clampLimit(limit))
}

func (r *timelineRepository) UpdateVisibility(ctx context.Context, slug string, userID *uuid.UUID, visibility models.Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	owner, _, err := latestOwnership(ctx, tx, slug)
	if err != nil {
		return err
	}
	if owner == nil || userID == nil || *owner != *userID {
		return apperrors.ErrForbidden
	}

	// Visibility belongs to the logical timeline: every version follows.
	if _, err := tx.Exec(ctx,
		`UPDATE engine_timelines SET visibility = $2 WHERE slug = $1`,
		slug, visibility); err != nil {
		return fmt.Errorf("failed to update visibility: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *timelineRepository) Delete(ctx context.Context, slug string, userID *uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	owner, visibility, err := latestOwnership(ctx, tx, slug)
	if err != nil {
		return err
	}
	if owner == nil || userID == nil || *owner != *userID {
		return apperrors.ErrForbidden
	}
	if visibility != models.VisibilityPrivate {
		return apperrors.ErrNotPrivate
	}

	if _, err := tx.Exec(ctx, `DELETE FROM engine_timelines WHERE slug = $1`, slug); err != nil {
		return fmt.Errorf("failed to delete timeline: %w", err)
	}

	return tx.Commit(ctx)
}

// latestOwnership reads the owner and visibility of the slug's latest version
// inside the caller's transaction.
func latestOwnership(ctx context.Context, tx pgx.Tx, slug string) (*uuid.UUID, models.Visibility, error) {
	var owner *uuid.UUID
	var visibility models.Visibility
	err := tx.QueryRow(ctx, `
		SELECT user_id, visibility
		FROM engine_timelines
		WHERE slug = $1
		ORDER BY version DESC
		LIMIT 1`, slug).Scan(&owner, &visibility)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read ownership: %w", err)
	}
	return owner, visibility, nil
}

func (r *timelineRepository) queryTimelines(ctx context.Context, sql string, args ...any) ([]*models.TimelineVersion, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timelines: %w", err)
	}
	defer rows.Close()

	var results []*models.TimelineVersion
	for rows.Next() {
		v, err := scanTimelineRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalPayload(v *models.TimelineVersion) (pastJSON, presentJSON, predictionsJSON []byte, err error) {
	past := v.PastEntries
	if past == nil {
		past = []models.TimelineEntry{}
	}
	pastJSON, err = json.Marshal(past)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal past_entries: %w", err)
	}

	presentJSON, err = json.Marshal(v.PresentEntry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal present_entry: %w", err)
	}

	predictions := v.Predictions
	if predictions == nil {
		predictions = []models.Prediction{}
	}
	predictionsJSON, err = json.Marshal(predictions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal predictions: %w", err)
	}

	return pastJSON, presentJSON, predictionsJSON, nil
}

func scanTimelineRow(row pgx.Row) (*models.TimelineVersion, error) {
	var v models.TimelineVersion
	var pastJSON, presentJSON, predictionsJSON []byte

	err := row.Scan(
		&v.ID, &v.Slug, &v.Version, &v.Topic, &v.ValueLabel,
		&pastJSON, &presentJSON, &predictionsJSON,
		&v.UserID, &v.Visibility, &v.ViewCount, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan timeline: %w", err)
	}

	if len(pastJSON) > 0 {
		if err := json.Unmarshal(pastJSON, &v.PastEntries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal past_entries: %w", err)
		}
	}
	if len(presentJSON) > 0 {
		if err := json.Unmarshal(presentJSON, &v.PresentEntry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal present_entry: %w", err)
		}
	}
	if len(predictionsJSON) > 0 {
		if err := json.Unmarshal(predictionsJSON, &v.Predictions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal predictions: %w", err)
		}
	}

	return &v, nil
}
