package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

type StateRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertStates writes each update under its own savepoint, so a rejected row
// is reported in its result without discarding the others. An error is
// returned only when the batch as a whole could not run or commit.
func (r *StateRepository) UpsertStates(ctx context.Context, updates []domain.AnalysisStateUpdate) ([]domain.StateUpdateResult, error) {
	results := make([]domain.StateUpdateResult, 0, len(updates))
	if len(updates) == 0 {
		return results, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPartialStateWrite, "upsert states", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	for _, update := range updates {
		result := domain.StateUpdateResult{OpinionID: update.OpinionID, Analyzed: update.Analyzed}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT state_upsert`); err != nil {
			return nil, domain.WrapError(domain.ErrPartialStateWrite, "upsert states", fmt.Errorf("savepoint: %w", err))
		}

		version, err := upsertState(ctx, tx, update, now)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT state_upsert`); rbErr != nil {
				return nil, domain.WrapError(domain.ErrPartialStateWrite, "upsert states", fmt.Errorf("rollback savepoint: %w", rbErr))
			}
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT state_upsert`); err != nil {
			return nil, domain.WrapError(domain.ErrPartialStateWrite, "upsert states", fmt.Errorf("release savepoint: %w", err))
		}
		result.Version = version
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.WrapError(domain.ErrPartialStateWrite, "upsert states", fmt.Errorf("commit: %w", err))
	}
	return results, nil
}

func upsertState(ctx context.Context, tx *sql.Tx, update domain.AnalysisStateUpdate, now time.Time) (int64, error) {
	var analyzedAt, topicID, confidence any
	if update.Analyzed {
		analyzedAt = update.AnalyzedAt
		topicID = nullableString(update.TopicID)
		confidence = update.Confidence
	}
	row := tx.QueryRowContext(ctx, `
INSERT INTO analysis_states (opinion_id, project_id, last_analyzed_at, version, topic_id, confidence, manual_review, updated_at)
VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
ON CONFLICT (opinion_id) DO UPDATE SET
	version = analysis_states.version + 1,
	last_analyzed_at = GREATEST(analysis_states.last_analyzed_at, EXCLUDED.last_analyzed_at),
	topic_id = COALESCE(EXCLUDED.topic_id, analysis_states.topic_id),
	confidence = COALESCE(EXCLUDED.confidence, analysis_states.confidence),
	manual_review = EXCLUDED.manual_review,
	updated_at = EXCLUDED.updated_at
RETURNING version
`, update.OpinionID, update.ProjectID, analyzedAt, topicID, confidence, update.ManualReview, now)

	var version int64
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("upsert state %s: %w", update.OpinionID, err)
	}
	return version, nil
}

func (r *StateRepository) GetState(ctx context.Context, opinionID string) (*domain.AnalysisState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT opinion_id, project_id, last_analyzed_at, version, topic_id, confidence, manual_review, updated_at
FROM analysis_states
WHERE opinion_id = $1
`, opinionID)

	var state domain.AnalysisState
	var analyzedAt sql.NullTime
	var topicID sql.NullString
	var confidence sql.NullFloat64
	if err := row.Scan(
		&state.OpinionID, &state.ProjectID, &analyzedAt, &state.Version,
		&topicID, &confidence, &state.ManualReview, &state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get analysis state", fmt.Errorf("opinion %s", opinionID))
		}
		return nil, fmt.Errorf("scan analysis state: %w", err)
	}
	if analyzedAt.Valid {
		state.LastAnalyzedAt = &analyzedAt.Time
	}
	if topicID.Valid {
		state.TopicID = &topicID.String
	}
	if confidence.Valid {
		state.Confidence = &confidence.Float64
	}
	return &state, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
