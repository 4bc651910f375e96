package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

type TopicRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTopicRepository(db *sql.DB) *TopicRepository {
	return &TopicRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *TopicRepository) ListTopics(ctx context.Context, projectID string) ([]domain.Topic, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, name, summary, member_count, keywords, created_at, updated_at
FROM topics
WHERE project_id = $1
ORDER BY created_at ASC, id ASC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Topic, 0)
	for rows.Next() {
		var topic domain.Topic
		var keywordsRaw []byte
		if err := rows.Scan(
			&topic.ID, &topic.ProjectID, &topic.Name, &topic.Summary,
			&topic.MemberCount, &keywordsRaw, &topic.CreatedAt, &topic.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if topic.Keywords, err = unmarshalKeywords(keywordsRaw); err != nil {
			return nil, err
		}
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return out, nil
}

// ApplyClassification creates new topics, moves opinion pointers and adjusts
// member counts in one transaction. Re-applying an assignment an opinion
// already has changes nothing. Any failure rolls back every write.
func (r *TopicRepository) ApplyClassification(ctx context.Context, plan domain.TopicUpdatePlan) (domain.TopicUpdateSummary, error) {
	const op = "apply classification"
	summary := domain.TopicUpdateSummary{Created: []domain.TopicRef{}, Updated: []domain.TopicRef{}}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, domain.WrapError(domain.ErrTransaction, op, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	created := make(map[string]struct{}, len(plan.NewTopics))
	for _, topic := range plan.NewTopics {
		keywordsJSON, err := marshalKeywords(topic.Keywords)
		if err != nil {
			return summary, domain.WrapError(domain.ErrTransaction, op, err)
		}
		createdAt := topic.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO topics (id, project_id, name, summary, member_count, keywords, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,$5,$6,$6)
`, topic.ID, plan.ProjectID, topic.Name, topic.Summary, keywordsJSON, createdAt); err != nil {
			return summary, domain.WrapError(domain.ErrTransaction, op, fmt.Errorf("insert topic %s: %w", topic.ID, err))
		}
		created[topic.ID] = struct{}{}
	}

	deltas := make(map[string]int)
	for _, opinionID := range sortedKeys(plan.Assignments) {
		topicID := plan.Assignments[opinionID]
		previous, err := currentTopic(ctx, tx, opinionID)
		if err != nil {
			return summary, domain.WrapError(domain.ErrTransaction, op, err)
		}
		if previous == topicID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO opinion_topics (opinion_id, topic_id, project_id, assigned_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (opinion_id) DO UPDATE SET topic_id = EXCLUDED.topic_id, assigned_at = EXCLUDED.assigned_at
`, opinionID, topicID, plan.ProjectID, now); err != nil {
			return summary, domain.WrapError(domain.ErrTransaction, op, fmt.Errorf("assign opinion %s: %w", opinionID, err))
		}
		deltas[topicID]++
		if previous != "" {
			deltas[previous]--
		}
	}

	for _, topicID := range sortedKeys(deltas) {
		delta := deltas[topicID]
		if delta == 0 {
			continue
		}
		row := tx.QueryRowContext(ctx, `
UPDATE topics
SET member_count = GREATEST(member_count + $3, 0), updated_at = $4
WHERE id = $1 AND project_id = $2
RETURNING name, member_count
`, topicID, plan.ProjectID, delta, now)
		ref := domain.TopicRef{ID: topicID, Added: delta}
		if err := row.Scan(&ref.Name, &ref.MemberCount); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = domain.WrapError(domain.ErrNotFound, "adjust topic members", fmt.Errorf("topic %s", topicID))
			}
			return summary, domain.WrapError(domain.ErrTransaction, op, err)
		}
		if _, isNew := created[topicID]; isNew {
			summary.Created = append(summary.Created, ref)
		} else {
			summary.Updated = append(summary.Updated, ref)
		}
	}

	if err := tx.Commit(); err != nil {
		return summary, domain.WrapError(domain.ErrTransaction, op, fmt.Errorf("commit: %w", err))
	}
	return summary, nil
}

// currentTopic locks the opinion's assignment row and returns its topic id,
// or "" when the opinion has none yet.
func currentTopic(ctx context.Context, tx *sql.Tx, opinionID string) (string, error) {
	var topicID string
	err := tx.QueryRowContext(ctx, `
SELECT topic_id FROM opinion_topics WHERE opinion_id = $1 FOR UPDATE
`, opinionID).Scan(&topicID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read assignment of opinion %s: %w", opinionID, err)
	}
	return topicID, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
