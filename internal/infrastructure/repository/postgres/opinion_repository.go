package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

type OpinionRepository struct {
	db *sql.DB
}

func NewOpinionRepository(db *sql.DB) *OpinionRepository {
	return &OpinionRepository{db: db}
}

func (r *OpinionRepository) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, description, keywords, created_at
FROM projects
WHERE id = $1
`, projectID)

	var project domain.Project
	var keywordsRaw []byte
	if err := row.Scan(&project.ID, &project.Name, &project.Description, &keywordsRaw, &project.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get project", fmt.Errorf("project %s", projectID))
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	keywords, err := unmarshalKeywords(keywordsRaw)
	if err != nil {
		return nil, err
	}
	project.Keywords = keywords
	return &project, nil
}

// ListUnanalyzedOpinions returns opinions with no recorded analysis, oldest
// first. A non-positive limit means no limit.
func (r *OpinionRepository) ListUnanalyzedOpinions(ctx context.Context, projectID string, limit int) ([]domain.Opinion, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT o.id, o.project_id, o.content, o.submitted_at
FROM opinions o
LEFT JOIN analysis_states s ON s.opinion_id = o.id
WHERE o.project_id = $1 AND s.last_analyzed_at IS NULL
ORDER BY o.submitted_at ASC, o.id ASC
LIMIT NULLIF($2, 0)
`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed opinions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Opinion, 0)
	for rows.Next() {
		var op domain.Opinion
		if err := rows.Scan(&op.ID, &op.ProjectID, &op.Content, &op.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan opinion: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opinions: %w", err)
	}
	return out, nil
}

func (r *OpinionRepository) CountOpinions(ctx context.Context, projectID string) (domain.ProjectCounts, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(s.last_analyzed_at)
FROM opinions o
LEFT JOIN analysis_states s ON s.opinion_id = o.id
WHERE o.project_id = $1
`, projectID)

	var counts domain.ProjectCounts
	if err := row.Scan(&counts.Total, &counts.Analyzed); err != nil {
		return domain.ProjectCounts{}, fmt.Errorf("count opinions: %w", err)
	}
	return counts, nil
}
