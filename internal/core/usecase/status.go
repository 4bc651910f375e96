package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// Status scores the current backlog and reports completion and the next-run
// recommendation. It neither calls the text generator nor writes.
func (p *PipelineCoordinator) Status(ctx context.Context, projectID string) (*domain.AnalysisStatus, *domain.RunRecommendation, error) {
	scored, err := p.scoreBacklog(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	counts, err := p.opinions.CountOpinions(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("count project opinions: %w", err)
	}
	status := BuildStatus(projectID, counts, scored)
	recommendation := Recommend(scored, p.cfg.CountBudget, p.now())
	return &status, &recommendation, nil
}

func (p *PipelineCoordinator) RecommendPolicy(ctx context.Context, projectID string) (*domain.PolicyRecommendation, error) {
	scored, err := p.scoreBacklog(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rec := p.selector.RecommendPolicy(scored)
	return &rec, nil
}

func (p *PipelineCoordinator) scoreBacklog(ctx context.Context, projectID string) ([]domain.ScoredOpinion, error) {
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "score backlog", errors.New("project id is required"))
	}
	project, err := p.opinions.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	topics, err := p.topics.ListTopics(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	backlog, err := p.opinions.ListUnanalyzedOpinions(ctx, project.ID, p.cfg.BacklogLimit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed opinions: %w", err)
	}
	return p.scorer.ScoreBatch(ctx, backlog, domain.ScoringContext{
		Topics:          topics,
		ProjectKeywords: project.Keywords,
		Now:             p.now(),
	})
}
