package ports

import (
	"context"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// AnalysisRunner is the inbound contract for one end-to-end pipeline run.
type AnalysisRunner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunReport, error)
}

// AnalysisStatusReader reports backlog state without calling the text generator or writing.
type AnalysisStatusReader interface {
	Status(ctx context.Context, projectID string) (*domain.AnalysisStatus, *domain.RunRecommendation, error)
	RecommendPolicy(ctx context.Context, projectID string) (*domain.PolicyRecommendation, error)
}
