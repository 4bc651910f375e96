package ports

import (
	"context"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// OpinionReader reads projects and their backlog.
type OpinionReader interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ListUnanalyzedOpinions(ctx context.Context, projectID string, limit int) ([]domain.Opinion, error)
	CountOpinions(ctx context.Context, projectID string) (domain.ProjectCounts, error)
}

// TopicReader reads the known categories of a project.
type TopicReader interface {
	ListTopics(ctx context.Context, projectID string) ([]domain.Topic, error)
}

// ClassificationWriter applies topic creation, count increments and opinion
// assignments inside one transaction. Any failure leaves nothing applied.
type ClassificationWriter interface {
	ApplyClassification(ctx context.Context, plan domain.TopicUpdatePlan) (domain.TopicUpdateSummary, error)
}

// AnalysisStateStore upserts per-opinion analysis state. A failing row does
// not abort the batch; it is reported in its result.
type AnalysisStateStore interface {
	UpsertStates(ctx context.Context, updates []domain.AnalysisStateUpdate) ([]domain.StateUpdateResult, error)
	GetState(ctx context.Context, opinionID string) (*domain.AnalysisState, error)
}

// TextGenerator is the external text-understanding capability.
type TextGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// CallGuard runs one external call under the retry, breaker and rate policy.
type CallGuard interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error) error
}

// RunLocker serializes runs per project. Acquire returns domain.ErrRunInProgress
// when another run holds the lock.
type RunLocker interface {
	Acquire(ctx context.Context, projectID string) (release func(context.Context) error, err error)
}

// RunQueue publishes/consumes run requests.
type RunQueue interface {
	PublishRunRequested(ctx context.Context, req domain.RunRequest) error
	SubscribeRunRequested(ctx context.Context, handler func(context.Context, domain.RunRequest) error) error
}

// ReportArchive persists finished run reports outside the primary store.
type ReportArchive interface {
	Save(ctx context.Context, report *domain.RunReport) (string, error)
}
