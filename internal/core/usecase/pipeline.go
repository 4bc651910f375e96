package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

// PipelineConfig holds the per-run defaults a RunRequest may override.
type PipelineConfig struct {
	SizeBudget      int
	CountBudget     int
	Policy          domain.SelectionPolicy
	Strict          bool
	IncludeInsights bool
	BacklogLimit    int
	ScoringWorkers  int
	Model           string
	Purpose         string
}

type PipelineDeps struct {
	Opinions  ports.OpinionReader
	Topics    ports.TopicReader
	Writer    ports.ClassificationWriter
	States    ports.AnalysisStateStore
	Generator ports.TextGenerator
	Guard     ports.CallGuard
	Locker    ports.RunLocker
	Now       func() time.Time
	NewID     func() string
}

// PipelineCoordinator runs score, select, classify, apply and track for one
// project and assembles the run report.
type PipelineCoordinator struct {
	opinions     ports.OpinionReader
	topics       ports.TopicReader
	writer       ports.ClassificationWriter
	locker       ports.RunLocker
	scorer       *PriorityScorer
	selector     *SubsetSelector
	orchestrator *ClassificationOrchestrator
	tracker      *ContinuationTracker
	cfg          PipelineConfig
	now          func() time.Time
	newID        func() string
}

func NewPipelineCoordinator(deps PipelineDeps, cfg PipelineConfig) *PipelineCoordinator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.PolicyGreedyPriority
	}
	return &PipelineCoordinator{
		opinions:     deps.Opinions,
		topics:       deps.Topics,
		writer:       deps.Writer,
		locker:       deps.Locker,
		scorer:       NewPriorityScorer(now, cfg.ScoringWorkers),
		selector:     NewSubsetSelector(),
		orchestrator: NewClassificationOrchestrator(deps.Generator, deps.Guard),
		tracker:      NewContinuationTracker(deps.States, deps.Opinions, now, cfg.CountBudget),
		cfg:          cfg,
		now:          now,
		newID:        newID,
	}
}

type runParams struct {
	sizeBudget  int
	countBudget int
	policy      domain.SelectionPolicy
	options     domain.ClassifyOptions
}

func (p *PipelineCoordinator) params(req domain.RunRequest) (runParams, error) {
	params := runParams{
		sizeBudget:  p.cfg.SizeBudget,
		countBudget: p.cfg.CountBudget,
		policy:      p.cfg.Policy,
		options: domain.ClassifyOptions{
			Strict:          p.cfg.Strict,
			IncludeInsights: p.cfg.IncludeInsights,
			Model:           p.cfg.Model,
			Purpose:         p.cfg.Purpose,
		},
	}
	if req.SizeBudget != 0 {
		params.sizeBudget = req.SizeBudget
	}
	if req.CountBudget != 0 {
		params.countBudget = req.CountBudget
	}
	if req.Policy != "" {
		policy, err := domain.ParseSelectionPolicy(string(req.Policy))
		if err != nil {
			return runParams{}, err
		}
		params.policy = policy
	}
	if req.Strict != nil {
		params.options.Strict = *req.Strict
	}
	if req.IncludeInsights != nil {
		params.options.IncludeInsights = *req.IncludeInsights
	}
	if params.sizeBudget <= 0 || params.countBudget <= 0 {
		return runParams{}, domain.WrapError(
			domain.ErrInvalidInput,
			"resolve run parameters",
			fmt.Errorf("budgets must be positive: size=%d count=%d", params.sizeBudget, params.countBudget),
		)
	}
	return params, nil
}

// Run executes one pipeline run. Either a complete report or a *domain.RunError
// is returned, never both.
func (p *PipelineCoordinator) Run(ctx context.Context, req domain.RunRequest) (*domain.RunReport, error) {
	rc := domain.RunContext{RunID: p.newID(), StartedAt: p.now()}
	rc.Logger = slog.Default().With("run_id", rc.RunID, "project_id", req.ProjectID)

	report, err := p.run(ctx, req, &rc)
	if err != nil {
		runErr := domain.NewRunError(err)
		rc.Log().Error("analysis_run_failed", "code", runErr.Code, "error", runErr.Message)
		return nil, runErr
	}

	rc.Log().Info("analysis_run_completed",
		"examined", report.Summary.Examined,
		"selected", report.Summary.Selected,
		"deferred", report.Summary.Deferred,
		"api_calls_used", report.Summary.APICallsUsed,
		"urgency", report.Recommendation.Urgency,
		"duration_ms", report.Summary.Duration.Milliseconds(),
	)
	return report, nil
}

func (p *PipelineCoordinator) run(ctx context.Context, req domain.RunRequest, rc *domain.RunContext) (*domain.RunReport, error) {
	if req.ProjectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run analysis", errors.New("project id is required"))
	}
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	project, err := p.opinions.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	rc.Project = *project

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, project.ID)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				rc.Log().Warn("analysis_run_lock_release_failed", "error", relErr)
			}
		}()
	}

	topics, err := p.topics.ListTopics(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	backlog, err := p.opinions.ListUnanalyzedOpinions(ctx, project.ID, p.cfg.BacklogLimit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed opinions: %w", err)
	}

	scored, err := p.scorer.ScoreBatch(ctx, backlog, domain.ScoringContext{
		Topics:          topics,
		ProjectKeywords: project.Keywords,
		Now:             rc.StartedAt,
	})
	if err != nil {
		return nil, err
	}
	histogram := domain.HistogramOf(scored)
	rc.Log().Info("analysis_scored",
		"backlog", len(scored),
		"high", histogram.High,
		"medium", histogram.Medium,
		"low", histogram.Low,
	)

	selection, err := p.selector.Select(scored, params.sizeBudget, params.countBudget, params.policy)
	if err != nil {
		return nil, err
	}
	rc.Log().Info("analysis_selected",
		"policy", selection.Policy,
		"selected", len(selection.Selected),
		"deferred", len(selection.Deferred),
		"selected_size", selection.Stats.SelectedSize,
		"bounding_constraint", selection.BoundingConstraint,
	)

	budget := domain.SingleCallBudget()
	outcome, err := p.orchestrator.Classify(ctx, selection.Selected, topics, *rc, budget, params.options)
	if err != nil {
		return nil, err
	}

	plan := buildTopicPlan(project.ID, outcome, p.now(), p.newID)
	var topicSummary domain.TopicUpdateSummary
	if len(plan.Assignments) > 0 {
		topicSummary, err = p.writer.ApplyClassification(ctx, plan)
		if err != nil {
			if !domain.IsKind(err, domain.ErrTransaction) {
				err = domain.WrapError(domain.ErrTransaction, "apply classification", err)
			}
			return nil, err
		}
		rc.Log().Info("analysis_topics_applied",
			"created", len(topicSummary.Created),
			"updated", len(topicSummary.Updated),
			"assignments", len(plan.Assignments),
		)
	}

	// Topic writes are committed; state rows and counts must follow even if
	// the caller goes away.
	tracked, err := p.tracker.Apply(context.WithoutCancel(ctx), *rc, ContinuationInput{
		ProjectID:   project.ID,
		Selected:    selection.Selected,
		Deferred:    selection.Deferred,
		Outcome:     outcome,
		Assignments: plan.Assignments,
		MaxBatch:    params.countBudget,
	})
	if err != nil {
		return nil, err
	}

	return &domain.RunReport{
		Summary: domain.ExecutionSummary{
			RunID:        rc.RunID,
			ProjectID:    project.ID,
			Examined:     len(scored),
			Selected:     len(selection.Selected),
			Deferred:     len(selection.Deferred),
			APICallsUsed: budget.Used(),
			StartedAt:    rc.StartedAt,
			Duration:     p.now().Sub(rc.StartedAt),
		},
		Stats: domain.ProcessingStats{
			PriorityDistribution: histogram,
			Selection:            selection.Stats,
			Policy:               selection.Policy,
			BoundingConstraint:   selection.BoundingConstraint,
			Classification:       outcome.Counts(),
		},
		TopicUpdates: topicSummary,
		Quality: domain.QualityMetrics{
			AverageConfidence: averageConfidence(outcome.Decisions),
			ManualReviewCount: tracked.ManualReview,
			StateWriteErrors:  tracked.Failed,
			FallbackUsed:      outcome.FallbackUsed,
			FallbackReason:    outcome.FallbackReason,
		},
		Insights:       outcome.Insights,
		StateUpdates:   tracked.StateUpdates,
		Status:         tracked.Status,
		Recommendation: tracked.Recommendation,
	}, nil
}

// buildTopicPlan turns an outcome into persisted topic ids. New topics get
// their ids here so every assignment is known before the transaction. Member
// counts are left to the store, which derives them from the assignments.
func buildTopicPlan(projectID string, outcome domain.ClassificationOutcome, now time.Time, newID func() string) domain.TopicUpdatePlan {
	plan := domain.TopicUpdatePlan{
		ProjectID:   projectID,
		Assignments: make(map[string]string, len(outcome.Decisions)),
	}
	clusterTopics := make(map[string]string, len(outcome.NewClusters))
	for _, proposal := range outcome.NewClusters {
		if len(proposal.MemberIDs) == 0 {
			continue
		}
		topic := domain.Topic{
			ID:        newID(),
			ProjectID: projectID,
			Name:      proposal.Name,
			Summary:   proposal.Summary,
			Keywords:  proposal.Keywords,
			CreatedAt: now,
			UpdatedAt: now,
		}
		clusterTopics[proposal.ClusterID] = topic.ID
		plan.NewTopics = append(plan.NewTopics, topic)
	}
	for _, decision := range outcome.Decisions {
		switch decision.Action {
		case domain.ActionAssignToExisting:
			plan.Assignments[decision.OpinionID] = decision.TopicID
		case domain.ActionCreateNew:
			if topicID, ok := clusterTopics[decision.ClusterID]; ok {
				plan.Assignments[decision.OpinionID] = topicID
			}
		}
	}
	return plan
}

func averageConfidence(decisions []domain.ClassificationDecision) float64 {
	if len(decisions) == 0 {
		return 0
	}
	var sum float64
	for _, decision := range decisions {
		sum += decision.Confidence
	}
	return sum / float64(len(decisions))
}
