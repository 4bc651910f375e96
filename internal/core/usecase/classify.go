package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

const classifyOperation = "classify_opinions"

// ClassificationOrchestrator issues the single external classification call of
// a run and turns its response into a validated outcome.
type ClassificationOrchestrator struct {
	generator ports.TextGenerator
	guard     ports.CallGuard
}

func NewClassificationOrchestrator(generator ports.TextGenerator, guard ports.CallGuard) *ClassificationOrchestrator {
	return &ClassificationOrchestrator{generator: generator, guard: guard}
}

// Classify consumes the run's call budget only when there is something to
// classify. Transport failures are fatal; contract violations fall back.
func (o *ClassificationOrchestrator) Classify(
	ctx context.Context,
	selected []domain.ScoredOpinion,
	topics []domain.Topic,
	rc domain.RunContext,
	budget *domain.CallBudget,
	opts domain.ClassifyOptions,
) (domain.ClassificationOutcome, error) {
	logger := rc.Log()
	if len(selected) == 0 {
		return domain.ClassificationOutcome{
			Decisions:   []domain.ClassificationDecision{},
			NewClusters: []domain.NewClusterProposal{},
			Insights:    []domain.Insight{},
		}, nil
	}
	if budget == nil {
		budget = domain.SingleCallBudget()
	}
	if err := budget.Consume(); err != nil {
		return domain.ClassificationOutcome{}, err
	}

	req := domain.GenerationRequest{
		Prompt:  buildClassificationPrompt(selected, topics, opts.IncludeInsights),
		Model:   opts.Model,
		Purpose: opts.Purpose,
		JSON:    true,
	}
	response, err := o.call(ctx, req)
	if err != nil {
		logger.Error("analysis_classification_failed", "error", err)
		return domain.ClassificationOutcome{}, domain.WrapError(domain.ErrTransport, "classify opinions", err)
	}

	parser := newResponseParser(selected, topics, opts.IncludeInsights)
	outcome, parseErr := parser.parse(response)
	if parseErr != nil {
		outcome = fallbackOutcome(selected, parseErr.Error())
		outcome.Rejected = parser.rejected
		logger.Warn("analysis_fallback",
			"reason", parseErr.Error(),
			"selected", len(selected),
			"rejected", len(parser.rejected),
		)
	} else {
		outcome = fillGaps(outcome, selected)
	}
	outcome.APICallsUsed = budget.Used()
	outcome.Model = opts.Model

	logRejected(logger, outcome.Rejected, opts.Strict)

	counts := outcome.Counts()
	logger.Info("analysis_classified",
		"decisions", len(outcome.Decisions),
		"assigned_to_existing", counts.AssignedToExisting,
		"created_new", counts.CreatedNew,
		"new_clusters", counts.NewClusters,
		"insights", counts.Insights,
		"rejected", counts.Rejected,
		"gaps_filled", counts.GapsFilled,
		"fallback_used", counts.FallbackUsed,
	)
	return outcome, nil
}

func (o *ClassificationOrchestrator) call(ctx context.Context, req domain.GenerationRequest) (string, error) {
	var response string
	fn := func(callCtx context.Context) error {
		text, err := o.generator.Generate(callCtx, req)
		if err != nil {
			return err
		}
		response = text
		return nil
	}
	if o.guard == nil {
		if err := fn(ctx); err != nil {
			return "", fmt.Errorf("generate classification: %w", err)
		}
		return response, nil
	}
	if err := o.guard.Execute(ctx, classifyOperation, fn); err != nil {
		return "", fmt.Errorf("generate classification: %w", err)
	}
	return response, nil
}

func logRejected(logger *slog.Logger, rejected []domain.RejectedItem, strict bool) {
	level := slog.LevelDebug
	if strict {
		level = slog.LevelWarn
	}
	for _, item := range rejected {
		logger.Log(context.Background(), level, "analysis_item_rejected",
			"kind", item.Kind,
			"index", item.Index,
			"reason", item.Reason,
		)
	}
}
