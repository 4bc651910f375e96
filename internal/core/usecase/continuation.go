package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

type ContinuationInput struct {
	ProjectID string
	Selected  []domain.ScoredOpinion
	Deferred  []domain.ScoredOpinion
	Outcome   domain.ClassificationOutcome
	// Assignments maps opinion id to the persisted topic id, including topics
	// created for new clusters in this run.
	Assignments map[string]string
	// MaxBatch caps the suggested next batch; zero uses the tracker default.
	MaxBatch int
}

type ContinuationResult struct {
	StateUpdates   []domain.StateUpdateResult
	Failed         int
	ManualReview   int
	Status         domain.AnalysisStatus
	Recommendation domain.RunRecommendation
}

// ContinuationTracker records what a run analyzed or deferred and derives the
// next-run recommendation.
type ContinuationTracker struct {
	states   ports.AnalysisStateStore
	counts   ports.OpinionReader
	now      func() time.Time
	maxBatch int
}

func NewContinuationTracker(states ports.AnalysisStateStore, counts ports.OpinionReader, now func() time.Time, maxBatch int) *ContinuationTracker {
	if now == nil {
		now = time.Now
	}
	return &ContinuationTracker{states: states, counts: counts, now: now, maxBatch: maxBatch}
}

// Apply never fails on a single state row; row failures are counted and
// reported. It fails only when the project counts cannot be read.
func (t *ContinuationTracker) Apply(ctx context.Context, rc domain.RunContext, in ContinuationInput) (ContinuationResult, error) {
	now := t.now()
	updates := t.stateUpdates(in, now)

	results, err := t.states.UpsertStates(ctx, updates)
	if err != nil {
		results = failAll(updates, err)
	}

	out := ContinuationResult{StateUpdates: results}
	for _, update := range updates {
		if update.ManualReview {
			out.ManualReview++
		}
	}
	for _, res := range results {
		if !res.Succeeded() {
			out.Failed++
		}
	}
	logger := rc.Log()
	if out.Failed > 0 {
		logger.Warn("analysis_state_updated",
			"updates", len(updates),
			"failed", out.Failed,
			"error", domain.WrapError(domain.ErrPartialStateWrite, "upsert analysis states", fmt.Errorf("%d of %d rows failed", out.Failed, len(updates))),
		)
	} else {
		logger.Info("analysis_state_updated", "updates", len(updates), "manual_review", out.ManualReview)
	}

	counts, err := t.counts.CountOpinions(ctx, in.ProjectID)
	if err != nil {
		return ContinuationResult{}, fmt.Errorf("count project opinions: %w", err)
	}
	out.Status = BuildStatus(in.ProjectID, counts, in.Deferred)
	maxBatch := in.MaxBatch
	if maxBatch <= 0 {
		maxBatch = t.maxBatch
	}
	out.Recommendation = Recommend(in.Deferred, maxBatch, now)
	return out, nil
}

func (t *ContinuationTracker) stateUpdates(in ContinuationInput, now time.Time) []domain.AnalysisStateUpdate {
	decisions := make(map[string]domain.ClassificationDecision, len(in.Outcome.Decisions))
	for _, decision := range in.Outcome.Decisions {
		decisions[decision.OpinionID] = decision
	}

	updates := make([]domain.AnalysisStateUpdate, 0, len(in.Selected)+len(in.Deferred))
	for _, rec := range in.Selected {
		confidence := FallbackConfidence
		topicID := in.Assignments[rec.Opinion.ID]
		if decision, ok := decisions[rec.Opinion.ID]; ok {
			confidence = decision.Confidence
			if topicID == "" && decision.Action == domain.ActionAssignToExisting {
				topicID = decision.TopicID
			}
		}
		updates = append(updates, domain.AnalysisStateUpdate{
			OpinionID:    rec.Opinion.ID,
			ProjectID:    in.ProjectID,
			Analyzed:     true,
			AnalyzedAt:   now,
			TopicID:      topicID,
			Confidence:   confidence,
			ManualReview: needsManualReview(rec.Priority, confidence, true),
		})
	}
	for _, rec := range in.Deferred {
		updates = append(updates, domain.AnalysisStateUpdate{
			OpinionID:    rec.Opinion.ID,
			ProjectID:    in.ProjectID,
			ManualReview: needsManualReview(rec.Priority, 0, false),
		})
	}
	return updates
}

func failAll(updates []domain.AnalysisStateUpdate, err error) []domain.StateUpdateResult {
	results := make([]domain.StateUpdateResult, 0, len(updates))
	for _, update := range updates {
		results = append(results, domain.StateUpdateResult{
			OpinionID: update.OpinionID,
			Analyzed:  update.Analyzed,
			Error:     err.Error(),
		})
	}
	return results
}
