package usecase

import (
	"fmt"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const (
	manualReviewPriority   = 80
	manualReviewConfidence = 0.6

	immediateHighThreshold = 5
	immediateBatchHeadroom = 5
	largeBacklogThreshold  = 10

	secondsPerOpinion     = 3
	secondsPerBatch       = 10
	processingBatchSize   = 10
	soonRunDelay          = 2 * time.Hour
	whenConvenientDelay   = 24 * time.Hour
	notNeededRunDelay     = 7 * 24 * time.Hour
	defaultMaxBatchOnHint = 15
)

func needsManualReview(priority int, confidence float64, classified bool) bool {
	if priority > manualReviewPriority {
		return true
	}
	return classified && confidence < manualReviewConfidence
}

// BuildStatus summarizes completion and the unanalyzed backlog of a project.
func BuildStatus(projectID string, counts domain.ProjectCounts, backlog []domain.ScoredOpinion) domain.AnalysisStatus {
	pending := counts.Total - counts.Analyzed
	if pending < 0 {
		pending = 0
	}
	histogram := domain.HistogramOf(backlog)
	return domain.AnalysisStatus{
		ProjectID:          projectID,
		Total:              counts.Total,
		Analyzed:           counts.Analyzed,
		Backlog:            pending,
		CompletionRate:     domain.CompletionRate(counts.Analyzed, counts.Total),
		Histogram:          histogram,
		NextRunRecommended: pending > 0 && (histogram.High > 0 || pending > largeBacklogThreshold),
	}
}

// EstimateProcessingTime is the expected classification time for n opinions.
func EstimateProcessingTime(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	batches := (n + processingBatchSize - 1) / processingBatchSize
	return time.Duration(n*secondsPerOpinion+batches*secondsPerBatch) * time.Second
}

// Recommend evaluates the urgency ladder on the deferred set of a run.
func Recommend(deferred []domain.ScoredOpinion, maxBatch int, now time.Time) domain.RunRecommendation {
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchOnHint
	}
	histogram := domain.HistogramOf(deferred)
	high := histogram.High
	total := len(deferred)

	rec := domain.RunRecommendation{BacklogByBand: histogram}
	switch {
	case high > immediateHighThreshold:
		rec.Urgency = domain.UrgencyImmediate
		rec.Reason = fmt.Sprintf("%d high-priority opinions deferred", high)
		rec.SuggestedBatchSize = min(high+immediateBatchHeadroom, maxBatch)
		rec.SuggestedPolicy = domain.PolicyGreedyPriority
		rec.OptimalNextRunAt = now
	case high > 0:
		rec.Urgency = domain.UrgencySoon
		rec.Reason = fmt.Sprintf("%d high-priority opinions deferred", high)
		rec.SuggestedBatchSize = min(total, maxBatch)
		rec.SuggestedPolicy = domain.PolicyBalanced
		rec.OptimalNextRunAt = now.Add(soonRunDelay)
	case total > largeBacklogThreshold:
		rec.Urgency = domain.UrgencyWhenConvenient
		rec.Reason = fmt.Sprintf("%d opinions deferred, none high-priority", total)
		rec.SuggestedBatchSize = min(total, maxBatch)
		rec.SuggestedPolicy = domain.PolicyTokenEfficiency
		rec.OptimalNextRunAt = now.Add(whenConvenientDelay)
	case total > 0:
		rec.Urgency = domain.UrgencyWhenConvenient
		rec.Reason = fmt.Sprintf("%d opinions deferred", total)
		rec.SuggestedBatchSize = min(total, maxBatch)
		rec.SuggestedPolicy = domain.PolicyBalanced
		rec.OptimalNextRunAt = now.Add(whenConvenientDelay)
	default:
		rec.Urgency = domain.UrgencyNotNeeded
		rec.Reason = "backlog is empty"
		rec.OptimalNextRunAt = now.Add(notNeededRunDelay)
	}
	rec.EstimatedProcessingTime = EstimateProcessingTime(rec.SuggestedBatchSize)
	return rec
}
