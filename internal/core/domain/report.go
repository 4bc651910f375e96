package domain

import "time"

type Urgency string

const (
	UrgencyImmediate      Urgency = "immediate"
	UrgencySoon           Urgency = "soon"
	UrgencyWhenConvenient Urgency = "when_convenient"
	UrgencyNotNeeded      Urgency = "not_needed"
)

// RunRecommendation is recomputed on every run from the deferred set.
type RunRecommendation struct {
	Urgency                 Urgency           `json:"urgency"`
	Reason                  string            `json:"reason"`
	EstimatedProcessingTime time.Duration     `json:"estimated_processing_time_ns"`
	SuggestedBatchSize      int               `json:"suggested_batch_size"`
	SuggestedPolicy         SelectionPolicy   `json:"suggested_policy,omitempty"`
	BacklogByBand           PriorityHistogram `json:"backlog_by_band"`
	OptimalNextRunAt        time.Time         `json:"optimal_next_run_at"`
}

type AnalysisStatus struct {
	ProjectID          string            `json:"project_id"`
	Total              int               `json:"total"`
	Analyzed           int               `json:"analyzed"`
	Backlog            int               `json:"backlog"`
	CompletionRate     float64           `json:"completion_rate"`
	Histogram          PriorityHistogram `json:"histogram"`
	NextRunRecommended bool              `json:"next_run_recommended"`
}

// CompletionRate is a percentage; an empty project counts as complete.
func CompletionRate(analyzed, total int) float64 {
	if total <= 0 {
		return 100
	}
	rate := float64(analyzed) / float64(total) * 100
	if rate > 100 {
		return 100
	}
	return rate
}

type RunRequest struct {
	ProjectID       string          `json:"project_id"`
	SizeBudget      int             `json:"size_budget,omitempty"`
	CountBudget     int             `json:"count_budget,omitempty"`
	Policy          SelectionPolicy `json:"policy,omitempty"`
	Strict          *bool           `json:"strict,omitempty"`
	IncludeInsights *bool           `json:"include_insights,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	EnqueuedAt      time.Time       `json:"enqueued_at,omitempty"`
}

type ExecutionSummary struct {
	RunID        string        `json:"run_id"`
	ProjectID    string        `json:"project_id"`
	Examined     int           `json:"examined"`
	Selected     int           `json:"selected"`
	Deferred     int           `json:"deferred"`
	APICallsUsed int           `json:"api_calls_used"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

type ProcessingStats struct {
	PriorityDistribution PriorityHistogram    `json:"priority_distribution"`
	Selection            SelectionStats       `json:"selection"`
	Policy               SelectionPolicy      `json:"policy"`
	BoundingConstraint   BoundingConstraint   `json:"bounding_constraint"`
	Classification       ClassificationCounts `json:"classification"`
}

type QualityMetrics struct {
	AverageConfidence float64 `json:"average_confidence"`
	ManualReviewCount int     `json:"manual_review_count"`
	StateWriteErrors  int     `json:"state_write_errors"`
	FallbackUsed      bool    `json:"fallback_used"`
	FallbackReason    string  `json:"fallback_reason,omitempty"`
}

// RunReport is the complete result of one pipeline run.
type RunReport struct {
	Summary        ExecutionSummary    `json:"summary"`
	Stats          ProcessingStats     `json:"stats"`
	TopicUpdates   TopicUpdateSummary  `json:"topic_updates"`
	Quality        QualityMetrics      `json:"quality"`
	Insights       []Insight           `json:"insights"`
	StateUpdates   []StateUpdateResult `json:"state_updates"`
	Status         AnalysisStatus      `json:"status"`
	Recommendation RunRecommendation   `json:"recommendation"`
}
