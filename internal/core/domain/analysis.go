package domain

import (
	"fmt"
	"strings"
	"time"
)

// PriorityBreakdown holds the four capped sub-scores of a priority.
type PriorityBreakdown struct {
	InformationVolume  int `json:"information_volume"`
	Recency            int `json:"recency"`
	Uniqueness         int `json:"uniqueness"`
	EmotionalIntensity int `json:"emotional_intensity"`
}

func (b PriorityBreakdown) Total() int {
	return b.InformationVolume + b.Recency + b.Uniqueness + b.EmotionalIntensity
}

// ScoredOpinion is a transient per-run view of an Opinion. It is never persisted.
type ScoredOpinion struct {
	Opinion   Opinion           `json:"opinion"`
	Priority  int               `json:"priority"`
	SizeCost  int               `json:"size_cost"`
	Breakdown PriorityBreakdown `json:"breakdown"`
	Reasons   []string          `json:"reasons"`
}

// ScoringContext carries everything a score depends on besides the opinion itself.
type ScoringContext struct {
	Topics          []Topic
	ProjectKeywords []string
	Now             time.Time
}

type PriorityBand string

const (
	BandHigh   PriorityBand = "high"
	BandMedium PriorityBand = "medium"
	BandLow    PriorityBand = "low"
)

const (
	HighPriorityThreshold   = 70
	MediumPriorityThreshold = 40
)

func BandOf(priority int) PriorityBand {
	switch {
	case priority >= HighPriorityThreshold:
		return BandHigh
	case priority >= MediumPriorityThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

type PriorityHistogram struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (h *PriorityHistogram) Add(priority int) {
	switch BandOf(priority) {
	case BandHigh:
		h.High++
	case BandMedium:
		h.Medium++
	default:
		h.Low++
	}
}

func (h PriorityHistogram) Total() int {
	return h.High + h.Medium + h.Low
}

func HistogramOf(records []ScoredOpinion) PriorityHistogram {
	var h PriorityHistogram
	for _, rec := range records {
		h.Add(rec.Priority)
	}
	return h
}

type SelectionPolicy string

const (
	PolicyGreedyPriority  SelectionPolicy = "greedy_priority"
	PolicyTokenEfficiency SelectionPolicy = "token_efficiency"
	PolicyBalanced        SelectionPolicy = "balanced"
)

func ParseSelectionPolicy(raw string) (SelectionPolicy, error) {
	switch SelectionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyGreedyPriority, "":
		return PolicyGreedyPriority, nil
	case PolicyTokenEfficiency:
		return PolicyTokenEfficiency, nil
	case PolicyBalanced:
		return PolicyBalanced, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse selection policy", fmt.Errorf("unknown policy %q", raw))
	}
}

// BoundingConstraint names the budget that effectively limited a selection.
type BoundingConstraint string

const (
	BoundBySize  BoundingConstraint = "size"
	BoundByCount BoundingConstraint = "count"
	BoundByBoth  BoundingConstraint = "both"
)

type SelectionStats struct {
	Candidates         int     `json:"candidates"`
	Selected           int     `json:"selected"`
	Deferred           int     `json:"deferred"`
	SelectedSize       int     `json:"selected_size"`
	SizeBudget         int     `json:"size_budget"`
	CountBudget        int     `json:"count_budget"`
	SizeUtilization    float64 `json:"size_utilization"`
	CountUtilization   float64 `json:"count_utilization"`
	AggregatePriority  int     `json:"aggregate_priority"`
	AveragePriority    float64 `json:"average_priority"`
	PriorityPerSize    float64 `json:"priority_per_size"`
	SkippedInefficient int     `json:"skipped_inefficient,omitempty"`
}

type SelectionResult struct {
	Policy             SelectionPolicy    `json:"policy"`
	Selected           []ScoredOpinion    `json:"selected"`
	Deferred           []ScoredOpinion    `json:"deferred"`
	Stats              SelectionStats     `json:"stats"`
	BoundingConstraint BoundingConstraint `json:"bounding_constraint"`
}

type PolicyRecommendation struct {
	Policy         SelectionPolicy `json:"policy"`
	Reason         string          `json:"reason"`
	MeanPriority   float64         `json:"mean_priority"`
	PriorityStdDev float64         `json:"priority_std_dev"`
	MeanSize       float64         `json:"mean_size"`
	SizeStdDev     float64         `json:"size_std_dev"`
	SampleSize     int             `json:"sample_size"`
}
