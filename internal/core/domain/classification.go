package domain

import (
	"log/slog"
	"strings"
	"time"
)

type DecisionAction string

const (
	ActionAssignToExisting DecisionAction = "assign_to_existing"
	ActionCreateNew        DecisionAction = "create_new"
)

func ParseDecisionAction(raw string) (DecisionAction, bool) {
	switch DecisionAction(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionAssignToExisting:
		return ActionAssignToExisting, true
	case ActionCreateNew:
		return ActionCreateNew, true
	default:
		return "", false
	}
}

type DecisionAlternative struct {
	TopicID    string  `json:"topic_id"`
	Confidence float64 `json:"confidence"`
}

// ClassificationDecision is a tagged union over Action: TopicID is set only
// for ActionAssignToExisting, ClusterID only for ActionCreateNew.
type ClassificationDecision struct {
	OpinionID    string                `json:"opinion_id"`
	Action       DecisionAction        `json:"action"`
	TopicID      string                `json:"topic_id,omitempty"`
	ClusterID    string                `json:"cluster_id,omitempty"`
	Confidence   float64               `json:"confidence"`
	Reasoning    string                `json:"reasoning,omitempty"`
	Alternatives []DecisionAlternative `json:"alternatives,omitempty"`
}

func AssignToExisting(opinionID, topicID string, confidence float64, reasoning string) ClassificationDecision {
	return ClassificationDecision{
		OpinionID:  opinionID,
		Action:     ActionAssignToExisting,
		TopicID:    topicID,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

func CreateNew(opinionID, clusterID string, confidence float64, reasoning string) ClassificationDecision {
	return ClassificationDecision{
		OpinionID:  opinionID,
		Action:     ActionCreateNew,
		ClusterID:  clusterID,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

type NewClusterProposal struct {
	ClusterID  string   `json:"cluster_id"`
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	MemberIDs  []string `json:"member_ids"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Theme      string   `json:"theme,omitempty"`
}

type InsightType string

const (
	InsightTrend         InsightType = "trend"
	InsightConcern       InsightType = "concern"
	InsightOpportunity   InsightType = "opportunity"
	InsightContradiction InsightType = "contradiction"
	InsightConsensus     InsightType = "consensus"
)

func ParseInsightType(raw string) (InsightType, bool) {
	switch InsightType(strings.ToLower(strings.TrimSpace(raw))) {
	case InsightTrend:
		return InsightTrend, true
	case InsightConcern:
		return InsightConcern, true
	case InsightOpportunity:
		return InsightOpportunity, true
	case InsightContradiction:
		return InsightContradiction, true
	case InsightConsensus:
		return InsightConsensus, true
	default:
		return "", false
	}
}

type Insight struct {
	Type               InsightType `json:"type"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	AffectedOpinionIDs []string    `json:"affected_opinion_ids,omitempty"`
	Confidence         float64     `json:"confidence,omitempty"`
}

// RejectedItem records one response item that failed validation.
type RejectedItem struct {
	Kind   string `json:"kind"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ClassificationOutcome struct {
	Decisions      []ClassificationDecision `json:"decisions"`
	NewClusters    []NewClusterProposal     `json:"new_clusters"`
	Insights       []Insight                `json:"insights"`
	Rejected       []RejectedItem           `json:"rejected,omitempty"`
	FallbackUsed   bool                     `json:"fallback_used"`
	FallbackReason string                   `json:"fallback_reason,omitempty"`
	GapsFilled     int                      `json:"gaps_filled,omitempty"`
	APICallsUsed   int                      `json:"api_calls_used"`
	Model          string                   `json:"model,omitempty"`
}

type ClassificationCounts struct {
	AssignedToExisting int  `json:"assigned_to_existing"`
	CreatedNew         int  `json:"created_new"`
	NewClusters        int  `json:"new_clusters"`
	Insights           int  `json:"insights"`
	Rejected           int  `json:"rejected"`
	GapsFilled         int  `json:"gaps_filled"`
	FallbackUsed       bool `json:"fallback_used"`
}

func (o ClassificationOutcome) Counts() ClassificationCounts {
	counts := ClassificationCounts{
		NewClusters:  len(o.NewClusters),
		Insights:     len(o.Insights),
		Rejected:     len(o.Rejected),
		GapsFilled:   o.GapsFilled,
		FallbackUsed: o.FallbackUsed,
	}
	for _, decision := range o.Decisions {
		switch decision.Action {
		case ActionAssignToExisting:
			counts.AssignedToExisting++
		case ActionCreateNew:
			counts.CreatedNew++
		}
	}
	return counts
}

type ClassifyOptions struct {
	Strict          bool
	IncludeInsights bool
	Model           string
	Purpose         string
}

type RunContext struct {
	RunID     string
	Project   Project
	StartedAt time.Time
	Logger    *slog.Logger
}

// Log returns the run-correlated logger, or the default logger.
func (rc RunContext) Log() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}

// GenerationRequest is one prompt sent to the external text-understanding capability.
type GenerationRequest struct {
	Prompt  string
	Model   string
	Purpose string
	JSON    bool
}

// TopicUpdatePlan is the set of category writes applied in one transaction.
// Member counts follow Assignments: a topic gains a member only when an
// opinion's pointer moves to it and loses one when the pointer moves away.
type TopicUpdatePlan struct {
	ProjectID   string
	NewTopics   []Topic
	Assignments map[string]string
}

type TopicRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	Added       int    `json:"added"`
}

type TopicUpdateSummary struct {
	Created []TopicRef `json:"created"`
	Updated []TopicRef `json:"updated"`
}
