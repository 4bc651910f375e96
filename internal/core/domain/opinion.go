package domain

import "time"

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Opinion is a submitted text record. It is immutable once stored.
type Opinion struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Topic struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Summary     string    `json:"summary"`
	MemberCount int       `json:"member_count"`
	Keywords    []string  `json:"keywords,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AnalysisState is the persisted per-opinion analysis bookkeeping.
// A nil LastAnalyzedAt means the opinion has never been classified.
type AnalysisState struct {
	OpinionID      string     `json:"opinion_id"`
	ProjectID      string     `json:"project_id"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`
	Version        int64      `json:"version"`
	TopicID        *string    `json:"topic_id,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
	ManualReview   bool       `json:"manual_review"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AnalysisStateUpdate is one upsert in a state batch. Version is always
// incremented by the store; Analyzed controls whether LastAnalyzedAt moves.
type AnalysisStateUpdate struct {
	OpinionID    string    `json:"opinion_id"`
	ProjectID    string    `json:"project_id"`
	Analyzed     bool      `json:"analyzed"`
	AnalyzedAt   time.Time `json:"analyzed_at,omitempty"`
	TopicID      string    `json:"topic_id,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	ManualReview bool      `json:"manual_review"`
}

type StateUpdateResult struct {
	OpinionID string `json:"opinion_id"`
	Analyzed  bool   `json:"analyzed"`
	Version   int64  `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r StateUpdateResult) Succeeded() bool {
	return r.Error == ""
}

// ProjectCounts are the analysis totals of a project at a point in time.
type ProjectCounts struct {
	Total    int `json:"total"`
	Analyzed int `json:"analyzed"`
}
