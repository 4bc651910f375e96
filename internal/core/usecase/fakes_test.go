package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// memoryStoreFake implements every store port over in-memory maps.
type memoryStoreFake struct {
	mu         sync.Mutex
	projects   map[string]domain.Project
	opinions   []domain.Opinion
	topics     []domain.Topic
	states     map[string]domain.AnalysisState
	assigned   map[string]string
	failStates map[string]bool

	getProjectErr error
	listErr       error
	countErr      error
	topicsErr     error
	applyErr      error
	upsertErr     error

	// afterApply runs once the topic writes are stored.
	afterApply func()

	applyCalls  int
	upsertCalls int
}

func newMemoryStoreFake(project domain.Project, opinions ...domain.Opinion) *memoryStoreFake {
	return &memoryStoreFake{
		projects:   map[string]domain.Project{project.ID: project},
		opinions:   opinions,
		states:     make(map[string]domain.AnalysisState),
		assigned:   make(map[string]string),
		failStates: make(map[string]bool),
	}
}

func (f *memoryStoreFake) GetProject(_ context.Context, projectID string) (*domain.Project, error) {
	if f.getProjectErr != nil {
		return nil, f.getProjectErr
	}
	project, ok := f.projects[projectID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get project", fmt.Errorf("project %s", projectID))
	}
	return &project, nil
}

func (f *memoryStoreFake) ListUnanalyzedOpinions(_ context.Context, projectID string, limit int) ([]domain.Opinion, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Opinion
	for _, op := range f.opinions {
		if op.ProjectID != projectID {
			continue
		}
		if state, ok := f.states[op.ID]; ok && state.LastAnalyzedAt != nil {
			continue
		}
		out = append(out, op)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *memoryStoreFake) CountOpinions(ctx context.Context, projectID string) (domain.ProjectCounts, error) {
	if f.countErr != nil {
		return domain.ProjectCounts{}, f.countErr
	}
	if err := ctx.Err(); err != nil {
		return domain.ProjectCounts{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts domain.ProjectCounts
	for _, op := range f.opinions {
		if op.ProjectID != projectID {
			continue
		}
		counts.Total++
		if state, ok := f.states[op.ID]; ok && state.LastAnalyzedAt != nil {
			counts.Analyzed++
		}
	}
	return counts, nil
}

func (f *memoryStoreFake) ListTopics(_ context.Context, projectID string) ([]domain.Topic, error) {
	if f.topicsErr != nil {
		return nil, f.topicsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Topic
	for _, topic := range f.topics {
		if topic.ProjectID == projectID {
			out = append(out, topic)
		}
	}
	return out, nil
}

func (f *memoryStoreFake) ApplyClassification(_ context.Context, plan domain.TopicUpdatePlan) (domain.TopicUpdateSummary, error) {
	f.applyCalls++
	if f.applyErr != nil {
		return domain.TopicUpdateSummary{}, domain.WrapError(domain.ErrTransaction, "apply classification", f.applyErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	created := make(map[string]bool, len(plan.NewTopics))
	for _, topic := range plan.NewTopics {
		topic.MemberCount = 0
		f.topics = append(f.topics, topic)
		created[topic.ID] = true
	}
	deltas := make(map[string]int)
	for opinionID, topicID := range plan.Assignments {
		previous := f.assigned[opinionID]
		if previous == topicID {
			continue
		}
		f.assigned[opinionID] = topicID
		deltas[topicID]++
		if previous != "" {
			deltas[previous]--
		}
	}
	var summary domain.TopicUpdateSummary
	for i := range f.topics {
		delta := deltas[f.topics[i].ID]
		if delta == 0 {
			continue
		}
		f.topics[i].MemberCount += delta
		ref := domain.TopicRef{ID: f.topics[i].ID, Name: f.topics[i].Name, MemberCount: f.topics[i].MemberCount, Added: delta}
		if created[ref.ID] {
			summary.Created = append(summary.Created, ref)
		} else {
			summary.Updated = append(summary.Updated, ref)
		}
	}
	if f.afterApply != nil {
		f.afterApply()
	}
	return summary, nil
}

// membersOf counts the opinions whose pointer names topicID.
func (f *memoryStoreFake) membersOf(topicID string) int {
	n := 0
	for _, assigned := range f.assigned {
		if assigned == topicID {
			n++
		}
	}
	return n
}

func (f *memoryStoreFake) topic(topicID string) domain.Topic {
	for _, topic := range f.topics {
		if topic.ID == topicID {
			return topic
		}
	}
	return domain.Topic{}
}

func (f *memoryStoreFake) UpsertStates(ctx context.Context, updates []domain.AnalysisStateUpdate) ([]domain.StateUpdateResult, error) {
	f.upsertCalls++
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]domain.StateUpdateResult, 0, len(updates))
	for _, update := range updates {
		if f.failStates[update.OpinionID] {
			results = append(results, domain.StateUpdateResult{OpinionID: update.OpinionID, Analyzed: update.Analyzed, Error: "row rejected"})
			continue
		}
		state := f.states[update.OpinionID]
		state.OpinionID = update.OpinionID
		state.ProjectID = update.ProjectID
		state.Version++
		state.ManualReview = update.ManualReview
		if update.Analyzed {
			at := update.AnalyzedAt
			topicID := update.TopicID
			confidence := update.Confidence
			state.LastAnalyzedAt = &at
			state.TopicID = &topicID
			state.Confidence = &confidence
		}
		f.states[update.OpinionID] = state
		results = append(results, domain.StateUpdateResult{OpinionID: update.OpinionID, Analyzed: update.Analyzed, Version: state.Version})
	}
	return results, nil
}

func (f *memoryStoreFake) GetState(_ context.Context, opinionID string) (*domain.AnalysisState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[opinionID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get state", errors.New(opinionID))
	}
	return &state, nil
}

type lockerFake struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int
	err      error
}

func (l *lockerFake) Acquire(_ context.Context, projectID string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[projectID] {
		return nil, domain.WrapError(domain.ErrRunInProgress, "acquire run lock", errors.New(projectID))
	}
	l.held[projectID] = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, projectID)
		l.released++
		return nil
	}, nil
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
