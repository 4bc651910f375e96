package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

type generatorFake struct {
	responses []string
	errs      []error
	calls     int
	requests  []domain.GenerationRequest
}

func (f *generatorFake) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	idx := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", nil
}

// retryGuardFake retries fn up to attempts times without sleeping.
type retryGuardFake struct {
	attempts   int
	executions int
}

func (g *retryGuardFake) Execute(ctx context.Context, _ string, fn func(context.Context) error) error {
	g.executions++
	var err error
	for attempt := 0; attempt < g.attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}

func classifySelection() []domain.ScoredOpinion {
	return []domain.ScoredOpinion{
		{Opinion: domain.Opinion{ID: "o1", Content: "料金が高すぎる"}, Priority: 85, SizeCost: 10},
		{Opinion: domain.Opinion{ID: "o2", Content: "ダークモードが欲しい"}, Priority: 60, SizeCost: 12},
		{Opinion: domain.Opinion{ID: "o3", Content: "ダークモード対応してください"}, Priority: 40, SizeCost: 16},
	}
}

func classifyTopics() []domain.Topic {
	return []domain.Topic{{ID: "t-price", Name: "料金", Summary: "価格に関する意見", MemberCount: 4}}
}

const validResponse = `Here is the result:
{
  "decisions": [
    {"opinion_id": "o1", "action": "assign_to_existing", "topic_id": "t-price", "confidence": 0.92, "reasoning": "price",
     "alternatives": [{"topic_id": "t-price", "confidence": 0.4}, {"topic_id": "ghost", "confidence": 0.2}]},
    {"opinion_id": "o2", "action": "CREATE_NEW", "cluster_id": "dark", "confidence": 0.8},
    {"opinion_id": "o3", "action": "create_new", "cluster_id": "dark", "confidence": 0.7}
  ],
  "new_clusters": [
    {"cluster_id": "dark", "name": "ダークモード", "summary": "ダークモード要望", "member_ids": ["o2"], "confidence": 0.75, "keywords": ["ダークモード"]}
  ],
  "insights": [
    {"type": "trend", "title": "Dark mode demand", "description": "Several users ask for dark mode", "affected_opinion_ids": ["o2", "o3", "zz"]},
    {"type": "rumor", "title": "x", "description": "y"}
  ]
}`

func TestClassifyEmptySelectionMakesNoCall(t *testing.T) {
	gen := &generatorFake{}
	budget := domain.SingleCallBudget()
	orchestrator := NewClassificationOrchestrator(gen, &retryGuardFake{attempts: 3})

	outcome, err := orchestrator.Classify(context.Background(), nil, classifyTopics(), domain.RunContext{}, budget, domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gen.calls != 0 || budget.Used() != 0 || outcome.APICallsUsed != 0 {
		t.Fatalf("expected no external call, calls=%d used=%d", gen.calls, budget.Used())
	}
}

func TestClassifyParsesValidResponse(t *testing.T) {
	gen := &generatorFake{responses: []string{validResponse}}
	budget := domain.SingleCallBudget()
	orchestrator := NewClassificationOrchestrator(gen, &retryGuardFake{attempts: 3})

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, budget,
		domain.ClassifyOptions{IncludeInsights: true, Model: "m1", Purpose: "opinion_classification"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gen.calls != 1 || outcome.APICallsUsed != 1 {
		t.Fatalf("expected exactly one call, got calls=%d used=%d", gen.calls, outcome.APICallsUsed)
	}
	if gen.requests[0].Model != "m1" || gen.requests[0].Purpose != "opinion_classification" || !gen.requests[0].JSON {
		t.Fatalf("unexpected generation request: %+v", gen.requests[0])
	}
	if outcome.FallbackUsed {
		t.Fatalf("did not expect fallback: %s", outcome.FallbackReason)
	}
	if len(outcome.Decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(outcome.Decisions))
	}
	first := outcome.Decisions[0]
	if first.Action != domain.ActionAssignToExisting || first.TopicID != "t-price" || first.Confidence != 0.92 {
		t.Fatalf("unexpected first decision: %+v", first)
	}
	if len(first.Alternatives) != 1 {
		t.Fatalf("expected unknown alternative dropped, got %+v", first.Alternatives)
	}
	if len(outcome.NewClusters) != 1 {
		t.Fatalf("expected one proposal, got %+v", outcome.NewClusters)
	}
	if got := strings.Join(outcome.NewClusters[0].MemberIDs, ","); got != "o2,o3" {
		t.Fatalf("members should follow decisions, got %s", got)
	}
	if len(outcome.Insights) != 1 || len(outcome.Insights[0].AffectedOpinionIDs) != 2 {
		t.Fatalf("unexpected insights: %+v", outcome.Insights)
	}
	if len(outcome.Rejected) != 1 || outcome.Rejected[0].Kind != rejectInsight {
		t.Fatalf("expected the unknown insight type rejected, got %+v", outcome.Rejected)
	}
}

func TestClassifyMalformedResponseFallsBack(t *testing.T) {
	gen := &generatorFake{responses: []string{"I could not decide, sorry."}}
	orchestrator := NewClassificationOrchestrator(gen, &retryGuardFake{attempts: 3})
	selected := classifySelection()

	outcome, err := orchestrator.Classify(context.Background(), selected, classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{IncludeInsights: true})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !outcome.FallbackUsed || outcome.APICallsUsed != 1 {
		t.Fatalf("expected fallback with one call, got %+v", outcome)
	}
	if len(outcome.Decisions) != len(selected) || len(outcome.NewClusters) != len(selected) {
		t.Fatalf("expected one decision and proposal per opinion, got %d/%d", len(outcome.Decisions), len(outcome.NewClusters))
	}
	for i, decision := range outcome.Decisions {
		if decision.Action != domain.ActionCreateNew || decision.Confidence != FallbackConfidence {
			t.Fatalf("unexpected fallback decision: %+v", decision)
		}
		if decision.OpinionID != selected[i].Opinion.ID || decision.ClusterID != "fallback-"+selected[i].Opinion.ID {
			t.Fatalf("fallback decision out of order: %+v", decision)
		}
		if got := outcome.NewClusters[i].MemberIDs; len(got) != 1 || got[0] != decision.OpinionID {
			t.Fatalf("expected single-member proposal, got %v", got)
		}
	}
	if len(outcome.Insights) != 0 {
		t.Fatalf("fallback must carry zero insights")
	}
}

func TestClassifyNoUsableDecisionFallsBack(t *testing.T) {
	response := `{"decisions":[{"opinion_id":"unknown","action":"create_new","cluster_id":"c"},
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"missing"}],
		"new_clusters":[], "insights":[{"type":"trend","title":"t","description":"d"}]}`
	gen := &generatorFake{responses: []string{response}}
	orchestrator := NewClassificationOrchestrator(gen, nil)

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{IncludeInsights: true, Strict: true})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !outcome.FallbackUsed || len(outcome.Insights) != 0 {
		t.Fatalf("expected fallback without insights, got %+v", outcome)
	}
	if len(outcome.Rejected) != 2 {
		t.Fatalf("expected both decisions reported as rejected, got %+v", outcome.Rejected)
	}
}

func TestClassifyFillsOmittedOpinions(t *testing.T) {
	response := `{"decisions":[
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"t-price","confidence":0.9},
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"t-price","confidence":0.1},
		{"opinion_id":"o2","action":"create_new","cluster_id":"nowhere","confidence":0.9}
	],"new_clusters":[{"cluster_id":"spare","name":"Spare","member_ids":[]}]}`
	gen := &generatorFake{responses: []string{response}}
	orchestrator := NewClassificationOrchestrator(gen, nil)

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if outcome.FallbackUsed {
		t.Fatalf("partial response should not trigger full fallback")
	}
	if outcome.GapsFilled != 1 || len(outcome.Decisions) != 3 {
		t.Fatalf("expected 1 gap filled and 3 decisions, got gaps=%d decisions=%d", outcome.GapsFilled, len(outcome.Decisions))
	}
	if outcome.Decisions[0].Confidence != 0.9 {
		t.Fatalf("duplicate decision must not override the first: %+v", outcome.Decisions[0])
	}
	if outcome.Decisions[1].ClusterID != "nowhere" {
		t.Fatalf("create_new without a proposal should keep its cluster, got %+v", outcome.Decisions[1])
	}
	if last := outcome.Decisions[2]; last.OpinionID != "o3" || last.ClusterID != fallbackClusterPrefix+"o3" {
		t.Fatalf("expected fallback proposal for o3, got %+v", last)
	}
	for _, proposal := range outcome.NewClusters {
		if proposal.ClusterID == "spare" {
			t.Fatalf("proposal without members must be dropped")
		}
	}
	if len(outcome.Rejected) != 2 {
		t.Fatalf("expected duplicate decision and empty cluster rejected, got %+v", outcome.Rejected)
	}
}

func TestClassifyCreateNewWithoutProposals(t *testing.T) {
	response := `{"decisions":[
		{"opinion_id":"o1","action":"create_new","cluster_id":"pricing","confidence":0.7},
		{"opinion_id":"o2","action":"create_new","cluster_id":"darkmode","confidence":0.8},
		{"opinion_id":"o3","action":"create_new","cluster_id":"darkmode","confidence":0.6}
	],"new_clusters":[]}`
	gen := &generatorFake{responses: []string{response}}
	orchestrator := NewClassificationOrchestrator(gen, nil)

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if outcome.FallbackUsed || outcome.GapsFilled != 0 || len(outcome.Rejected) != 0 {
		t.Fatalf("grouping should be kept, got fallback=%v gaps=%d rejected=%+v", outcome.FallbackUsed, outcome.GapsFilled, outcome.Rejected)
	}
	if len(outcome.NewClusters) != 2 {
		t.Fatalf("expected two proposals, got %+v", outcome.NewClusters)
	}
	dark := outcome.NewClusters[1]
	if dark.ClusterID != "darkmode" || dark.Name != "darkmode" || strings.Join(dark.MemberIDs, ",") != "o2,o3" {
		t.Fatalf("unexpected proposal: %+v", dark)
	}
}

func TestClassifyRejectsReservedClusterInDecision(t *testing.T) {
	response := `{"decisions":[
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"t-price"},
		{"opinion_id":"o2","action":"create_new","cluster_id":"fallback-o2"}
	]}`
	gen := &generatorFake{responses: []string{response}}
	orchestrator := NewClassificationOrchestrator(gen, nil)

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(outcome.Rejected) != 1 || outcome.Rejected[0].Kind != rejectDecision || outcome.GapsFilled != 2 {
		t.Fatalf("expected reserved cluster rejected and gaps filled, got rejected=%+v gaps=%d", outcome.Rejected, outcome.GapsFilled)
	}
}

func TestClassifyKeepsDecisionsWhenOptionalFieldIsMalformed(t *testing.T) {
	response := `{"decisions":[
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"t-price","confidence":0.9},
		{"opinion_id":"o2","action":"create_new","cluster_id":"dark","confidence":0.8},
		{"opinion_id":"o3","action":"create_new","cluster_id":"dark","confidence":0.7}
	],
	"new_clusters":[{"cluster_id":"dark","name":"Dark mode","member_ids":["o2","o3"]}],
	"insights":{"oops":1}}`

	tests := []struct {
		name     string
		insights bool
		rejected int
	}{
		{name: "insights enabled", insights: true, rejected: 1},
		{name: "insights disabled", insights: false, rejected: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &generatorFake{responses: []string{response}}
			orchestrator := NewClassificationOrchestrator(gen, nil)

			outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
				domain.ClassifyOptions{IncludeInsights: tc.insights})
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if outcome.FallbackUsed {
				t.Fatalf("malformed insights must not discard decisions: %s", outcome.FallbackReason)
			}
			if len(outcome.Decisions) != 3 || len(outcome.NewClusters) != 1 || len(outcome.Insights) != 0 {
				t.Fatalf("unexpected outcome: %+v", outcome)
			}
			if len(outcome.Rejected) != tc.rejected {
				t.Fatalf("expected %d rejected, got %+v", tc.rejected, outcome.Rejected)
			}
			if tc.rejected == 1 && (outcome.Rejected[0].Kind != rejectInsight || outcome.Rejected[0].Index != wholeField) {
				t.Fatalf("expected the insights field rejected as a whole, got %+v", outcome.Rejected[0])
			}
		})
	}
}

func TestClassifyMalformedClustersKeepsDecisions(t *testing.T) {
	response := `{"decisions":[
		{"opinion_id":"o1","action":"assign_to_existing","topic_id":"t-price"},
		{"opinion_id":"o2","action":"create_new","cluster_id":"dark"},
		{"opinion_id":"o3","action":"create_new","cluster_id":"dark"}
	],"new_clusters":"dark"}`
	gen := &generatorFake{responses: []string{response}}
	orchestrator := NewClassificationOrchestrator(gen, nil)

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(),
		domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if outcome.FallbackUsed || outcome.GapsFilled != 0 {
		t.Fatalf("expected decisions kept, got fallback=%v gaps=%d", outcome.FallbackUsed, outcome.GapsFilled)
	}
	if len(outcome.Rejected) != 1 || outcome.Rejected[0].Kind != rejectCluster {
		t.Fatalf("expected new_clusters rejected, got %+v", outcome.Rejected)
	}
	if len(outcome.NewClusters) != 1 || strings.Join(outcome.NewClusters[0].MemberIDs, ",") != "o2,o3" {
		t.Fatalf("unexpected proposals: %+v", outcome.NewClusters)
	}
}

func TestClassifyTransportFailureIsFatalAfterRetries(t *testing.T) {
	transportErr := domain.WrapError(domain.ErrTemporary, "generate", errors.New("connection refused"))
	gen := &generatorFake{errs: []error{transportErr, transportErr, transportErr}}
	guard := &retryGuardFake{attempts: 3}
	budget := domain.SingleCallBudget()
	orchestrator := NewClassificationOrchestrator(gen, guard)

	_, err := orchestrator.Classify(context.Background(), classifySelection(), nil, domain.RunContext{}, budget, domain.ClassifyOptions{})
	if !domain.IsKind(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if gen.calls != 3 || guard.executions != 1 || budget.Used() != 1 {
		t.Fatalf("expected 3 attempts of one guarded call, got attempts=%d executions=%d used=%d", gen.calls, guard.executions, budget.Used())
	}
}

func TestClassifyRetrySucceedsWithinOneCall(t *testing.T) {
	gen := &generatorFake{
		errs:      []error{errors.New("timeout"), nil},
		responses: []string{"", validResponse},
	}
	orchestrator := NewClassificationOrchestrator(gen, &retryGuardFake{attempts: 3})

	outcome, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, domain.SingleCallBudget(), domain.ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gen.calls != 2 || outcome.APICallsUsed != 1 {
		t.Fatalf("expected two attempts counted as one call, attempts=%d used=%d", gen.calls, outcome.APICallsUsed)
	}
	if len(outcome.Insights) != 0 {
		t.Fatalf("insights disabled, got %+v", outcome.Insights)
	}
}

func TestClassifySecondCallOnSameBudgetFails(t *testing.T) {
	gen := &generatorFake{responses: []string{validResponse}}
	orchestrator := NewClassificationOrchestrator(gen, nil)
	budget := domain.SingleCallBudget()

	if _, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, budget, domain.ClassifyOptions{}); err != nil {
		t.Fatalf("first Classify() error = %v", err)
	}
	_, err := orchestrator.Classify(context.Background(), classifySelection(), classifyTopics(), domain.RunContext{}, budget, domain.ClassifyOptions{})
	if !domain.IsKind(err, domain.ErrCallBudgetExhausted) {
		t.Fatalf("expected budget exhausted, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("second call must not reach the generator, calls=%d", gen.calls)
	}
}

func TestBuildClassificationPromptEmbedsOpinionsAndTopics(t *testing.T) {
	prompt := buildClassificationPrompt(classifySelection(), classifyTopics(), true)
	for _, want := range []string{"id=o1", "priority=85", "id=t-price", "members=4", "trend, concern, opportunity, contradiction, consensus", "料金が高すぎる"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(buildClassificationPrompt(classifySelection(), nil, false), "affected_opinion_ids.\n") {
		t.Fatalf("insight instructions should be omitted when disabled")
	}
}
