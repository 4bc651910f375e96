package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const (
	FallbackConfidence      = 0.3
	defaultItemConfidence   = 0.5
	fallbackClusterPrefix   = "fallback-"
	fallbackNameMaxRunes    = 40
	fallbackSummaryMaxRunes = 200
)

// wholeField is the RejectedItem index used when a top-level key is dropped.
const wholeField = -1

const (
	rejectDecision = "decision"
	rejectCluster  = "new_cluster"
	rejectInsight  = "insight"
)

var errNoUsableDecision = errors.New("response contains no usable decision")

type rawDecision struct {
	OpinionID    string          `json:"opinion_id"`
	Action       string          `json:"action"`
	TopicID      string          `json:"topic_id"`
	ClusterID    string          `json:"cluster_id"`
	Confidence   *float64        `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
	Alternatives json.RawMessage `json:"alternatives"`
}

type rawCluster struct {
	ClusterID  string          `json:"cluster_id"`
	Name       string          `json:"name"`
	Summary    string          `json:"summary"`
	MemberIDs  []string        `json:"member_ids"`
	Confidence *float64        `json:"confidence"`
	Keywords   json.RawMessage `json:"keywords"`
	Theme      string          `json:"theme"`
}

type rawInsight struct {
	Type               string          `json:"type"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	AffectedOpinionIDs json.RawMessage `json:"affected_opinion_ids"`
	Confidence         *float64        `json:"confidence"`
}

// responseParser validates one response against the selected opinions and
// known topics. Items are validated one by one; a bad item never sinks the payload.
type responseParser struct {
	selected    []domain.ScoredOpinion
	selectedIDs map[string]struct{}
	topicIDs    map[string]struct{}
	insights    bool
	rejected    []domain.RejectedItem
}

func newResponseParser(selected []domain.ScoredOpinion, topics []domain.Topic, includeInsights bool) *responseParser {
	p := &responseParser{
		selected:    selected,
		selectedIDs: make(map[string]struct{}, len(selected)),
		topicIDs:    make(map[string]struct{}, len(topics)),
		insights:    includeInsights,
	}
	for _, rec := range selected {
		p.selectedIDs[rec.Opinion.ID] = struct{}{}
	}
	for _, topic := range topics {
		p.topicIDs[topic.ID] = struct{}{}
	}
	return p
}

func (p *responseParser) reject(kind string, index int, format string, args ...any) {
	p.rejected = append(p.rejected, domain.RejectedItem{Kind: kind, Index: index, Reason: fmt.Sprintf(format, args...)})
}

// parse returns ErrContractViolation when the payload is not a JSON object
// or carries no valid decision. A top-level field of the wrong shape is
// rejected on its own and the rest of the payload is kept.
func (p *responseParser) parse(raw string) (domain.ClassificationOutcome, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &fields); err != nil {
		return domain.ClassificationOutcome{}, domain.WrapError(domain.ErrContractViolation, "parse classification json", err)
	}

	clusters := p.parseClusters(p.field(fields, "new_clusters", rejectCluster))
	decisions := p.parseDecisions(p.field(fields, "decisions", rejectDecision), clusters)
	if len(decisions) == 0 {
		return domain.ClassificationOutcome{}, domain.WrapError(domain.ErrContractViolation, "validate classification", errNoUsableDecision)
	}

	outcome := domain.ClassificationOutcome{
		Decisions:   decisions,
		NewClusters: p.attachMembers(clusters, decisions),
		Insights:    []domain.Insight{},
	}
	if p.insights {
		outcome.Insights = p.parseInsights(p.field(fields, "insights", rejectInsight))
	}
	outcome.Rejected = p.rejected
	return outcome, nil
}

// field decodes one top-level list. A missing or null key is an empty list.
func (p *responseParser) field(fields map[string]json.RawMessage, key, kind string) []json.RawMessage {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		p.reject(kind, wholeField, "%s is not a list: %v", key, err)
		return nil
	}
	return items
}

type parsedCluster struct {
	proposal domain.NewClusterProposal
	index    int
}

func (p *responseParser) parseClusters(items []json.RawMessage) map[string]*parsedCluster {
	clusters := make(map[string]*parsedCluster, len(items))
	for idx, item := range items {
		var rc rawCluster
		if err := json.Unmarshal(item, &rc); err != nil {
			p.reject(rejectCluster, idx, "malformed cluster: %v", err)
			continue
		}
		id := strings.TrimSpace(rc.ClusterID)
		name := strings.TrimSpace(rc.Name)
		switch {
		case id == "":
			p.reject(rejectCluster, idx, "missing cluster_id")
			continue
		case name == "":
			p.reject(rejectCluster, idx, "cluster %s missing name", id)
			continue
		case strings.HasPrefix(id, fallbackClusterPrefix):
			p.reject(rejectCluster, idx, "cluster %s uses a reserved prefix", id)
			continue
		case rc.MemberIDs == nil:
			p.reject(rejectCluster, idx, "cluster %s missing member_ids", id)
			continue
		}
		if _, dup := clusters[id]; dup {
			p.reject(rejectCluster, idx, "duplicate cluster %s", id)
			continue
		}
		clusters[id] = &parsedCluster{
			index: idx,
			proposal: domain.NewClusterProposal{
				ClusterID:  id,
				Name:       name,
				Summary:    strings.TrimSpace(rc.Summary),
				Confidence: confidenceOrDefault(rc.Confidence),
				Keywords:   stringList(rc.Keywords),
				Theme:      strings.TrimSpace(rc.Theme),
			},
		}
	}
	return clusters
}

func (p *responseParser) parseDecisions(items []json.RawMessage, clusters map[string]*parsedCluster) []domain.ClassificationDecision {
	decided := make(map[string]domain.ClassificationDecision, len(items))
	for idx, item := range items {
		var rd rawDecision
		if err := json.Unmarshal(item, &rd); err != nil {
			p.reject(rejectDecision, idx, "malformed decision: %v", err)
			continue
		}
		opinionID := strings.TrimSpace(rd.OpinionID)
		if _, ok := p.selectedIDs[opinionID]; !ok {
			p.reject(rejectDecision, idx, "opinion %q was not selected", opinionID)
			continue
		}
		if _, dup := decided[opinionID]; dup {
			p.reject(rejectDecision, idx, "duplicate decision for opinion %s", opinionID)
			continue
		}
		action, ok := domain.ParseDecisionAction(rd.Action)
		if !ok {
			p.reject(rejectDecision, idx, "unknown action %q", rd.Action)
			continue
		}

		confidence := confidenceOrDefault(rd.Confidence)
		reasoning := strings.TrimSpace(rd.Reasoning)
		var decision domain.ClassificationDecision
		switch action {
		case domain.ActionAssignToExisting:
			topicID := strings.TrimSpace(rd.TopicID)
			if _, known := p.topicIDs[topicID]; !known {
				p.reject(rejectDecision, idx, "unknown topic %q", topicID)
				continue
			}
			decision = domain.AssignToExisting(opinionID, topicID, confidence, reasoning)
		case domain.ActionCreateNew:
			clusterID := strings.TrimSpace(rd.ClusterID)
			if clusterID == "" {
				p.reject(rejectDecision, idx, "create_new without cluster_id")
				continue
			}
			if strings.HasPrefix(clusterID, fallbackClusterPrefix) {
				p.reject(rejectDecision, idx, "cluster %s uses a reserved prefix", clusterID)
				continue
			}
			if _, proposed := clusters[clusterID]; !proposed {
				clusters[clusterID] = &parsedCluster{
					index: wholeField,
					proposal: domain.NewClusterProposal{
						ClusterID:  clusterID,
						Name:       clusterID,
						Confidence: confidence,
					},
				}
			}
			decision = domain.CreateNew(opinionID, clusterID, confidence, reasoning)
		}
		decision.Alternatives = p.alternatives(rd.Alternatives)
		decided[opinionID] = decision
	}

	decisions := make([]domain.ClassificationDecision, 0, len(decided))
	for _, rec := range p.selected {
		if decision, ok := decided[rec.Opinion.ID]; ok {
			decisions = append(decisions, decision)
		}
	}
	return decisions
}

func (p *responseParser) alternatives(raw json.RawMessage) []domain.DecisionAlternative {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []domain.DecisionAlternative
	for _, item := range items {
		var alt struct {
			TopicID    string   `json:"topic_id"`
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal(item, &alt); err != nil {
			continue
		}
		if _, known := p.topicIDs[alt.TopicID]; !known {
			continue
		}
		out = append(out, domain.DecisionAlternative{TopicID: alt.TopicID, Confidence: confidenceOrDefault(alt.Confidence)})
	}
	return out
}

// attachMembers rebuilds proposal membership from the accepted decisions and
// drops proposals nothing was routed to.
func (p *responseParser) attachMembers(clusters map[string]*parsedCluster, decisions []domain.ClassificationDecision) []domain.NewClusterProposal {
	members := make(map[string][]string, len(clusters))
	var order []string
	for _, decision := range decisions {
		if decision.Action != domain.ActionCreateNew {
			continue
		}
		if _, seen := members[decision.ClusterID]; !seen {
			order = append(order, decision.ClusterID)
		}
		members[decision.ClusterID] = append(members[decision.ClusterID], decision.OpinionID)
	}

	var unused []*parsedCluster
	for id, cluster := range clusters {
		if _, used := members[id]; !used {
			unused = append(unused, cluster)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return unused[i].index < unused[j].index })
	for _, cluster := range unused {
		p.reject(rejectCluster, cluster.index, "cluster %s has no accepted members", cluster.proposal.ClusterID)
	}

	proposals := make([]domain.NewClusterProposal, 0, len(order))
	for _, id := range order {
		proposal := clusters[id].proposal
		proposal.MemberIDs = members[id]
		proposals = append(proposals, proposal)
	}
	return proposals
}

func (p *responseParser) parseInsights(items []json.RawMessage) []domain.Insight {
	insights := make([]domain.Insight, 0, len(items))
	for idx, item := range items {
		var ri rawInsight
		if err := json.Unmarshal(item, &ri); err != nil {
			p.reject(rejectInsight, idx, "malformed insight: %v", err)
			continue
		}
		kind, ok := domain.ParseInsightType(ri.Type)
		if !ok {
			p.reject(rejectInsight, idx, "unknown insight type %q", ri.Type)
			continue
		}
		title := strings.TrimSpace(ri.Title)
		description := strings.TrimSpace(ri.Description)
		if title == "" || description == "" {
			p.reject(rejectInsight, idx, "insight missing title or description")
			continue
		}
		var affected []string
		for _, id := range stringList(ri.AffectedOpinionIDs) {
			if _, ok := p.selectedIDs[id]; ok {
				affected = append(affected, id)
			}
		}
		insight := domain.Insight{
			Type:               kind,
			Title:              title,
			Description:        description,
			AffectedOpinionIDs: affected,
		}
		if ri.Confidence != nil {
			insight.Confidence = clampConfidence(*ri.Confidence)
		}
		insights = append(insights, insight)
	}
	return insights
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func confidenceOrDefault(value *float64) float64 {
	if value == nil {
		return defaultItemConfidence
	}
	return clampConfidence(*value)
}

func clampConfidence(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// fallbackFor routes one opinion to its own single-member proposal.
func fallbackFor(rec domain.ScoredOpinion, reasoning string) (domain.ClassificationDecision, domain.NewClusterProposal) {
	clusterID := fallbackClusterPrefix + rec.Opinion.ID
	content := strings.Join(strings.Fields(rec.Opinion.Content), " ")
	name := truncateRunes(content, fallbackNameMaxRunes)
	if name == "" {
		name = "Opinion " + rec.Opinion.ID
	}
	decision := domain.CreateNew(rec.Opinion.ID, clusterID, FallbackConfidence, reasoning)
	proposal := domain.NewClusterProposal{
		ClusterID:  clusterID,
		Name:       name,
		Summary:    truncateRunes(content, fallbackSummaryMaxRunes),
		MemberIDs:  []string{rec.Opinion.ID},
		Confidence: FallbackConfidence,
	}
	return decision, proposal
}

func fallbackOutcome(selected []domain.ScoredOpinion, reason string) domain.ClassificationOutcome {
	outcome := domain.ClassificationOutcome{
		Decisions:      make([]domain.ClassificationDecision, 0, len(selected)),
		NewClusters:    make([]domain.NewClusterProposal, 0, len(selected)),
		Insights:       []domain.Insight{},
		FallbackUsed:   true,
		FallbackReason: reason,
	}
	for _, rec := range selected {
		decision, proposal := fallbackFor(rec, "fallback: response unusable")
		outcome.Decisions = append(outcome.Decisions, decision)
		outcome.NewClusters = append(outcome.NewClusters, proposal)
	}
	return outcome
}

// fillGaps gives every selected opinion without a decision a fallback
// proposal, keeping decisions in selection order.
func fillGaps(outcome domain.ClassificationOutcome, selected []domain.ScoredOpinion) domain.ClassificationOutcome {
	decided := make(map[string]domain.ClassificationDecision, len(outcome.Decisions))
	for _, decision := range outcome.Decisions {
		decided[decision.OpinionID] = decision
	}
	ordered := make([]domain.ClassificationDecision, 0, len(selected))
	for _, rec := range selected {
		if decision, ok := decided[rec.Opinion.ID]; ok {
			ordered = append(ordered, decision)
			continue
		}
		decision, proposal := fallbackFor(rec, "fallback: omitted from response")
		ordered = append(ordered, decision)
		outcome.NewClusters = append(outcome.NewClusters, proposal)
		outcome.GapsFilled++
	}
	outcome.Decisions = ordered
	return outcome
}
