package usecase

import (
	"fmt"
	"math"
	"sort"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const (
	// MinTokenEfficiency is the priority-per-size floor of the token_efficiency policy.
	MinTokenEfficiency = 0.1

	budgetHitRatio = 0.95

	balancedPriorityWeight   = 0.7
	balancedEfficiencyWeight = 0.3
	balancedEfficiencyScale  = 50.0

	greedyMinMeanPriority    = 60.0
	greedyMinPriorityStdDev  = 15.0
	efficiencyMinSizeCV      = 0.5
)

// SubsetSelector chooses which scored opinions fit one classification call.
type SubsetSelector struct {
	minEfficiency float64
}

func NewSubsetSelector() *SubsetSelector {
	return &SubsetSelector{minEfficiency: MinTokenEfficiency}
}

func efficiency(rec domain.ScoredOpinion) float64 {
	return float64(rec.Priority) / float64(max(rec.SizeCost, 1))
}

func balancedScore(rec domain.ScoredOpinion) float64 {
	priorityPart := float64(rec.Priority) / 100
	efficiencyPart := math.Min(efficiency(rec)/balancedEfficiencyScale, 1)
	return (balancedPriorityWeight*priorityPart + balancedEfficiencyWeight*efficiencyPart) * 100
}

// Select partitions records into selected and deferred. Every policy is a
// single greedy pass; selected never exceeds either budget.
func (s *SubsetSelector) Select(records []domain.ScoredOpinion, sizeBudget, countBudget int, policy domain.SelectionPolicy) (domain.SelectionResult, error) {
	if sizeBudget <= 0 || countBudget <= 0 {
		return domain.SelectionResult{}, domain.WrapError(
			domain.ErrInvalidInput,
			"select opinions",
			fmt.Errorf("budgets must be positive: size=%d count=%d", sizeBudget, countBudget),
		)
	}

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	switch policy {
	case domain.PolicyGreedyPriority:
		sort.SliceStable(order, func(a, b int) bool {
			return records[order[a]].Priority > records[order[b]].Priority
		})
	case domain.PolicyTokenEfficiency:
		sort.SliceStable(order, func(a, b int) bool {
			return efficiency(records[order[a]]) > efficiency(records[order[b]])
		})
	case domain.PolicyBalanced:
		sort.SliceStable(order, func(a, b int) bool {
			return balancedScore(records[order[a]]) > balancedScore(records[order[b]])
		})
	default:
		return domain.SelectionResult{}, domain.WrapError(
			domain.ErrInvalidInput,
			"select opinions",
			fmt.Errorf("unknown policy %q", policy),
		)
	}

	admitted := make([]bool, len(records))
	selected := make([]domain.ScoredOpinion, 0, min(countBudget, len(records)))
	usedSize := 0
	skippedInefficient := 0
	for _, i := range order {
		rec := records[i]
		if len(selected) >= countBudget {
			break
		}
		if usedSize+rec.SizeCost > sizeBudget {
			continue
		}
		if policy == domain.PolicyTokenEfficiency && efficiency(rec) < s.minEfficiency {
			skippedInefficient++
			continue
		}
		admitted[i] = true
		usedSize += rec.SizeCost
		selected = append(selected, rec)
	}

	deferred := make([]domain.ScoredOpinion, 0, len(records)-len(selected))
	for i, rec := range records {
		if !admitted[i] {
			deferred = append(deferred, rec)
		}
	}

	stats := selectionStats(selected, len(records), sizeBudget, countBudget)
	stats.SkippedInefficient = skippedInefficient

	return domain.SelectionResult{
		Policy:             policy,
		Selected:           selected,
		Deferred:           deferred,
		Stats:              stats,
		BoundingConstraint: boundingConstraint(stats),
	}, nil
}

func selectionStats(selected []domain.ScoredOpinion, candidates, sizeBudget, countBudget int) domain.SelectionStats {
	stats := domain.SelectionStats{
		Candidates:  candidates,
		Selected:    len(selected),
		Deferred:    candidates - len(selected),
		SizeBudget:  sizeBudget,
		CountBudget: countBudget,
	}
	for _, rec := range selected {
		stats.SelectedSize += rec.SizeCost
		stats.AggregatePriority += rec.Priority
	}
	stats.SizeUtilization = float64(stats.SelectedSize) / float64(sizeBudget)
	stats.CountUtilization = float64(stats.Selected) / float64(countBudget)
	if stats.Selected > 0 {
		stats.AveragePriority = float64(stats.AggregatePriority) / float64(stats.Selected)
	}
	if stats.SelectedSize > 0 {
		stats.PriorityPerSize = float64(stats.AggregatePriority) / float64(stats.SelectedSize)
	}
	return stats
}

func boundingConstraint(stats domain.SelectionStats) domain.BoundingConstraint {
	sizeHit := stats.SizeUtilization >= budgetHitRatio
	countHit := stats.CountUtilization >= budgetHitRatio
	switch {
	case sizeHit && countHit:
		return domain.BoundByBoth
	case countHit:
		return domain.BoundByCount
	default:
		return domain.BoundBySize
	}
}

// RecommendPolicy suggests a policy from the priority and size distribution.
// It is advisory and never changes a caller's choice.
func (s *SubsetSelector) RecommendPolicy(records []domain.ScoredOpinion) domain.PolicyRecommendation {
	rec := domain.PolicyRecommendation{SampleSize: len(records)}
	if len(records) == 0 {
		rec.Policy = domain.PolicyBalanced
		rec.Reason = "empty backlog"
		return rec
	}

	priorities := make([]float64, len(records))
	sizes := make([]float64, len(records))
	for i, r := range records {
		priorities[i] = float64(r.Priority)
		sizes[i] = float64(r.SizeCost)
	}
	rec.MeanPriority, rec.PriorityStdDev = meanStdDev(priorities)
	rec.MeanSize, rec.SizeStdDev = meanStdDev(sizes)

	sizeCV := 0.0
	if rec.MeanSize > 0 {
		sizeCV = rec.SizeStdDev / rec.MeanSize
	}

	switch {
	case rec.MeanPriority >= greedyMinMeanPriority && rec.PriorityStdDev >= greedyMinPriorityStdDev:
		rec.Policy = domain.PolicyGreedyPriority
		rec.Reason = fmt.Sprintf("high mean priority %.1f with spread %.1f", rec.MeanPriority, rec.PriorityStdDev)
	case sizeCV >= efficiencyMinSizeCV:
		rec.Policy = domain.PolicyTokenEfficiency
		rec.Reason = fmt.Sprintf("size varies widely (coefficient of variation %.2f)", sizeCV)
	default:
		rec.Policy = domain.PolicyBalanced
		rec.Reason = "priority and size are evenly distributed"
	}
	return rec
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
