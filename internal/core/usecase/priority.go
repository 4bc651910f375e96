package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const (
	maxPriority         = 100
	maxVolumeScore      = 25
	maxRecencyScore     = 30
	maxUniquenessScore  = 25
	maxEmotionScore     = 20
	maxLexiconScore     = 15
	novelKeywordPoints  = 5
	projectKeywordBonus = 5
	lexiconMatchPoints  = 3
	questionBonus       = 5
	suggestionBonus     = 5
)

var volumeBands = []struct {
	minExclusive int
	score        int
}{
	{200, 25},
	{100, 20},
	{50, 15},
	{20, 10},
}

var recencyBands = []struct {
	maxExclusive time.Duration
	score        int
}{
	{time.Hour, 30},
	{6 * time.Hour, 25},
	{24 * time.Hour, 20},
	{72 * time.Hour, 15},
	{168 * time.Hour, 10},
}

// Strong sentiment, emphasis and urgency terms. ASCII terms match whole words.
var emotionLexicon = []string{
	"urgent", "urgently", "asap", "immediately", "critical", "terrible", "awful", "horrible",
	"worst", "hate", "angry", "furious", "frustrated", "frustrating", "disappointed", "disappointing",
	"unacceptable", "broken", "love", "amazing", "excellent", "fantastic", "extremely", "absolutely",
	"!", "！",
	"最悪", "最高", "緊急", "至急", "すぐに", "絶対", "本当に", "とても", "非常に", "ひどい",
	"困る", "困って", "不満", "怒り", "残念", "素晴らしい", "大好き", "大変", "深刻", "重要",
}

var questionMarkers = []string{"?", "？", "why", "how", "なぜ", "どうして"}

var suggestionMarkers = []string{
	"should", "please", "suggest", "suggestion", "recommend", "wish",
	"べき", "ほしい", "欲しい", "してください", "提案", "お願い", "改善",
}

// PriorityScorer assigns a deterministic 0-100 importance to each opinion.
type PriorityScorer struct {
	now     func() time.Time
	workers int
}

func NewPriorityScorer(now func() time.Time, workers int) *PriorityScorer {
	if now == nil {
		now = time.Now
	}
	if workers <= 0 {
		workers = 1
	}
	return &PriorityScorer{now: now, workers: workers}
}

// scoringIndex is the per-batch precomputation of a ScoringContext.
type scoringIndex struct {
	now             time.Time
	topicKeywords   []string
	projectKeywords []string
}

func (s *PriorityScorer) index(sc domain.ScoringContext) scoringIndex {
	now := sc.Now
	if now.IsZero() {
		now = s.now()
	}
	return scoringIndex{
		now:             now,
		topicKeywords:   topicKeywords(sc.Topics),
		projectKeywords: normalizeKeywords(sc.ProjectKeywords),
	}
}

func topicKeywords(topics []domain.Topic) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	for _, topic := range topics {
		for _, kw := range candidateKeywords(topic.Name+" "+topic.Summary, 0) {
			add(kw)
		}
		for _, kw := range normalizeKeywords(topic.Keywords) {
			add(kw)
		}
	}
	return out
}

func (s *PriorityScorer) Score(opinion domain.Opinion, sc domain.ScoringContext) domain.ScoredOpinion {
	return s.score(opinion, s.index(sc))
}

// ScoreBatch scores opinions in parallel and returns them sorted by priority
// descending, keeping input order among equal priorities.
func (s *PriorityScorer) ScoreBatch(ctx context.Context, opinions []domain.Opinion, sc domain.ScoringContext) ([]domain.ScoredOpinion, error) {
	idx := s.index(sc)
	scored := make([]domain.ScoredOpinion, len(opinions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range opinions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scored[i] = s.score(opinions[i], idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("score opinions: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Priority > scored[j].Priority
	})
	return scored, nil
}

func (s *PriorityScorer) score(opinion domain.Opinion, idx scoringIndex) domain.ScoredOpinion {
	length := utf8.RuneCountInString(opinion.Content)
	lowered := strings.ToLower(opinion.Content)

	volume := volumeScore(length)
	age := idx.now.Sub(opinion.SubmittedAt)
	recency := recencyScore(age)
	novel, projectHit := novelty(candidateKeywords(opinion.Content, maxContentKeywords), idx)
	uniqueness := uniquenessScore(novel, projectHit)
	lexiconHits, question, suggestion := emotionSignals(lowered)
	emotion := emotionScore(lexiconHits, question, suggestion)

	breakdown := domain.PriorityBreakdown{
		InformationVolume:  volume,
		Recency:            recency,
		Uniqueness:         uniqueness,
		EmotionalIntensity: emotion,
	}
	total := breakdown.Total()
	if total > maxPriority {
		total = maxPriority
	}

	reasons := []string{
		fmt.Sprintf("information volume %d/%d: %d characters", volume, maxVolumeScore, length),
		fmt.Sprintf("recency %d/%d: submitted %s ago", recency, maxRecencyScore, roundAge(age)),
		fmt.Sprintf("uniqueness %d/%d: %d novel keywords", uniqueness, maxUniquenessScore, novel),
	}
	if projectHit {
		reasons = append(reasons, "matches project keywords")
	}
	reasons = append(reasons, fmt.Sprintf("emotional intensity %d/%d: %d intensity terms", emotion, maxEmotionScore, lexiconHits))
	if question {
		reasons = append(reasons, "contains a question")
	}
	if suggestion {
		reasons = append(reasons, "contains a suggestion or request")
	}

	return domain.ScoredOpinion{
		Opinion:   opinion,
		Priority:  total,
		SizeCost:  estimateSizeCost(length),
		Breakdown: breakdown,
		Reasons:   reasons,
	}
}

// estimateSizeCost is ceil(length * 1.3) in integer arithmetic.
func estimateSizeCost(length int) int {
	if length <= 0 {
		return 0
	}
	return (length*13 + 9) / 10
}

func volumeScore(length int) int {
	for _, band := range volumeBands {
		if length > band.minExclusive {
			return band.score
		}
	}
	return 5
}

func recencyScore(age time.Duration) int {
	if age < 0 {
		age = 0
	}
	for _, band := range recencyBands {
		if age < band.maxExclusive {
			return band.score
		}
	}
	return 5
}

func novelty(keywords []string, idx scoringIndex) (novel int, projectHit bool) {
	for _, kw := range keywords {
		if !overlapsAny(kw, idx.topicKeywords) {
			novel++
		}
		if !projectHit && overlapsAny(kw, idx.projectKeywords) {
			projectHit = true
		}
	}
	return novel, projectHit
}

func uniquenessScore(novel int, projectHit bool) int {
	score := min(novel*novelKeywordPoints, maxUniquenessScore)
	if projectHit {
		score += projectKeywordBonus
	}
	return min(score, maxUniquenessScore)
}

func emotionSignals(lowered string) (lexiconHits int, question, suggestion bool) {
	words := asciiWords(lowered)
	for _, term := range emotionLexicon {
		if containsTerm(lowered, words, term) {
			lexiconHits++
		}
	}
	for _, marker := range questionMarkers {
		if containsTerm(lowered, words, marker) {
			question = true
			break
		}
	}
	for _, marker := range suggestionMarkers {
		if containsTerm(lowered, words, marker) {
			suggestion = true
			break
		}
	}
	return lexiconHits, question, suggestion
}

func emotionScore(lexiconHits int, question, suggestion bool) int {
	score := min(lexiconHits*lexiconMatchPoints, maxLexiconScore)
	if question {
		score += questionBonus
	}
	if suggestion {
		score += suggestionBonus
	}
	return min(score, maxEmotionScore)
}

func asciiWords(lowered string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	}) {
		words[field] = struct{}{}
	}
	return words
}

func containsTerm(lowered string, words map[string]struct{}, term string) bool {
	if isASCIIAlnum(term) {
		_, ok := words[term]
		return ok
	}
	return strings.Contains(lowered, term)
}

func roundAge(age time.Duration) time.Duration {
	if age < 0 {
		return 0
	}
	if age < time.Minute {
		return age.Round(time.Second)
	}
	return age.Round(time.Minute)
}
