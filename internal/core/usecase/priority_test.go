package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

var scoringNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return scoringNow }

func opinionAt(id, content string, age time.Duration) domain.Opinion {
	return domain.Opinion{ID: id, ProjectID: "p1", Content: content, SubmittedAt: scoringNow.Add(-age)}
}

func TestVolumeScoreBands(t *testing.T) {
	cases := map[int]int{0: 5, 20: 5, 21: 10, 50: 10, 51: 15, 100: 15, 101: 20, 200: 20, 201: 25, 5000: 25}
	for length, want := range cases {
		if got := volumeScore(length); got != want {
			t.Fatalf("volumeScore(%d) = %d, want %d", length, got, want)
		}
	}
}

func TestRecencyScoreBands(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want int
	}{
		{-time.Hour, 30},
		{59 * time.Minute, 30},
		{time.Hour, 25},
		{5 * time.Hour, 25},
		{23 * time.Hour, 20},
		{48 * time.Hour, 15},
		{100 * time.Hour, 10},
		{168 * time.Hour, 5},
		{240 * time.Hour, 5},
	}
	for _, tc := range cases {
		if got := recencyScore(tc.age); got != tc.want {
			t.Fatalf("recencyScore(%s) = %d, want %d", tc.age, got, tc.want)
		}
	}
}

func TestEstimateSizeCost(t *testing.T) {
	cases := map[int]int{0: 0, 1: 2, 10: 13, 11: 15, 100: 130, 101: 132}
	for length, want := range cases {
		if got := estimateSizeCost(length); got != want {
			t.Fatalf("estimateSizeCost(%d) = %d, want %d", length, got, want)
		}
	}
}

func TestCandidateKeywordsSplitsScriptsAndDropsASCII(t *testing.T) {
	got := candidateKeywords("ログイン画面がとても遅い login page ログイン画面", maxContentKeywords)
	for _, kw := range got {
		if isASCIIAlnum(kw) {
			t.Fatalf("ascii token %q should be excluded", kw)
		}
		if len([]rune(kw)) < 2 {
			t.Fatalf("short token %q should be excluded", kw)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct keywords, got %v", got)
	}
	if got[0] != "ログイン" {
		t.Fatalf("expected longest keyword first, got %v", got)
	}
}

func TestCandidateKeywordsCapsAtTen(t *testing.T) {
	parts := []string{"あい", "かき", "さし", "たち", "なに", "はひ", "まみ", "やゆ", "らり", "わを", "がぎ", "ざじ"}
	got := candidateKeywords(strings.Join(parts, "、"), maxContentKeywords)
	if len(got) != maxContentKeywords {
		t.Fatalf("expected %d keywords, got %d", maxContentKeywords, len(got))
	}
}

func TestScoreUniquenessAgainstTopics(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 1)
	op := opinionAt("o1", "料金プラン、サポート対応", 240*time.Hour)

	fresh := scorer.Score(op, domain.ScoringContext{Now: scoringNow})
	if fresh.Breakdown.Uniqueness != 20 {
		t.Fatalf("expected 4 novel keywords -> 20, got %d (%v)", fresh.Breakdown.Uniqueness, fresh.Reasons)
	}

	known := scorer.Score(op, domain.ScoringContext{
		Now:    scoringNow,
		Topics: []domain.Topic{{ID: "t1", Name: "料金", Summary: "プランについて", Keywords: []string{"サポート", "対応"}}},
	})
	if known.Breakdown.Uniqueness != 0 {
		t.Fatalf("expected no novel keywords, got %d", known.Breakdown.Uniqueness)
	}

	bonus := scorer.Score(op, domain.ScoringContext{
		Now:             scoringNow,
		Topics:          []domain.Topic{{ID: "t1", Name: "料金", Summary: "プランについて", Keywords: []string{"サポート", "対応"}}},
		ProjectKeywords: []string{"サポート"},
	})
	if bonus.Breakdown.Uniqueness != projectKeywordBonus {
		t.Fatalf("expected project bonus only, got %d", bonus.Breakdown.Uniqueness)
	}
}

func TestScoreEmotionalIntensity(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 1)

	calm := scorer.Score(opinionAt("o1", "the page loads", time.Hour), domain.ScoringContext{})
	if calm.Breakdown.EmotionalIntensity != 0 {
		t.Fatalf("expected 0 intensity, got %d", calm.Breakdown.EmotionalIntensity)
	}

	heated := scorer.Score(opinionAt("o2", "This is terrible and broken! Why? You should fix it, urgent", time.Hour), domain.ScoringContext{})
	// terrible, broken, urgent, ! -> min(12, 15) + question 5 + suggestion 5, capped at 20
	if heated.Breakdown.EmotionalIntensity != maxEmotionScore {
		t.Fatalf("expected capped intensity %d, got %d", maxEmotionScore, heated.Breakdown.EmotionalIntensity)
	}

	glove := scorer.Score(opinionAt("o3", "my glove is fine", time.Hour), domain.ScoringContext{})
	if glove.Breakdown.EmotionalIntensity != 0 {
		t.Fatalf("ascii lexicon terms must match whole words, got %d", glove.Breakdown.EmotionalIntensity)
	}
}

func TestScoreIsBoundedAndDeterministic(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 1)
	long := strings.Repeat("最悪で本当に困っています！なぜ改善しないのですか？料金体系の見直しを提案します。", 10)
	op := opinionAt("o1", long, time.Minute)

	first := scorer.Score(op, domain.ScoringContext{})
	second := scorer.Score(op, domain.ScoringContext{})
	if first.Priority != second.Priority {
		t.Fatalf("score not deterministic: %d vs %d", first.Priority, second.Priority)
	}
	if first.Priority < 0 || first.Priority > maxPriority {
		t.Fatalf("priority out of range: %d", first.Priority)
	}
	if first.Breakdown.InformationVolume != maxVolumeScore || first.Breakdown.Recency != maxRecencyScore {
		t.Fatalf("unexpected breakdown: %+v", first.Breakdown)
	}
	if len(first.Reasons) == 0 {
		t.Fatalf("expected reasons")
	}
}

func TestScoreUsesContextNowOverClock(t *testing.T) {
	scorer := NewPriorityScorer(func() time.Time { return scoringNow.Add(1000 * time.Hour) }, 1)
	got := scorer.Score(opinionAt("o1", "ok", 30*time.Minute), domain.ScoringContext{Now: scoringNow})
	if got.Breakdown.Recency != 30 {
		t.Fatalf("expected context clock to win, recency=%d", got.Breakdown.Recency)
	}
}

func TestScoreBatchSortsStableDescending(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 4)
	opinions := []domain.Opinion{
		opinionAt("old-a", "short note", 300*time.Hour),
		opinionAt("new", "short note", 10*time.Minute),
		opinionAt("old-b", "short note", 300*time.Hour),
		opinionAt("mid", "short note", 30*time.Hour),
	}

	scored, err := scorer.ScoreBatch(context.Background(), opinions, domain.ScoringContext{})
	if err != nil {
		t.Fatalf("ScoreBatch() error = %v", err)
	}
	var ids []string
	for _, rec := range scored {
		ids = append(ids, rec.Opinion.ID)
	}
	if got := strings.Join(ids, ","); got != "new,mid,old-a,old-b" {
		t.Fatalf("unexpected order: %s", got)
	}
}

func TestScoreBatchHonorsCancellation(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scorer.ScoreBatch(ctx, []domain.Opinion{opinionAt("o1", "text", time.Hour)}, domain.ScoringContext{})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestOldShortOpinionsScoreLow(t *testing.T) {
	scorer := NewPriorityScorer(fixedNow, 2)
	var opinions []domain.Opinion
	for i := 0; i < 20; i++ {
		opinions = append(opinions, opinionAt(string(rune('a'+i)), "the export button works fine", 240*time.Hour))
	}
	scored, err := scorer.ScoreBatch(context.Background(), opinions, domain.ScoringContext{})
	if err != nil {
		t.Fatalf("ScoreBatch() error = %v", err)
	}
	for _, rec := range scored {
		if rec.Priority > 20 {
			t.Fatalf("expected priority <= 20, got %d for %q", rec.Priority, rec.Opinion.Content)
		}
	}
}
