package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

const maxPromptContentRunes = 2000

func buildClassificationPrompt(selected []domain.ScoredOpinion, topics []domain.Topic, includeInsights bool) string {
	var b strings.Builder

	b.WriteString(`You classify user opinions into topics.
For EVERY opinion below decide exactly one action:
- "assign_to_existing": the opinion matches an existing topic with at least 75% similarity. Set topic_id to that topic id.
- "create_new": no existing topic fits. Set cluster_id to a short identifier and group similar new opinions under the same cluster_id.
Every cluster_id used by a decision must appear once in new_clusters with a name, a summary and member_ids.
`)
	if includeInsights {
		b.WriteString(`Also extract cross-opinion insights. Each insight type is one of: trend, concern, opportunity, contradiction, consensus.
Each insight lists affected_opinion_ids.
`)
	} else {
		b.WriteString("Return an empty insights array.\n")
	}
	b.WriteString(`Return strict JSON object with keys:
decisions (array of {opinion_id, action, topic_id, cluster_id, confidence (0..1), reasoning, alternatives (array of {topic_id, confidence})}),
new_clusters (array of {cluster_id, name, summary, member_ids, confidence (0..1), keywords, theme}),
insights (array of {type, title, description, affected_opinion_ids, confidence (0..1)}).
No markdown, no extra keys.

`)

	b.WriteString("Existing topics:\n")
	if len(topics) == 0 {
		b.WriteString("(none)\n")
	}
	for _, topic := range topics {
		fmt.Fprintf(&b, "- id=%s members=%d name=%q summary=%q", topic.ID, topic.MemberCount, topic.Name, topic.Summary)
		if len(topic.Keywords) > 0 {
			fmt.Fprintf(&b, " keywords=%s", strings.Join(topic.Keywords, ","))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOpinions:\n")
	for idx, rec := range selected {
		fmt.Fprintf(&b, "[%d] id=%s priority=%d size=%d submitted_at=%s\n",
			idx+1,
			rec.Opinion.ID,
			rec.Priority,
			rec.SizeCost,
			rec.Opinion.SubmittedAt.UTC().Format(time.RFC3339),
		)
		if len(rec.Reasons) > 0 {
			fmt.Fprintf(&b, "reasons: %s\n", strings.Join(rec.Reasons, "; "))
		}
		b.WriteString(truncateRunes(rec.Opinion.Content, maxPromptContentRunes))
		b.WriteString("\n\n")
	}
	return b.String()
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
