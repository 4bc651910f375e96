package usecase

import (
	"sort"
	"strings"
	"unicode"
)

const (
	maxContentKeywords = 10
	minKeywordRunes    = 2
)

type scriptClass int

const (
	scriptNone scriptClass = iota
	scriptHan
	scriptHiragana
	scriptKatakana
	scriptWord
)

func classifyRune(r rune) scriptClass {
	switch {
	case unicode.Is(unicode.Han, r):
		return scriptHan
	case unicode.Is(unicode.Hiragana, r):
		return scriptHiragana
	case unicode.Is(unicode.Katakana, r), r == 'ー':
		return scriptKatakana
	case unicode.IsLetter(r), unicode.IsDigit(r):
		return scriptWord
	default:
		return scriptNone
	}
}

// tokenize splits text into lowercase runs of a single script class.
func tokenize(text string) []string {
	var (
		tokens  []string
		current []rune
		class   scriptClass
	)
	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, string(current))
			current = current[:0]
		}
	}
	for _, r := range strings.ToLower(text) {
		next := classifyRune(r)
		if next == scriptNone {
			flush()
			class = scriptNone
			continue
		}
		if next != class {
			flush()
			class = next
		}
		current = append(current, r)
	}
	flush()
	return tokens
}

func isASCIIAlnum(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return token != ""
}

// candidateKeywords returns distinct tokens of at least two runes, without
// plain ASCII alphanumerics, ordered longest first. limit <= 0 keeps all.
func candidateKeywords(text string, limit int) []string {
	seen := make(map[string]struct{})
	keywords := make([]string, 0, 16)
	for _, token := range tokenize(text) {
		if len([]rune(token)) < minKeywordRunes || isASCIIAlnum(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	sort.SliceStable(keywords, func(i, j int) bool {
		return len([]rune(keywords[i])) > len([]rune(keywords[j]))
	})
	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

func normalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func overlaps(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func overlapsAny(keyword string, set []string) bool {
	for _, other := range set {
		if overlaps(keyword, other) {
			return true
		}
	}
	return false
}
