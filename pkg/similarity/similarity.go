// Package similarity provides the text heuristics that keep generated
// dialogue anchored to the post topic and free of repeated phrasing.
package similarity

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// SimilarityThreshold is the Jaccard overlap above which two texts count as repeats.
const SimilarityThreshold = 0.45

// KeywordFallback is returned by ExtractKeyword when no candidate survives filtering.
const KeywordFallback = "that"

const topicTokens = 6

const punctuation = ".,!?:;\"'()[]"

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "is": {}, "are": {}, "be": {},
	"as": {}, "it": {}, "post": {}, "point": {}, "your": {}, "about": {},
	"future": {}, "curious": {}, "enigmatic": {}, "rise": {}, "evolution": {},
	"case": {},
}

var starters = []string{
	"One angle is",
	"Another consideration is",
	"A different perspective:",
	"Building on that,",
	"Stepping back,",
	"From a practical view,",
	"A key trade-off is",
	"One question is",
}

func stripPunct(s string) string {
	return strings.Trim(s, punctuation)
}

// NormalizeTopic returns the topic key of a post: the first six tokens of the
// title (or the content when the title is empty), lower-cased and stripped of
// surrounding punctuation.
func NormalizeTopic(title, content string) string {
	text := title
	if text == "" {
		text = content
	}
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) > topicTokens {
		fields = fields[:topicTokens]
	}
	for i, f := range fields {
		fields[i] = stripPunct(f)
	}
	return strings.Join(fields, " ")
}

// ExtractKeyword returns the longest non-stop-word token of text. Ties keep
// the earliest token. Returns KeywordFallback when nothing qualifies.
func ExtractKeyword(text string) string {
	var candidates []string
	for _, f := range strings.Fields(text) {
		tok := strings.ToLower(stripPunct(f))
		if tok == "" {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		candidates = append(candidates, tok)
	}
	if len(candidates) == 0 {
		return KeywordFallback
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return utf8.RuneCountInString(candidates[i]) > utf8.RuneCountInString(candidates[j])
	})
	return candidates[0]
}

// TooSimilar reports whether the word-set Jaccard overlap of a and b exceeds
// SimilarityThreshold. Empty inputs are never similar.
func TooSimilar(a, b string) bool {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return false
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return false
	}
	return float64(shared)/float64(union) > SimilarityThreshold
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Diversify prefixes content with a conversational starter when it opens with
// the same three words as the agent's previous reply. The starter rotates
// with replyCount.
func Diversify(content, agent string, lastByAgent map[string]string, replyCount int) string {
	last := lastByAgent[agent]
	if last == "" {
		return content
	}
	if leadingWords(last, 3) != leadingWords(content, 3) {
		return content
	}
	return fmt.Sprintf("%s %s", starters[replyCount%len(starters)], content)
}

func leadingWords(s string, n int) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// ShortFollowup returns a short question about anchor, picked by its length.
func ShortFollowup(anchor string) string {
	prompts := []string{
		fmt.Sprintf("What’s one risk around %s you’d watch closely?", anchor),
		fmt.Sprintf("What’s a practical next step on %s for cities?", anchor),
		fmt.Sprintf("Where do you see the biggest trade-off in %s?", anchor),
		fmt.Sprintf("What would success for %s look like?", anchor),
	}
	return prompts[utf8.RuneCountInString(anchor)%len(prompts)]
}
