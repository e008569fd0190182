package compose

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Platform describes the posting rules of one network.
type Platform struct {
	Name        string `json:"name"`
	CharLimit   int    `json:"char_limit"`
	TypicalMin  int    `json:"typical_min"`
	TypicalMax  int    `json:"typical_max"`
	HashtagMax  int    `json:"hashtag_max"`
	HookChars   int    `json:"hook_chars"`
	AllowEmojis bool   `json:"allow_emojis"`
	Threadable  bool   `json:"threadable"`
}

func (p Platform) String() string {
	return fmt.Sprintf("%s: max %d chars (typical %d-%d), at most %d hashtags, hook in first %d chars, emojis allowed: %t, threadable: %t",
		p.Name, p.CharLimit, p.TypicalMin, p.TypicalMax, p.HashtagMax, p.HookChars, p.AllowEmojis, p.Threadable)
}

var platforms = map[string]Platform{
	"x":         {Name: "x", CharLimit: 280, TypicalMin: 80, TypicalMax: 260, HashtagMax: 2, HookChars: 80, AllowEmojis: true, Threadable: true},
	"linkedin":  {Name: "linkedin", CharLimit: 3000, TypicalMin: 800, TypicalMax: 1500, HashtagMax: 3, HookChars: 120, AllowEmojis: true},
	"instagram": {Name: "instagram", CharLimit: 2200, TypicalMin: 150, TypicalMax: 400, HashtagMax: 8, HookChars: 100, AllowEmojis: true},
	"threads":   {Name: "threads", CharLimit: 500, TypicalMin: 100, TypicalMax: 400, HashtagMax: 3, HookChars: 80, AllowEmojis: true, Threadable: true},
}

// platformOrder is the expansion order of "all".
var platformOrder = []string{"x", "linkedin", "instagram", "threads"}

// LookupPlatform returns the rules for name.
func LookupPlatform(name string) (Platform, error) {
	p, ok := platforms[name]
	if !ok {
		return Platform{}, fmt.Errorf("unsupported platform: %s", name)
	}
	return p, nil
}

// ExpandPlatforms resolves "all" to every supported platform.
func ExpandPlatforms(name string) []string {
	if name == "all" {
		return append([]string(nil), platformOrder...)
	}
	return []string{name}
}

// maxAvgSentenceWords is the longest average sentence accepted.
const maxAvgSentenceWords = 26

// Metrics are measured on a draft before the editor sees it.
type Metrics struct {
	CharCount         int      `json:"char_count"`
	HashtagCount      int      `json:"hashtag_count"`
	BannedHits        []string `json:"banned_hits"`
	AvgSentenceLength float64  `json:"avg_sentence_length"`
	CTAPresent        bool     `json:"cta_present"`
}

var (
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+`)
)

// commonCTAs are recognized as a call to action when no CTA text is given.
var commonCTAs = []string{"learn more", "sign up", "join", "get started", "read more", "dm us"}

// ComputeMetrics measures text. Banned phrases and CTAs match case-insensitively.
// CTAPresent is true whenever no CTA is required.
func ComputeMetrics(text string, banned []string, ctaRequired bool, ctaText string) Metrics {
	lower := strings.ToLower(text)
	m := Metrics{
		CharCount:         utf8.RuneCountInString(text),
		HashtagCount:      len(hashtagPattern.FindAllStringIndex(text, -1)),
		BannedHits:        []string{},
		AvgSentenceLength: avgSentenceLength(text),
		CTAPresent:        !ctaRequired || ctaPresent(lower, ctaText),
	}
	for _, b := range banned {
		if strings.Contains(lower, strings.ToLower(b)) {
			m.BannedHits = append(m.BannedHits, b)
		}
	}
	return m
}

func avgSentenceLength(text string) float64 {
	var sentences, words int
	for _, s := range sentenceEnd.Split(text, -1) {
		if n := len(strings.Fields(s)); n > 0 {
			sentences++
			words += n
		}
	}
	if sentences == 0 {
		return 0
	}
	return float64(words) / float64(sentences)
}

func ctaPresent(lower, ctaText string) bool {
	if ctaText != "" {
		return strings.Contains(lower, strings.ToLower(ctaText))
	}
	for _, c := range commonCTAs {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// CheckText measures text against p and returns the rule violations found.
func CheckText(text string, p Platform, banned []string, ctaRequired bool, ctaText string) ([]string, Metrics) {
	m := ComputeMetrics(text, banned, ctaRequired, ctaText)
	issues := []string{}
	if m.CharCount > p.CharLimit {
		issues = append(issues, fmt.Sprintf("Exceeds character limit (%d/%d).", m.CharCount, p.CharLimit))
	}
	if m.HashtagCount > p.HashtagMax {
		issues = append(issues, fmt.Sprintf("Too many hashtags (%d/%d).", m.HashtagCount, p.HashtagMax))
	}
	if len(m.BannedHits) > 0 {
		issues = append(issues, fmt.Sprintf("Contains banned phrases: %s.", strings.Join(m.BannedHits, ", ")))
	}
	if ctaRequired && !m.CTAPresent {
		issues = append(issues, "CTA required but missing.")
	}
	if m.AvgSentenceLength > maxAvgSentenceWords {
		issues = append(issues, "Sentences are too long on average.")
	}
	return issues, m
}
