package llm

import (
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// CollectText drains a GenerateContent sequence and returns the model text
// with the summed token usage. Thought parts are skipped. Partial chunks are
// used only when no final response carried text.
func CollectText(seq iter.Seq2[*model.LLMResponse, error]) (string, genai.GenerateContentResponseUsageMetadata, error) {
	var usage genai.GenerateContentResponseUsageMetadata
	var final, partial strings.Builder
	for resp, err := range seq {
		if err != nil {
			return "", usage, fmt.Errorf("generate content: %w", err)
		}
		if resp == nil {
			continue
		}
		if resp.ErrorCode != "" {
			return "", usage, fmt.Errorf("model error %s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		if u := resp.UsageMetadata; u != nil {
			usage.PromptTokenCount += u.PromptTokenCount
			usage.CandidatesTokenCount += u.CandidatesTokenCount
			usage.TotalTokenCount += u.TotalTokenCount
		}
		if resp.Content == nil {
			continue
		}
		out := &final
		if resp.Partial {
			out = &partial
		}
		for _, part := range resp.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				out.WriteString(part.Text)
			}
		}
	}
	if final.Len() > 0 {
		return final.String(), usage, nil
	}
	return partial.String(), usage, nil
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
