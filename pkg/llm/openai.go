package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// DefaultOpenAIModel is used when no OpenAI model is configured.
const DefaultOpenAIModel = "gpt-4.1-mini"

// OpenAIModel adapts an OpenAI-compatible chat completions endpoint to model.LLM.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a model for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) (*OpenAIModel, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	name := cfg.OpenAIModel
	if name == "" {
		name = DefaultOpenAIModel
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(clientCfg),
		model:  name,
	}, nil
}

// Name returns the model name.
func (m *OpenAIModel) Name() string {
	return m.model
}

// GenerateContent sends one chat completion. Streaming is not supported; the
// whole completion is yielded as a single response.
func (m *OpenAIModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.client.CreateChatCompletion(ctx, chatRequest(m.model, req))
		if err != nil {
			yield(nil, fmt.Errorf("openai chat completion: %w", err))
			return
		}
		if len(resp.Choices) == 0 {
			yield(nil, errors.New("openai returned no choices"))
			return
		}
		yield(&model.LLMResponse{
			Content: genai.NewContentFromText(resp.Choices[0].Message.Content, genai.RoleModel),
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     int32(resp.Usage.PromptTokens),
				CandidatesTokenCount: int32(resp.Usage.CompletionTokens),
				TotalTokenCount:      int32(resp.Usage.TotalTokens),
			},
		}, nil)
	}
}

func chatRequest(name string, req *model.LLMRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{Model: name}
	if req.Model != "" && req.Model != name {
		out.Model = req.Model
	}

	if cfg := req.Config; cfg != nil {
		if text := contentText(cfg.SystemInstruction); text != "" {
			out.Messages = append(out.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: text,
			})
		}
		if cfg.Temperature != nil {
			out.Temperature = *cfg.Temperature
		}
		if cfg.MaxOutputTokens > 0 {
			out.MaxTokens = int(cfg.MaxOutputTokens)
		}
		if cfg.ResponseMIMEType == "application/json" {
			out.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}

	for _, c := range req.Contents {
		role := openai.ChatMessageRoleUser
		if c != nil && c.Role == genai.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: contentText(c),
		})
	}
	return out
}

func contentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
