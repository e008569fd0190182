package simulation

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/molt/pkg/llm"
	"github.com/cpunion/molt/pkg/types"
)

// actionSchema is the structured-output hint sent with every agent call.
var actionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"action": {
			Type: genai.TypeString,
			Enum: []string{"CREATE_POST", "COMMENT", "REPLY", "UPVOTE", "MODERATE", "WRAPUP"},
		},
		"title":     {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"content":   {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"target_id": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"vote": {
			Type:     genai.TypeObject,
			Nullable: genai.Ptr(true),
			Properties: map[string]*genai.Schema{
				"target_id": {Type: genai.TypeString},
				"delta":     {Type: genai.TypeInteger},
			},
			Required: []string{"target_id"},
		},
		"moderation": {
			Type:     genai.TypeObject,
			Nullable: genai.Ptr(true),
			Properties: map[string]*genai.Schema{
				"target_id": {Type: genai.TypeString},
				"reason":    {Type: genai.TypeString},
				"rewrite":   {Type: genai.TypeString},
			},
			Required: []string{"target_id"},
		},
	},
	Required: []string{"action"},
}

// agentCall is the outcome of asking one agent for its action.
type agentCall struct {
	action    types.RawAction
	responses []string
	attempts  int
	usage     genai.GenerateContentResponseUsageMetadata
}

// callAgent asks the model for agent's action. A response that does not
// parse as an action is retried once with a correction appended; transport
// errors are returned without retrying.
func (e *Engine) callAgent(ctx context.Context, agent, prompt string) (*agentCall, error) {
	call := &agentCall{}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var parseErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			contents = append(contents, genai.NewContentFromText(correctionPrompt, genai.RoleUser))
			e.logger.Debug("retrying malformed agent response", "agent", agent, "error", parseErr)
		}
		call.attempts++

		text, err := e.generate(ctx, agent, contents, &call.usage)
		if err != nil {
			return call, err
		}
		call.responses = append(call.responses, text)

		action, err := types.ParseRawAction([]byte(llm.StripCodeFence(text)))
		if err == nil {
			call.action = action
			return call, nil
		}
		parseErr = err
	}
	return call, parseErr
}

// generate runs one model request. A panicking model is reported as an error.
func (e *Engine) generate(ctx context.Context, agent string, contents []*genai.Content, usage *genai.GenerateContentResponseUsageMetadata) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("model panicked: %v", r)
		}
	}()

	req := &model.LLMRequest{
		Model:    e.cfg.Model.Name(),
		Contents: contents,
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction(agent, e.cfg.Limits), genai.RoleUser),
			Temperature:       genai.Ptr(*e.cfg.Temperature),
			MaxOutputTokens:   e.cfg.MaxOutputTokens,
			ResponseMIMEType:  "application/json",
			ResponseSchema:    actionSchema,
		},
	}

	var u genai.GenerateContentResponseUsageMetadata
	text, u, err = llm.CollectText(e.cfg.Model.GenerateContent(ctx, req, false))
	usage.PromptTokenCount += u.PromptTokenCount
	usage.CandidatesTokenCount += u.CandidatesTokenCount
	usage.TotalTokenCount += u.TotalTokenCount
	return text, err
}
