package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/molt/pkg/llm"
	"github.com/cpunion/molt/pkg/logging"
)

// Agent names recorded in the trace.
const (
	WriterAgent = "WriterAgent"
	EditorAgent = "EditorAgent"
)

const writerSystem = `You are WriterAgent. Your job is to draft and revise social media posts and replies.
Rules:
- Obey platform constraints, brand voice, CTA requirements, and user instructions.
- Do not invent facts beyond the provided facts list. If facts are missing, avoid factual claims.
- Avoid banned phrases and user-specified don'ts.
- Output MUST be valid JSON:
{
  "recommended": "string",
  "variants": ["...", "...", "..."],
  "hashtags": ["..."],
  "rationale": ["...", "..."]
}
If hashtags are not needed, return an empty list.`

const editorSystem = `You are EditorAgent. Your job is to critique drafts for constraints, clarity, tone, and risk, then propose improvements.
Rules:
- Be strict about constraints, banned phrases, and unverified claims.
- Flag legal/medical advice, harassment, hate, or doxxing.
- For replies, check escalation risk and sarcasm.
- Output MUST be valid JSON:
{
  "verdict": "PASS" | "FAIL",
  "issues": [{"type": "constraint|clarity|tone|risk|facts", "detail": "..."}],
  "edited_version": "string",
  "alt_suggestions": ["...", "..."],
  "scores": {"constraint_fit": 0-100, "clarity": 0-100, "hook": 0-100, "risk": 0-100}
}`

const jsonCorrection = "Return valid JSON only. Do not include extra text."

// Sampling settings per call. The retry after a malformed response runs cooler.
const (
	draftTemperature  float32 = 0.7
	reviseTemperature float32 = 0.4
	writerRetryTemp   float32 = 0.2
	editorTemperature float32 = 0.2
	editorRetryTemp   float32 = 0.1

	writerMaxTokens int32 = 800
	editorMaxTokens int32 = 700
)

// Brief is what the user asked for. It is stored as the run input.
// SourceText is the text replied to or revised; Instruction is a chat
// revision request.
type Brief struct {
	Goal        string   `json:"goal,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	Platform    string   `json:"platform"`
	Audience    string   `json:"audience,omitempty"`
	Tone        string   `json:"tone,omitempty"`
	Length      string   `json:"length,omitempty"`
	CTARequired bool     `json:"cta_required"`
	CTAText     string   `json:"cta_text,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Donts       []string `json:"donts,omitempty"`
	Facts       []string `json:"facts,omitempty"`
	ThreadCount int      `json:"thread_count,omitempty"`
	Risk        string   `json:"risk,omitempty"`
	Style       string   `json:"style,omitempty"`
	Stance      string   `json:"stance,omitempty"`
	SourceText  string   `json:"source_text,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	BrandVoice  string   `json:"brand_voice,omitempty"`
}

// WriterOutput is a draft.
type WriterOutput struct {
	Recommended string   `json:"recommended" validate:"required"`
	Variants    []string `json:"variants"`
	Hashtags    []string `json:"hashtags"`
	Rationale   []string `json:"rationale"`
}

// EditorIssue is one problem the editor found.
type EditorIssue struct {
	Type   string `json:"type" validate:"oneof=constraint clarity tone risk facts"`
	Detail string `json:"detail"`
}

// EditorScores are 0-100 ratings of a draft.
type EditorScores struct {
	ConstraintFit int `json:"constraint_fit" validate:"gte=0,lte=100"`
	Clarity       int `json:"clarity" validate:"gte=0,lte=100"`
	Hook          int `json:"hook" validate:"gte=0,lte=100"`
	Risk          int `json:"risk" validate:"gte=0,lte=100"`
}

// Editor verdicts.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// EditorOutput is the editor's critique of one draft.
type EditorOutput struct {
	Verdict        string        `json:"verdict" validate:"oneof=PASS FAIL"`
	Issues         []EditorIssue `json:"issues" validate:"dive"`
	EditedVersion  string        `json:"edited_version"`
	AltSuggestions []string      `json:"alt_suggestions"`
	Scores         EditorScores  `json:"scores"`
}

var validate = validator.New()

// agents sends writer and editor requests to one model.
type agents struct {
	model  model.LLM
	logger *slog.Logger
}

// draftRequest is what the writer sees in one round.
type draftRequest struct {
	mode          string
	brief         Brief
	platform      Platform
	feedback      []string
	editedVersion string
}

func (a *agents) write(ctx context.Context, r draftRequest) (*WriterOutput, error) {
	temp := draftTemperature
	if r.mode == "revise" {
		temp = reviseTemperature
	}
	return callJSON[WriterOutput](ctx, a, WriterAgent, writerSystem, writerPrompt(r), temp, writerRetryTemp, writerMaxTokens)
}

// critiqueRequest is what the editor sees in one round.
type critiqueRequest struct {
	brief    Brief
	platform Platform
	draft    string
	metrics  Metrics
	issues   []string
}

func (a *agents) critique(ctx context.Context, r critiqueRequest) (*EditorOutput, error) {
	return callJSON[EditorOutput](ctx, a, EditorAgent, editorSystem, editorPrompt(r), editorTemperature, editorRetryTemp, editorMaxTokens)
}

// callJSON asks agent for a JSON object of type T. A response that does not
// decode or validate is retried once with a correction.
func callJSON[T any](ctx context.Context, a *agents, agent, system, prompt string, temp, retryTemp float32, maxTokens int32) (*T, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	a.logger.Log(ctx, logging.LevelTrace, "compose prompt", "agent", agent, "prompt", prompt)

	text, err := a.generate(ctx, system, contents, temp, maxTokens)
	if err != nil {
		return nil, err
	}
	out, err := decodeOutput[T](text)
	if err == nil {
		return out, nil
	}
	a.logger.Debug("retrying malformed compose response", "agent", agent, "error", err)

	contents = append(contents,
		genai.NewContentFromText(text, genai.RoleModel),
		genai.NewContentFromText(jsonCorrection, genai.RoleUser))
	if text, err = a.generate(ctx, system, contents, retryTemp, maxTokens); err != nil {
		return nil, err
	}
	if out, err = decodeOutput[T](text); err != nil {
		return nil, fmt.Errorf("%s returned invalid output: %w", agent, err)
	}
	return out, nil
}

func (a *agents) generate(ctx context.Context, system string, contents []*genai.Content, temp float32, maxTokens int32) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("model panicked: %v", r)
		}
	}()
	req := &model.LLMRequest{
		Model:    a.model.Name(),
		Contents: contents,
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			Temperature:       genai.Ptr(temp),
			MaxOutputTokens:   maxTokens,
			ResponseMIMEType:  "application/json",
		},
	}
	text, _, err = llm.CollectText(a.model.GenerateContent(ctx, req, false))
	return text, err
}

func decodeOutput[T any](text string) (*T, error) {
	out := new(T)
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), out); err != nil {
		return nil, err
	}
	if err := validate.Struct(out); err != nil {
		return nil, err
	}
	return out, nil
}

func writerPrompt(r draftRequest) string {
	b := r.brief
	lines := []string{
		"Mode: " + r.mode,
		"Goal: " + b.Goal,
		"Topic: " + b.Topic,
		"Platform: " + r.platform.Name,
		"Audience: " + b.Audience,
		"Tone: " + b.Tone,
		"Length: " + b.Length,
		fmt.Sprintf("CTA required: %t", b.CTARequired),
		"CTA text: " + b.CTAText,
		"Keywords: " + strings.Join(b.Keywords, ", "),
		"Don'ts: " + strings.Join(b.Donts, ", "),
		"Facts: " + strings.Join(b.Facts, "; "),
		"Brand voice: " + b.BrandVoice,
		"Platform constraints: " + r.platform.String(),
		fmt.Sprintf("Thread count: %d", b.ThreadCount),
	}
	if b.SourceText != "" {
		lines = append(lines, "Source text: "+b.SourceText)
	}
	if b.Instruction != "" {
		lines = append(lines, "Instruction: "+b.Instruction)
	}
	if len(r.feedback) > 0 {
		lines = append(lines, "Editor feedback: "+strings.Join(r.feedback, "; "))
	}
	if r.editedVersion != "" {
		lines = append(lines, "Editor suggested revision: "+r.editedVersion)
	}
	return strings.Join(lines, "\n")
}

func editorPrompt(r critiqueRequest) string {
	b := r.brief
	metrics, _ := json.Marshal(r.metrics)
	issues, _ := json.Marshal(r.issues)
	lines := []string{
		"Draft: " + r.draft,
		"Platform: " + r.platform.Name,
		"Constraints: " + r.platform.String(),
		"Brand voice: " + b.BrandVoice,
		fmt.Sprintf("CTA required: %t", b.CTARequired),
		"CTA text: " + b.CTAText,
		"Facts: " + strings.Join(b.Facts, "; "),
		"Don'ts: " + strings.Join(b.Donts, ", "),
		"Risk level: " + b.Risk,
		"Scoring metrics: " + string(metrics),
		"Constraint issues: " + string(issues),
	}
	if b.SourceText != "" {
		lines = append(lines, "Source text: "+b.SourceText)
	}
	if b.Goal != "" {
		lines = append(lines, "Goal: "+b.Goal)
	}
	if b.Style != "" {
		lines = append(lines, "Reply style: "+b.Style)
	}
	if b.Stance != "" {
		lines = append(lines, "Reply stance: "+b.Stance)
	}
	return strings.Join(lines, "\n")
}
