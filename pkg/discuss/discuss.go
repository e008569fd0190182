// Package discuss runs a free-form discussion in which two agents pick a
// topic and draft posts, simulated comments and replies for it. Unlike the
// feed simulation there is no protocol: the loop only nudges each agent
// toward the next expected intent and collects the artifacts they produce.
package discuss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/llm"
	"github.com/cpunion/molt/pkg/logging"
	"github.com/cpunion/molt/pkg/types"
)

var tracer = otel.Tracer("molt.discuss")

// Modes.
const (
	ModePosts   = "posts"
	ModeReplies = "replies"
	ModeMixed   = "mixed"
)

// Stop modes and reasons.
const (
	StopOnArtifact = "artifact"
	StopOnTurns    = "turns"
	StopOnManual   = "manual"
)

const (
	temperature     float32 = 0.6
	maxOutputTokens int32   = 900
	// historyTurns is how many earlier turns each agent sees.
	historyTurns = 8
	// convergeTurn is the turn index from which agents are told to converge.
	convergeTurn = 5
)

const systemInstruction = `You are an autonomous agent in a two-agent discussion.
You must collaborate with the other agent to pick a topic and craft social posts.
Rules:
- Output MUST be valid JSON matching the DiscussTurn schema.
- Do NOT echo the context block.
- Every artifact must include a "platform" field.
- For SIMULATE_COMMENT, put 2-3 comments in artifacts with kind="reply" and content prefixed with "COMMENT: ".
- For REPLY, put replies in artifacts with kind="reply" and content prefixed with "REPLY: ".
- For DRAFT/REVISE, put post/thread artifacts with kind "post" or "thread" only.
- If Mode is "posts", do NOT produce comments or replies.
- Avoid unsafe content (hate, harassment, doxxing, explicit sexual content, illegal wrongdoing).
- Avoid unverifiable factual claims. Keep claims general unless user facts are provided (none here).
- Converge by turn 6: decide on topic/angle and draft at least one artifact.
- Respect platform constraints supplied in context.
- Keep messages short and conversational to the other agent.`

const turnSchema = `{"type":"DISCUSS","intent":"PROPOSE_TOPIC|CRITIQUE|SHORTLIST|DECIDE|DRAFT|REVISE|SIMULATE_COMMENT|REPLY|WRAPUP",` +
	`"message":"short message","candidates":[{"topic":"...","angle":"...","platform":"x|linkedin|instagram|threads"}],` +
	`"chosen":{"topic":"...","angle":"...","platform":"x|linkedin|instagram|threads"},` +
	`"artifacts":[{"kind":"post|thread|reply","platform":"x|linkedin|instagram|threads","content":"..."}],"stop":false}`

const correctionPrompt = "Return ONLY valid JSON that matches the schema. Include platform on every artifact item. No extra text."

// Config configures a discussion.
type Config struct {
	Model    model.LLM
	Platform string
	Turns    int
	Mode     string
	Risk     string
	StopOn   string
	Logger   *slog.Logger
}

// Entry is one transcript line. A turn that never parsed carries ParseError instead of Turn.
type Entry struct {
	Agent      string `json:"agent"`
	Turn       *Turn  `json:"turn,omitempty"`
	ParseError string `json:"parse_error,omitempty"`
	Raw        string `json:"raw"`
}

// Role is the step role stored for e.
func (e Entry) Role() string {
	if e.Turn == nil {
		return "error"
	}
	return string(e.Turn.Intent)
}

// Result is a finished discussion.
type Result struct {
	Transcript []Entry    `json:"transcript"`
	Artifacts  []Artifact `json:"artifacts"`
	StopReason string     `json:"stop_reason"`
}

// LoopError carries the transcript up to a failed turn.
type LoopError struct {
	Err        error
	Transcript []Entry
}

func (e *LoopError) Error() string { return e.Err.Error() }

func (e *LoopError) Unwrap() error { return e.Err }

// Run holds the state of one discussion.
type Run struct {
	cfg Config
}

// New validates cfg.
func New(cfg Config) (*Run, error) {
	if cfg.Model == nil {
		return nil, errors.New("discuss: model is required")
	}
	if cfg.Turns <= 0 {
		return nil, fmt.Errorf("discuss: turns must be positive, got %d", cfg.Turns)
	}
	if cfg.Platform != "all" {
		if _, err := compose.LookupPlatform(cfg.Platform); err != nil {
			return nil, err
		}
	}
	switch cfg.Mode {
	case ModePosts, ModeReplies, ModeMixed:
	default:
		return nil, fmt.Errorf("discuss: invalid mode %q", cfg.Mode)
	}
	switch cfg.StopOn {
	case StopOnArtifact, StopOnTurns, StopOnManual:
	default:
		return nil, fmt.Errorf("discuss: invalid stop-on value %q", cfg.StopOn)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Run{cfg: cfg}, nil
}

// progress tracks which stages the discussion has reached.
type progress struct {
	chosen             *Candidate
	drafted            bool
	commented, replied bool
	wrapupRequired     bool
}

func (p *progress) expectedIntent(mode string) string {
	switch {
	case p.chosen == nil:
		return "PROPOSE_TOPIC or SHORTLIST"
	case !p.drafted:
		return "DRAFT"
	case mode == ModePosts:
		return "WRAPUP"
	case !p.commented:
		return "SIMULATE_COMMENT"
	case !p.replied:
		return "REPLY"
	case p.wrapupRequired:
		return "WRAPUP"
	}
	return "REVISE or WRAPUP"
}

func (p *progress) observe(t *Turn, mode string) {
	if t.Chosen != nil {
		p.chosen = t.Chosen
	}
	for _, a := range t.Artifacts {
		content := strings.ToLower(strings.TrimSpace(a.Content))
		switch {
		case a.Kind == KindPost || a.Kind == KindThread:
			p.drafted = true
		case a.Kind == KindReply && strings.HasPrefix(content, "comment:"):
			p.commented = true
		case a.Kind == KindReply && strings.HasPrefix(content, "reply:"):
			p.replied = true
		}
	}
	if mode == ModePosts && p.drafted {
		p.commented, p.replied = true, true
	}
}

// Discuss runs up to cfg.Turns turns, alternating AgentA and AgentB.
func (r *Run) Discuss(ctx context.Context) (*Result, error) {
	ctx, span := tracer.Start(ctx, "molt.discuss")
	defer span.End()
	span.SetAttributes(
		attribute.String("platform", r.cfg.Platform),
		attribute.String("mode", r.cfg.Mode),
		attribute.Int("max_turns", r.cfg.Turns),
	)

	res, err := r.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("stop_reason", res.StopReason), attribute.Int("artifacts", len(res.Artifacts)))
	return res, nil
}

func (r *Run) loop(ctx context.Context) (*Result, error) {
	res := &Result{Transcript: []Entry{}, Artifacts: []Artifact{}}
	var p progress

	for idx := 0; idx < r.cfg.Turns; idx++ {
		agent := types.AgentA
		if idx%2 == 1 {
			agent = types.AgentB
		}
		mustConverge := idx >= convergeTurn && (p.chosen == nil || len(res.Artifacts) == 0)
		if idx >= r.cfg.Turns-2 && p.drafted && p.commented && p.replied {
			p.wrapupRequired = true
		}

		prompt := r.context(idx+1, agent, &p, res.Artifacts, mustConverge)
		turn, raw, err := r.callAgent(ctx, agent, prompt, res.Transcript)
		if err != nil {
			var perr *parseError
			if errors.As(err, &perr) {
				res.Transcript = append(res.Transcript, Entry{Agent: agent, ParseError: perr.Error(), Raw: perr.raw})
			}
			return nil, &LoopError{
				Err:        fmt.Errorf("%s failed to return valid JSON: %w", agent, err),
				Transcript: res.Transcript,
			}
		}

		p.observe(turn, r.cfg.Mode)
		res.Artifacts = append(res.Artifacts, turn.Artifacts...)
		res.Transcript = append(res.Transcript, Entry{Agent: agent, Turn: turn, Raw: raw})
		r.cfg.Logger.Debug("discuss turn", "turn", idx+1, "agent", agent, "intent", turn.Intent, "artifacts", len(turn.Artifacts))

		if r.cfg.StopOn == StopOnManual && turn.Stop {
			res.StopReason = StopOnManual
			return res, nil
		}
		if r.cfg.StopOn == StopOnArtifact && turn.Intent == IntentWrapup {
			res.StopReason = StopOnArtifact
			return res, nil
		}
	}
	res.StopReason = StopOnTurns
	return res, nil
}

func (r *Run) context(turn int, agent string, p *progress, artifacts []Artifact, mustConverge bool) string {
	constraints := map[string]compose.Platform{}
	for _, name := range compose.ExpandPlatforms(r.cfg.Platform) {
		if pl, err := compose.LookupPlatform(name); err == nil {
			constraints[name] = pl
		}
	}
	constraintsJSON, _ := json.Marshal(constraints)
	chosen := "null"
	if p.chosen != nil {
		data, _ := json.Marshal(p.chosen)
		chosen = string(data)
	}
	artifactsJSON, _ := json.Marshal(artifacts)
	issuesJSON, _ := json.Marshal(r.constraintIssues(artifacts))

	return strings.Join([]string{
		fmt.Sprintf("Turn: %d", turn),
		"Mode: " + r.cfg.Mode,
		"Risk level: " + r.cfg.Risk,
		"Platform target: " + r.cfg.Platform,
		"Constraints: " + string(constraintsJSON),
		"If platform=all, produce one artifact per platform. If platform is a single target, produce 3 variants for that platform.",
		"Chosen: " + chosen,
		"Artifacts so far: " + string(artifactsJSON),
		fmt.Sprintf("Must converge now: %t", mustConverge),
		"Constraint issues: " + string(issuesJSON),
		"Agent: " + agent,
		"Expected intent: " + p.expectedIntent(r.cfg.Mode),
		"Schema: " + turnSchema,
		"Reminder: Output ONLY valid JSON per schema with all keys present. Each artifact MUST include platform. Do NOT echo this context.",
	}, "\n")
}

// constraintIssues checks every post and thread artifact aimed at a target platform.
func (r *Run) constraintIssues(artifacts []Artifact) []string {
	targets := compose.ExpandPlatforms(r.cfg.Platform)
	issues := []string{}
	for _, a := range artifacts {
		if a.Kind == KindReply || !slices.Contains(targets, a.Platform) {
			continue
		}
		pl, err := compose.LookupPlatform(a.Platform)
		if err != nil {
			continue
		}
		found, _ := compose.CheckText(a.Content, pl, nil, false, "")
		issues = append(issues, found...)
	}
	return issues
}

type parseError struct {
	err error
	raw string
}

func (e *parseError) Error() string { return "invalid JSON after retry: " + e.err.Error() }

func (e *parseError) Unwrap() error { return e.err }

// callAgent sends the last turns as model messages followed by the context.
// A response that does not parse is retried once with a correction.
func (r *Run) callAgent(ctx context.Context, agent, prompt string, transcript []Entry) (*Turn, string, error) {
	var contents []*genai.Content
	start := max(0, len(transcript)-historyTurns)
	for _, e := range transcript[start:] {
		data, _ := json.Marshal(e.Turn)
		contents = append(contents, genai.NewContentFromText(string(data), genai.RoleModel))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
	r.cfg.Logger.Log(ctx, logging.LevelTrace, "discuss prompt", "agent", agent, "prompt", prompt)

	raw, err := r.generate(ctx, contents)
	if err != nil {
		return nil, "", err
	}
	turn, err := ParseTurn(raw)
	if err == nil {
		return turn, raw, nil
	}
	r.cfg.Logger.Debug("retrying malformed discuss turn", "agent", agent, "error", err)

	contents = append(contents, genai.NewContentFromText(correctionPrompt, genai.RoleUser))
	if raw, err = r.generate(ctx, contents); err != nil {
		return nil, "", err
	}
	if turn, err = ParseTurn(raw); err != nil {
		return nil, raw, &parseError{err: err, raw: raw}
	}
	return turn, raw, nil
}

func (r *Run) generate(ctx context.Context, contents []*genai.Content) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("model panicked: %v", rec)
		}
	}()
	req := &model.LLMRequest{
		Model:    r.cfg.Model.Name(),
		Contents: contents,
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr(temperature),
			MaxOutputTokens:   maxOutputTokens,
			ResponseMIMEType:  "application/json",
		},
	}
	text, _, err = llm.CollectText(r.cfg.Model.GenerateContent(ctx, req, false))
	return text, err
}

// NormalizeArtifacts drops exact duplicates and keeps, for "all", the last
// post or thread per platform, otherwise the last three for the platform.
// Replies follow the posts in their original order.
func NormalizeArtifacts(artifacts []Artifact, platform string) []Artifact {
	seen := map[Artifact]bool{}
	var posts, replies []Artifact
	for _, a := range artifacts {
		if seen[a] {
			continue
		}
		seen[a] = true
		switch a.Kind {
		case KindPost, KindThread:
			posts = append(posts, a)
		case KindReply:
			replies = append(replies, a)
		}
	}

	out := []Artifact{}
	if platform == "all" {
		for _, name := range compose.ExpandPlatforms("all") {
			var last *Artifact
			for i := range posts {
				if posts[i].Platform == name {
					last = &posts[i]
				}
			}
			if last != nil {
				out = append(out, *last)
			}
		}
	} else {
		var match []Artifact
		for _, a := range posts {
			if a.Platform == platform {
				match = append(match, a)
			}
		}
		if len(match) > 3 {
			match = match[len(match)-3:]
		}
		out = append(out, match...)
	}
	return append(out, replies...)
}
