// Package compose drafts a single social post or reply with a writer/editor pair:
// the writer drafts, the draft is checked against the platform rules, the
// editor critiques it, and the writer revises until the editor passes it or
// the round budget runs out.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/adk/model"
)

var tracer = otel.Tracer("molt.compose")

// DefaultRounds is used when Config.Rounds is zero.
const DefaultRounds = 2

// Config configures a Composer.
type Config struct {
	Model         model.LLM
	Rounds        int
	BannedPhrases []string
	Logger        *slog.Logger
}

// Step is one agent output, in the order produced.
type Step struct {
	Agent   string `json:"agent"`
	Role    string `json:"role"`
	Round   int    `json:"round"`
	Content any    `json:"content"`
}

// Result is the outcome of one loop.
type Result struct {
	Platform string       `json:"platform"`
	Rounds   int          `json:"rounds"`
	Final    WriterOutput `json:"final"`
	Editor   EditorOutput `json:"editor"`
	Issues   []string     `json:"constraint_issues"`
	Metrics  Metrics      `json:"metrics"`
	Trace    []Step       `json:"-"`
}

// LoopError reports which stage failed. Trace holds the steps completed before it.
type LoopError struct {
	Stage string
	Err   error
	Trace []Step
}

func (e *LoopError) Error() string { return fmt.Sprintf("%s failed: %v", e.Stage, e.Err) }

func (e *LoopError) Unwrap() error { return e.Err }

// Composer runs writer/editor loops.
type Composer struct {
	cfg    Config
	agents *agents
}

// New validates cfg and returns a Composer.
func New(cfg Config) (*Composer, error) {
	if cfg.Model == nil {
		return nil, errors.New("compose: model is required")
	}
	if cfg.Rounds < 0 {
		return nil, fmt.Errorf("compose: rounds must be positive, got %d", cfg.Rounds)
	}
	if cfg.Rounds == 0 {
		cfg.Rounds = DefaultRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{cfg: cfg, agents: &agents{model: cfg.Model, logger: cfg.Logger}}, nil
}

// Compose runs the loop for brief.Platform, which must be a single platform.
func (c *Composer) Compose(ctx context.Context, brief Brief) (*Result, error) {
	platform, err := LookupPlatform(brief.Platform)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "molt.compose")
	defer span.End()
	span.SetAttributes(attribute.String("platform", platform.Name), attribute.Int("max_rounds", c.cfg.Rounds))

	res, err := c.loop(ctx, brief, platform)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rounds", res.Rounds), attribute.String("verdict", res.Editor.Verdict))
	return res, nil
}

func (c *Composer) loop(ctx context.Context, brief Brief, platform Platform) (*Result, error) {
	res := &Result{Platform: platform.Name}
	var draft *WriterOutput
	var review *EditorOutput

	for round := 1; round <= c.cfg.Rounds; round++ {
		req := draftRequest{mode: "draft", brief: brief, platform: platform}
		if review != nil {
			req.mode = "revise"
			for _, is := range review.Issues {
				req.feedback = append(req.feedback, is.Detail)
			}
			req.editedVersion = review.EditedVersion
		}
		d, err := c.agents.write(ctx, req)
		if err != nil {
			return nil, &LoopError{Stage: "writer", Err: err, Trace: res.Trace}
		}
		draft = d
		res.Trace = append(res.Trace, Step{Agent: WriterAgent, Role: req.mode, Round: round, Content: d})

		issues, metrics := CheckText(d.Recommended, platform, c.cfg.BannedPhrases, brief.CTARequired, brief.CTAText)
		res.Issues, res.Metrics = issues, metrics

		r, err := c.agents.critique(ctx, critiqueRequest{
			brief:    brief,
			platform: platform,
			draft:    d.Recommended,
			metrics:  metrics,
			issues:   issues,
		})
		if err != nil {
			return nil, &LoopError{Stage: "editor", Err: err, Trace: res.Trace}
		}
		review = r
		res.Trace = append(res.Trace, Step{Agent: EditorAgent, Role: "critique", Round: round, Content: r})
		res.Rounds = round

		c.cfg.Logger.Debug("compose round", "platform", platform.Name, "round", round,
			"verdict", r.Verdict, "constraint_issues", len(issues))
		if r.Verdict == VerdictPass {
			break
		}
	}

	res.Final = *draft
	res.Final.Variants = padVariants(draft.Variants, draft.Recommended)
	res.Editor = *review
	return res, nil
}

// minVariants is how many variants a result always offers.
const minVariants = 3

// padVariants fills variants up to minVariants with the recommended text.
func padVariants(variants []string, recommended string) []string {
	out := append([]string{}, variants...)
	for len(out) < minVariants {
		out = append(out, recommended)
	}
	return out
}
