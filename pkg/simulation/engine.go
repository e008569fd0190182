// Package simulation runs the two-agent feed simulation: one turn at a time,
// it asks the acting agent for an action, normalizes it against the feed
// protocol, emits the resulting events and reduces them into the feed state.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/adk/model"

	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/logging"
	"github.com/cpunion/molt/pkg/protocol"
	"github.com/cpunion/molt/pkg/types"
)

var (
	tracer = otel.Tracer("molt.simulation")
	meter  = otel.Meter("molt.simulation")
)

// Cadence paces turns for presentation. It never affects ordering.
type Cadence string

const (
	CadenceFast   Cadence = "fast"
	CadenceNormal Cadence = "normal"
	CadenceSlow   Cadence = "slow"
)

// Delay returns the pause inserted after each turn. Unknown cadences do not pause.
func (c Cadence) Delay() time.Duration {
	switch c {
	case CadenceNormal:
		return 200 * time.Millisecond
	case CadenceSlow:
		return 600 * time.Millisecond
	}
	return 0
}

// StopMode is recorded with the run. Every mode ends on the turn budget or WRAPUP.
type StopMode string

const (
	StopOnTurns  StopMode = "turns"
	StopOnManual StopMode = "manual"
)

// Stop reasons reported in Result.
const (
	StopReasonTurns    = "turns"
	StopReasonWrapup   = "wrapup"
	StopReasonCanceled = "canceled"
)

// Defaults applied by New.
const (
	DefaultTurns           = 30
	DefaultTemperature     = 0.6
	DefaultMaxOutputTokens = 500
)

// Config configures an Engine.
type Config struct {
	Model model.LLM

	Turns    int
	Platform string
	Risk     string
	Topic    string // empty means any topic
	Cadence  Cadence
	StopOn   StopMode
	Limits   feed.Limits

	// Temperature is the sampling temperature; nil uses DefaultTemperature.
	Temperature     *float32
	MaxOutputTokens int32

	// RunID tags turn logs.
	RunID   int64
	Logger  *slog.Logger
	TurnLog TurnLogger
	// Sleep paces turns; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine drives one simulation run.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	normalizer *protocol.Normalizer

	eventCounter metric.Int64Counter
	errorCounter metric.Int64Counter
}

// Result summarizes a finished run.
type Result struct {
	Events     []types.Event
	State      *feed.State
	Turns      int
	Errors     int
	StopReason string
}

// New validates cfg, fills defaults and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("simulation: model is required")
	}
	if cfg.Turns <= 0 {
		cfg.Turns = DefaultTurns
	}
	if cfg.Platform == "" {
		cfg.Platform = "all"
	}
	if cfg.Risk == "" {
		cfg.Risk = "medium"
	}
	if cfg.Cadence == "" {
		cfg.Cadence = CadenceNormal
	}
	if cfg.StopOn == "" {
		cfg.StopOn = StopOnTurns
	}
	if cfg.Limits == (feed.Limits{}) {
		cfg.Limits = feed.DefaultLimits()
	}
	if cfg.Temperature == nil {
		t := float32(DefaultTemperature)
		cfg.Temperature = &t
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		normalizer: protocol.NewNormalizer(logger),
	}
	var err error
	if e.eventCounter, err = meter.Int64Counter("molt.events",
		metric.WithDescription("Committed feed events by action")); err != nil {
		return nil, fmt.Errorf("create event counter: %w", err)
	}
	if e.errorCounter, err = meter.Int64Counter("molt.turn_errors",
		metric.WithDescription("Turns that ended in an ERROR event")); err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	return e, nil
}

// Run executes the turn loop, emitting committed events to sink in order.
// Agent and protocol failures never end the run; it returns an error only
// when ctx is canceled, together with the partial result.
func (e *Engine) Run(ctx context.Context, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = MultiSink{}
	}
	ctx, span := tracer.Start(ctx, "molt.run",
		trace.WithAttributes(
			attribute.Int("molt.turns", e.cfg.Turns),
			attribute.String("molt.platform", e.cfg.Platform),
			attribute.String("molt.stop_on", string(e.cfg.StopOn)),
		),
	)
	defer span.End()

	state := feed.NewState(e.cfg.Limits)
	res := &Result{State: state, StopReason: StopReasonTurns}

	e.logger.Info("simulation started",
		slog.Int64("run_id", e.cfg.RunID),
		slog.Int("turns", e.cfg.Turns),
		slog.String("model", e.cfg.Model.Name()),
	)

	for turn := 0; turn < e.cfg.Turns; turn++ {
		if err := ctx.Err(); err != nil {
			return e.canceled(span, res, err)
		}
		res.Turns++

		wrapup, err := e.runTurn(ctx, turn, state, sink, res)
		if err != nil {
			return e.canceled(span, res, err)
		}
		if wrapup {
			res.StopReason = StopReasonWrapup
			break
		}
		if d := e.cfg.Cadence.Delay(); d > 0 && turn < e.cfg.Turns-1 {
			if err := e.cfg.Sleep(ctx, d); err != nil {
				return e.canceled(span, res, err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("molt.events", len(res.Events)),
		attribute.String("molt.stop_reason", res.StopReason),
	)
	e.logger.Info("simulation finished",
		slog.Int("turns", res.Turns),
		slog.Int("events", len(res.Events)),
		slog.Int("errors", res.Errors),
		slog.String("stop_reason", res.StopReason),
	)
	return res, nil
}

func (e *Engine) canceled(span trace.Span, res *Result, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "context canceled")
	res.StopReason = StopReasonCanceled
	return res, err
}

// runTurn plays one turn. It reports whether the agent asked to wrap up; the
// error is non-nil only when ctx was canceled.
func (e *Engine) runTurn(ctx context.Context, turn int, state *feed.State, sink EventSink, res *Result) (bool, error) {
	agent := types.AgentForTurn(turn)
	ctx, span := tracer.Start(ctx, "molt.turn",
		trace.WithAttributes(
			attribute.Int("molt.turn", turn),
			attribute.String("molt.agent", agent),
		),
	)
	defer span.End()

	start := time.Now()
	prompt := BuildContext(state, e.cfg)
	tl := TurnLog{
		Timestamp: start,
		RunID:     e.cfg.RunID,
		Turn:      turn,
		Agent:     agent,
		Prompt:    prompt,
	}
	defer func() {
		tl.DurationMS = time.Since(start).Milliseconds()
		e.logTurn(tl)
	}()

	e.logger.Log(ctx, logging.LevelTrace, "agent prompt", slog.Int("turn", turn), slog.String("agent", agent), slog.String("prompt", prompt))
	call, err := e.callAgent(ctx, agent, prompt)
	if call != nil {
		tl.Responses = call.responses
		tl.Attempts = call.attempts
		tl.PromptTokens = call.usage.PromptTokenCount
		tl.OutputTokens = call.usage.CandidatesTokenCount
		tl.TotalTokens = call.usage.TotalTokenCount
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		tl.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent call failed")
		e.logger.Warn("agent call failed", slog.Int("turn", turn), slog.String("agent", agent), slog.Any("error", err))
		res.Errors++
		e.errorCounter.Add(ctx, 1)
		e.emit(ctx, sink, res, &tl, types.Event{
			Agent:   types.AgentError,
			Action:  types.ActionError,
			Payload: types.Payload{Error: err.Error()},
		})
		return false, nil
	}

	action := call.action
	tl.Proposed = string(action.Action)
	e.logger.Debug("agent proposed", slog.Int("turn", turn), slog.String("agent", agent), slog.String("action", string(action.Action)))

	if ev, ok := e.normalizer.Normalize(action, state, agent); ok {
		e.emit(ctx, sink, res, &tl, ev)
		feed.Reduce(state, ev)
	}
	if action.Action == types.ActionModerate && action.Moderation != nil {
		e.emit(ctx, sink, res, &tl, types.Event{
			Agent:    types.AgentSystem,
			Action:   types.ActionRewrite,
			TargetID: action.Moderation.TargetID,
			Payload:  types.Payload{Rewrite: action.Moderation.Rewrite},
		})
	}
	span.SetAttributes(attribute.StringSlice("molt.emitted", tl.Emitted))

	return action.Action == types.ActionWrapup, nil
}

func (e *Engine) emit(ctx context.Context, sink EventSink, res *Result, tl *TurnLog, ev types.Event) {
	res.Events = append(res.Events, ev)
	tl.Emitted = append(tl.Emitted, string(ev.Action))
	e.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(ev.Action))))
	if err := sink.Emit(ctx, ev); err != nil {
		e.logger.Error("event sink failed", slog.String("action", string(ev.Action)), slog.Any("error", err))
	}
}

func (e *Engine) logTurn(tl TurnLog) {
	if e.cfg.TurnLog == nil {
		return
	}
	if err := e.cfg.TurnLog.LogTurn(tl); err != nil {
		e.logger.Warn("turn log failed", slog.Any("error", err))
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
