package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
)

// draftPayload is what post, reply and chat print with --json.
type draftPayload struct {
	RunID    int64                `json:"run_id"`
	Platform string               `json:"platform"`
	Final    compose.WriterOutput `json:"final"`
	Trace    []compose.Step       `json:"trace,omitempty"`
}

func newComposer(ctx context.Context, e *env, rounds int) (*compose.Composer, error) {
	llmModel, err := newModel(ctx, e.vars.Config)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return compose.New(compose.Config{
		Model:         llmModel,
		Rounds:        rounds,
		BannedPhrases: e.cfg.Post.BannedPhrases,
		Logger:        e.logger,
	})
}

// draftRun runs one writer/editor loop as a new run and stores its steps,
// numbered from 0, and its result. Steps are stored when the loop fails too.
func draftRun(ctx context.Context, store *history.Store, composer *compose.Composer, sessionID int64, runType string, brief compose.Brief, input any) (*compose.Result, int64, error) {
	run, err := store.CreateRun(ctx, sessionID, runType, brief.Platform, input)
	if err != nil {
		return nil, 0, err
	}
	res, err := composer.Compose(ctx, brief)

	var trace []compose.Step
	var loopErr *compose.LoopError
	switch {
	case err == nil:
		trace = res.Trace
	case errors.As(err, &loopErr):
		trace = loopErr.Trace
	}
	for i, s := range trace {
		if serr := store.AddStep(ctx, run.ID, i, s.Agent, s.Role, s); serr != nil {
			return nil, run.ID, serr
		}
	}
	if err != nil {
		return nil, run.ID, err
	}
	if err := store.AddOutput(ctx, run.ID, res); err != nil {
		return nil, run.ID, err
	}
	return res, run.ID, store.TouchSession(ctx, sessionID)
}

func writeDraft(w io.Writer, heading string, runID int64, res *compose.Result, jsonOut, verbose bool) error {
	if jsonOut {
		p := draftPayload{RunID: runID, Platform: res.Platform, Final: res.Final}
		if verbose {
			p.Trace = res.Trace
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	if err := render.WriteDraft(w, heading, res, verbose); err != nil {
		return err
	}
	printLine(w, "run", runID)
	return nil
}
