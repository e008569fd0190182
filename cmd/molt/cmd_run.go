package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/adk/model"

	"github.com/cpunion/molt/pkg/config"
	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/llm"
	"github.com/cpunion/molt/pkg/render"
	"github.com/cpunion/molt/pkg/simulation"
)

// newModel is replaced in tests.
var newModel = func(ctx context.Context, cfg llm.Config) (model.LLM, error) {
	return llm.New(ctx, cfg)
}

// runInput is stored as the run's input_json.
type runInput struct {
	Turns    int         `json:"turns"`
	Platform string      `json:"platform"`
	Cadence  string      `json:"cadence"`
	Risk     string      `json:"risk"`
	Topic    string      `json:"topic"`
	StopOn   string      `json:"stop_on"`
	Model    string      `json:"model,omitempty"`
	Limits   feed.Limits `json:"limits"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation between AgentA and AgentB",
		RunE:  runSimulation,
	}
	cmd.Flags().Int("turns", 30, "Number of turns")
	cmd.Flags().String("platform", "all", "Platform: x|linkedin|instagram|threads|all")
	cmd.Flags().String("cadence", "normal", "Cadence: fast|normal|slow")
	cmd.Flags().String("risk", "medium", "Risk: low|medium|high")
	cmd.Flags().String("topic", "any", "Topic constraint")
	cmd.Flags().String("stop-on", "turns", "Stop: turns|manual")
	cmd.Flags().Int("max-replies", 2, "Maximum replies in the thread")
	cmd.Flags().String("turn-log", "", "Also write per-turn JSONL records to this file")
	cmd.Flags().Bool("verbose", false, "Print meta lines")
	cmd.Flags().Bool("json", false, "Print a JSON summary instead of the feed")
	return cmd
}

// applyRunFlags overrides the workspace defaults with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, sim config.SimulationConfig) (config.SimulationConfig, error) {
	f := cmd.Flags()
	if f.Changed("turns") {
		sim.Turns, _ = f.GetInt("turns")
	}
	if f.Changed("platform") {
		sim.Platform, _ = f.GetString("platform")
	}
	if f.Changed("cadence") {
		sim.Cadence, _ = f.GetString("cadence")
	}
	if f.Changed("risk") {
		sim.Risk, _ = f.GetString("risk")
	}
	if f.Changed("topic") {
		sim.Topic, _ = f.GetString("topic")
	}
	if f.Changed("stop-on") {
		sim.StopOn, _ = f.GetString("stop-on")
	}
	if f.Changed("max-replies") {
		sim.Limits.MaxReplies, _ = f.GetInt("max-replies")
	}
	check := config.Default()
	check.Simulation = sim
	if err := check.Validate(); err != nil {
		return sim, err
	}
	return sim, nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	sim, err := applyRunFlags(cmd, e.cfg.Simulation)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOut, _ := cmd.Flags().GetBool("json")
	turnLogPath, _ := cmd.Flags().GetString("turn-log")

	llmModel, err := newModel(ctx, e.vars.Config)
	if err != nil {
		return fmt.Errorf("create model: %w", err)
	}

	store, err := openStore(ctx, e.ws)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID, err := store.CreateSession(ctx, e.cwd, history.RunTypeMolt)
	if err != nil {
		return err
	}
	run, err := store.CreateRun(ctx, sessionID, history.RunTypeMolt, sim.Platform, runInput{
		Turns:    sim.Turns,
		Platform: sim.Platform,
		Cadence:  sim.Cadence,
		Risk:     sim.Risk,
		Topic:    sim.Topic,
		StopOn:   sim.StopOn,
		Model:    llmModel.Name(),
		Limits:   sim.Limits,
	})
	if err != nil {
		return err
	}

	writer, err := feed.OpenWriter(feed.WriterConfig{Dir: e.ws.FeedDir(run.ID), RunID: run.ID})
	if err != nil {
		return err
	}
	defer writer.Close()

	sinks := simulation.MultiSink{store.EventSink(run.ID), writer}
	if !jsonOut {
		sinks = append(sinks, render.New(cmd.OutOrStdout(), verbose))
	}

	var turnLog simulation.TurnLogger = store.StepLogger(run.ID)
	if turnLogPath != "" {
		if turnLog, err = simulation.NewJSONLTurnLogger(turnLogPath); err != nil {
			return fmt.Errorf("open turn log: %w", err)
		}
	}
	defer turnLog.Close()

	topic := sim.Topic
	if strings.EqualFold(topic, "any") {
		topic = ""
	}
	engine, err := simulation.New(simulation.Config{
		Model:       llmModel,
		Turns:       sim.Turns,
		Platform:    sim.Platform,
		Risk:        sim.Risk,
		Topic:       topic,
		Cadence:     simulation.Cadence(sim.Cadence),
		StopOn:      simulation.StopMode(sim.StopOn),
		Limits:      sim.Limits,
		Temperature: &sim.Temperature,
		RunID:       run.ID,
		Logger:      e.logger,
		TurnLog:     turnLog,
	})
	if err != nil {
		return err
	}

	res, runErr := engine.Run(ctx, sinks)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	// A canceled context still leaves a complete prefix of the run to record.
	ctx = context.WithoutCancel(ctx)

	summary := render.Summary{
		RunID:      run.ID,
		Events:     len(res.Events),
		Turns:      res.Turns,
		Platform:   sim.Platform,
		StopReason: res.StopReason,
		Errors:     res.Errors,
	}
	if err := store.AddOutput(ctx, run.ID, summary); err != nil {
		return err
	}
	if err := store.TouchSession(ctx, sessionID); err != nil {
		e.logger.Warn("touch session failed", "error", err)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return render.WriteSummary(cmd.OutOrStdout(), summary)
}

// storedLimits returns the limits a run was started with, or the defaults.
func storedLimits(run history.Run, fallback feed.Limits) feed.Limits {
	var in runInput
	if err := json.Unmarshal(run.Input, &in); err != nil || in.Limits == (feed.Limits{}) {
		return fallback
	}
	return in.Limits
}
