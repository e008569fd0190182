package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/discuss"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
)

// discussInput is stored as the input of a discuss run.
type discussInput struct {
	Platform string `json:"platform"`
	Turns    int    `json:"turns"`
	Mode     string `json:"mode"`
	Risk     string `json:"risk" validate:"oneof=low medium high"`
	StopOn   string `json:"stop_on"`
}

// discussOutput is stored as the output of a discuss run.
type discussOutput struct {
	Transcript []discuss.Entry    `json:"transcript"`
	Artifacts  []discuss.Artifact `json:"artifacts"`
	StopReason string             `json:"stop_reason"`
}

func newDiscussCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discuss",
		Short: "Let two agents brainstorm and draft posts and replies together",
		RunE:  runDiscuss,
	}
	cmd.Flags().String("platform", "all", "Platform: x|linkedin|instagram|threads|all")
	cmd.Flags().Int("turns", 12, "Maximum turns")
	cmd.Flags().String("mode", discuss.ModeMixed, "Mode: posts|replies|mixed")
	cmd.Flags().String("risk", "medium", "Risk: low|medium|high")
	cmd.Flags().String("stop-on", discuss.StopOnArtifact, "Stop on: artifact|turns|manual")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().Bool("verbose", false, "Include the transcript")
	return cmd
}

func runDiscuss(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	var in discussInput
	in.Platform, _ = f.GetString("platform")
	in.Turns, _ = f.GetInt("turns")
	in.Mode, _ = f.GetString("mode")
	in.Risk, _ = f.GetString("risk")
	in.StopOn, _ = f.GetString("stop-on")
	jsonOut, _ := f.GetBool("json")
	verbose, _ := f.GetBool("verbose")
	if err := validateInput.Struct(in); err != nil {
		return fmt.Errorf("invalid discuss options: %w", err)
	}

	llmModel, err := newModel(ctx, e.vars.Config)
	if err != nil {
		return fmt.Errorf("create model: %w", err)
	}
	d, err := discuss.New(discuss.Config{
		Model:    llmModel,
		Platform: in.Platform,
		Turns:    in.Turns,
		Mode:     in.Mode,
		Risk:     in.Risk,
		StopOn:   in.StopOn,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}

	store, err := openStore(ctx, e.ws)
	if err != nil {
		return err
	}
	defer store.Close()
	sessionID, err := store.CreateSession(ctx, e.cwd, history.RunTypeDiscuss)
	if err != nil {
		return err
	}
	run, err := store.CreateRun(ctx, sessionID, history.RunTypeDiscuss, in.Platform, in)
	if err != nil {
		return err
	}

	res, err := d.Discuss(ctx)
	var transcript []discuss.Entry
	var loopErr *discuss.LoopError
	switch {
	case err == nil:
		transcript = res.Transcript
	case errors.As(err, &loopErr):
		transcript = loopErr.Transcript
	}
	for i, entry := range transcript {
		if serr := store.AddStep(ctx, run.ID, i, entry.Agent, entry.Role(), entry); serr != nil {
			return serr
		}
	}
	if err != nil {
		return err
	}

	out := discussOutput{
		Transcript: res.Transcript,
		Artifacts:  discuss.NormalizeArtifacts(res.Artifacts, in.Platform),
		StopReason: res.StopReason,
	}
	if err := store.AddOutput(ctx, run.ID, out); err != nil {
		return err
	}
	if err := store.TouchSession(ctx, sessionID); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if err := render.WriteDiscussion(w, res, out.Artifacts, verbose); err != nil {
		return err
	}
	printLine(w, "run", run.ID)
	return nil
}
