package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
)

// replyInput is stored as the input of a reply run.
type replyInput struct {
	Type       string `json:"type"`
	Platform   string `json:"platform" validate:"oneof=x linkedin instagram threads"`
	Style      string `json:"style" validate:"oneof=polite witty direct supportive"`
	Stance     string `json:"stance" validate:"oneof=agree disagree neutral"`
	Risk       string `json:"risk" validate:"oneof=low medium high"`
	SourceText string `json:"source_text" validate:"required"`
}

var validateInput = validator.New()

func newReplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Draft a reply to a post or comment",
		RunE:  runReply,
	}
	cmd.Flags().String("text", "", "Text to reply to")
	cmd.Flags().String("file", "", "File holding the text to reply to")
	cmd.Flags().String("platform", "x", "Platform: x|linkedin|instagram|threads")
	cmd.Flags().String("style", "polite", "Style: polite|witty|direct|supportive")
	cmd.Flags().String("stance", "neutral", "Stance: agree|disagree|neutral")
	cmd.Flags().String("risk", "low", "Risk: low|medium|high")
	cmd.Flags().Int("rounds", 0, "Maximum writer/editor rounds (default from config)")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().Bool("verbose", false, "Include the agent trace")
	return cmd
}

func runReply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	in := replyInput{Type: history.RunTypeReply}
	in.Platform, _ = f.GetString("platform")
	in.Style, _ = f.GetString("style")
	in.Stance, _ = f.GetString("stance")
	in.Risk, _ = f.GetString("risk")
	in.SourceText, _ = f.GetString("text")
	if path, _ := f.GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read reply source: %w", err)
		}
		in.SourceText = strings.TrimSpace(string(data))
	}
	if in.SourceText == "" {
		return errors.New("reply needs --text or --file")
	}
	if err := validateInput.Struct(in); err != nil {
		return fmt.Errorf("invalid reply options: %w", err)
	}
	rounds := e.cfg.Post.Rounds
	if f.Changed("rounds") {
		rounds, _ = f.GetInt("rounds")
	}
	jsonOut, _ := f.GetBool("json")
	verbose, _ := f.GetBool("verbose")

	composer, err := newComposer(ctx, e, rounds)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, e.ws)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID, err := store.CreateSession(ctx, e.cwd, history.RunTypeReply)
	if err != nil {
		return err
	}
	brief := compose.Brief{
		Goal:       "reply",
		Platform:   in.Platform,
		Style:      in.Style,
		Stance:     in.Stance,
		Risk:       in.Risk,
		SourceText: in.SourceText,
		Tone:       e.cfg.Post.Tone,
		Length:     "short",
		Donts:      e.cfg.Post.Donts,
		BrandVoice: e.cfg.Post.BrandVoice,
	}
	res, runID, err := draftRun(ctx, store, composer, sessionID, history.RunTypeReply, brief, in)
	if err != nil {
		return err
	}
	return writeDraft(cmd.OutOrStdout(), render.ReplyHeading, runID, res, jsonOut, verbose)
}
