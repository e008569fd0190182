package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Revise the output of a post, reply or chat run interactively",
		RunE:  runChat,
	}
	cmd.Flags().Int64("run-id", 0, "Run id to continue (default: latest)")
	cmd.Flags().Int("rounds", 0, "Maximum writer/editor rounds per revision (default from config)")
	return cmd
}

// previousDraft returns the recommended text of a drafting run.
func previousDraft(detail *history.RunDetail) (string, error) {
	switch detail.Run.Type {
	case history.RunTypePost, history.RunTypeReply, history.RunTypeChat:
	default:
		return "", fmt.Errorf("run %d is a %s run; chat continues post, reply or chat runs", detail.Run.ID, detail.Run.Type)
	}
	if len(detail.Output) == 0 {
		return "", fmt.Errorf("run %d has no output", detail.Run.ID)
	}
	var out struct {
		Final compose.WriterOutput `json:"final"`
	}
	if err := json.Unmarshal(detail.Output, &out); err != nil {
		return "", fmt.Errorf("decode run %d output: %w", detail.Run.ID, err)
	}
	return out.Final.Recommended, nil
}

// runChat reads one instruction per line until exit, quit or end of input.
// Each instruction revises the previous text as a new chat run.
func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, e.ws)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := resolveRunID(ctx, cmd, store)
	if err != nil {
		return err
	}
	detail, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	previous, err := previousDraft(detail)
	if err != nil {
		return err
	}
	rounds := e.cfg.Post.Rounds
	if cmd.Flags().Changed("rounds") {
		rounds, _ = cmd.Flags().GetInt("rounds")
	}
	composer, err := newComposer(ctx, e, rounds)
	if err != nil {
		return err
	}
	sessionID, err := store.CreateSession(ctx, e.cwd, history.RunTypeChat)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	printLine(w, "Chat session started. Type 'exit' to quit.")
	if previous != "" {
		printLine(w, "Latest output loaded.")
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		_, _ = io.WriteString(w, "chat> ")
		if !scanner.Scan() {
			break
		}
		instruction := strings.TrimSpace(scanner.Text())
		if instruction == "" {
			continue
		}
		if lower := strings.ToLower(instruction); lower == "exit" || lower == "quit" {
			break
		}
		brief := compose.Brief{
			Goal:        "revise",
			Platform:    detail.Run.Platform,
			Tone:        e.cfg.Post.Tone,
			Length:      "short",
			Donts:       e.cfg.Post.Donts,
			BrandVoice:  e.cfg.Post.BrandVoice,
			SourceText:  previous,
			Instruction: instruction,
		}
		res, runID, err := draftRun(ctx, store, composer, sessionID, history.RunTypeChat, brief, brief)
		if err != nil {
			return err
		}
		if err := writeDraft(w, render.PostHeading, runID, res, false, false); err != nil {
			return err
		}
		previous = res.Final.Recommended
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read instruction: %w", err)
	}
	printLine(w, "Chat session ended.")
	return nil
}
