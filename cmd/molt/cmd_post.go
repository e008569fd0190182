package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/compose"
	"github.com/cpunion/molt/pkg/config"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
)

func newPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Draft a post with the writer/editor loop",
		RunE:  runPost,
	}
	cmd.Flags().String("topic", "", "What the post is about")
	cmd.Flags().String("goal", "", "What the post should achieve")
	cmd.Flags().String("platform", "", "Platform: x|linkedin|instagram|threads|all (default from config)")
	cmd.Flags().String("audience", "", "Intended readers")
	cmd.Flags().String("tone", "", "Tone (default from config)")
	cmd.Flags().String("length", "", "Length: short|medium|long (default from config)")
	cmd.Flags().Bool("cta", false, "Require a call to action")
	cmd.Flags().String("cta-text", "", "Exact call to action to include")
	cmd.Flags().StringSlice("keywords", nil, "Comma-separated keywords to work in")
	cmd.Flags().StringSlice("donts", nil, "Comma-separated angles or phrases to avoid")
	cmd.Flags().String("facts", "", "Path to a facts file, one fact per line")
	cmd.Flags().Int("thread-count", 1, "Number of posts in a thread, where threadable")
	cmd.Flags().String("risk", "", "Risk: low|medium|high (default from config)")
	cmd.Flags().Int("rounds", 0, "Maximum writer/editor rounds (default from config)")
	cmd.Flags().Bool("json", false, "Print the results as JSON")
	cmd.Flags().Bool("verbose", false, "Include the agent trace")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// loadFacts reads one fact per non-blank line, trimming list markers.
func loadFacts(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	var facts []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		facts = append(facts, strings.Trim(line, "- \r"))
	}
	return facts, nil
}

// postSettings merges the post flags over the workspace defaults.
func postSettings(cmd *cobra.Command, cfg *config.Config) (compose.Brief, int, error) {
	f := cmd.Flags()
	post := cfg.Post
	if f.Changed("platform") {
		post.Platform, _ = f.GetString("platform")
	}
	if f.Changed("tone") {
		post.Tone, _ = f.GetString("tone")
	}
	if f.Changed("length") {
		post.Length, _ = f.GetString("length")
	}
	if f.Changed("rounds") {
		post.Rounds, _ = f.GetInt("rounds")
	}
	risk := cfg.Simulation.Risk
	if f.Changed("risk") {
		risk, _ = f.GetString("risk")
	}
	check := *cfg
	check.Post = post
	check.Simulation.Risk = risk
	if err := check.Validate(); err != nil {
		return compose.Brief{}, 0, err
	}

	b := compose.Brief{
		Platform:   post.Platform,
		Tone:       post.Tone,
		Length:     post.Length,
		Risk:       risk,
		BrandVoice: post.BrandVoice,
	}
	b.Topic, _ = f.GetString("topic")
	b.Goal, _ = f.GetString("goal")
	b.Audience, _ = f.GetString("audience")
	b.CTARequired, _ = f.GetBool("cta")
	b.CTAText, _ = f.GetString("cta-text")
	if b.CTAText != "" {
		b.CTARequired = true
	}
	b.Keywords, _ = f.GetStringSlice("keywords")
	b.Donts, _ = f.GetStringSlice("donts")
	b.ThreadCount, _ = f.GetInt("thread-count")
	factsPath, _ := f.GetString("facts")
	facts, err := loadFacts(factsPath)
	if err != nil {
		return compose.Brief{}, 0, err
	}
	b.Facts = facts
	return b, post.Rounds, nil
}

// runPost drafts one run per platform; "all" expands to every platform.
func runPost(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	brief, rounds, err := postSettings(cmd, e.cfg)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	composer, err := newComposer(ctx, e, rounds)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, e.ws)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID, err := store.CreateSession(ctx, e.cwd, "post:"+brief.Topic)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	all := brief.Platform == "all"
	for _, platform := range compose.ExpandPlatforms(brief.Platform) {
		b := brief
		b.Platform = platform
		res, runID, err := draftRun(ctx, store, composer, sessionID, history.RunTypePost, b, b)
		if err != nil {
			return fmt.Errorf("%s: %w", platform, err)
		}
		if all && !jsonOut {
			printLine(w, "Platform:", platform)
		}
		if err := writeDraft(w, render.PostHeading, runID, res, jsonOut, verbose); err != nil {
			return err
		}
	}
	return nil
}
