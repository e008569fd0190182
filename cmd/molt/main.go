// Command molt runs and replays two-agent feed simulations on the
// MyVillage network. It also drafts posts and replies with a writer/editor
// pair, revises them in a chat loop, and runs free-form two-agent
// discussions that end in drafts.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/config"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "molt",
		Short:         "MyVillage Network autonomous simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("root", ".", "Project directory holding .social-duo")

	rootCmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newPostCmd(),
		newReplyCmd(),
		newChatCmd(),
		newDiscussCmd(),
		newWatchCmd(),
		newExportCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// env bundles what every command needs from the working directory.
type env struct {
	cwd    string
	ws     config.Workspace
	cfg    *config.Config
	vars   config.Env
	logger *slog.Logger
}

func workspaceFromFlags(cmd *cobra.Command) (config.Workspace, error) {
	root, _ := cmd.Flags().GetString("root")
	cwd, err := filepath.Abs(root)
	if err != nil {
		return config.Workspace{}, err
	}
	return config.NewWorkspace(cwd), nil
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	ws, err := workspaceFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := ws.Load()
	if err != nil {
		return nil, err
	}
	vars, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if vars.LogLevel != "" {
		level = vars.LogLevel
	}
	return &env{
		cwd:    filepath.Dir(ws.Root),
		ws:     ws,
		cfg:    cfg,
		vars:   vars,
		logger: logging.NewLogger(level, cmd.ErrOrStderr()),
	}, nil
}

func openStore(ctx context.Context, ws config.Workspace) (*history.Store, error) {
	return history.Open(ctx, ws.HistoryPath())
}

// resolveRunID returns the flag value, or the latest run when it is unset.
func resolveRunID(ctx context.Context, cmd *cobra.Command, store *history.Store) (int64, error) {
	id, _ := cmd.Flags().GetInt64("run-id")
	if id > 0 {
		return id, nil
	}
	return store.LatestRunID(ctx)
}

func printLine(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
