package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/config"
	"github.com/cpunion/molt/pkg/feed"
	"github.com/cpunion/molt/pkg/history"
	"github.com/cpunion/molt/pkg/render"
	"github.com/cpunion/molt/pkg/simulation"
	"github.com/cpunion/molt/pkg/types"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			cadence, _ := cmd.Flags().GetString("cadence")
			verbose, _ := cmd.Flags().GetBool("verbose")
			fromFeed, _ := cmd.Flags().GetBool("from-feed")

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
			limits := storedLimits(detail.Run, e.cfg.Simulation.Limits)
			events, fromHistory, err := loadRunEvents(ctx, store, e.ws, runID, fromFeed)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			r := render.New(out, verbose)
			delay := simulation.Cadence(cadence).Delay()
			for i, ev := range events {
				if err := r.Emit(ctx, ev); err != nil {
					return err
				}
				if delay > 0 && i < len(events)-1 {
					if err := simulation.Sleep(ctx, delay); err != nil {
						return err
					}
				}
			}

			var state *feed.State
			if fromHistory {
				if state, err = store.ReplayRun(ctx, runID, limits); err != nil {
					return err
				}
			} else {
				state = feed.Replay(limits, events)
			}
			return render.WriteFeed(out, state)
		},
	}
	cmd.Flags().Int64("run-id", 0, "Run id to replay (default: latest)")
	cmd.Flags().String("cadence", "normal", "Cadence: fast|normal|slow")
	cmd.Flags().Bool("verbose", false, "Print meta lines")
	cmd.Flags().Bool("from-feed", false, "Replay from the run's JSONL feed log instead of history")
	return cmd
}

// loadRunEvents returns a run's events from history, or from its feed log
// when asked to or when history holds none. It reports whether history was used.
func loadRunEvents(ctx context.Context, store *history.Store, ws config.Workspace, runID int64, fromFeed bool) ([]types.Event, bool, error) {
	if !fromFeed {
		events, err := store.Events(ctx, runID)
		if err != nil {
			return nil, false, err
		}
		if len(events) > 0 {
			return events, true, nil
		}
	}
	dir := ws.FeedDir(runID)
	if _, err := os.Stat(dir); err != nil {
		if fromFeed {
			return nil, false, fmt.Errorf("no feed log for run %d: %w", runID, err)
		}
		return nil, true, nil
	}
	events, err := feed.ReadEvents(dir)
	if err != nil {
		return nil, false, fmt.Errorf("read feed log: %w", err)
	}
	return events, false, nil
}
