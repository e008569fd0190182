package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/config"
	"github.com/cpunion/molt/pkg/export"
	"github.com/cpunion/molt/pkg/history"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a run as Markdown or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			f, err := export.ParseFormat(format)
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
			path, err := exportRun(ctx, store, e.ws, runID, f)
			if err != nil {
				return err
			}
			printLine(cmd.OutOrStdout(), "Exported to", path)
			return nil
		},
	}
	cmd.Flags().Int64("run-id", 0, "Run id (default: latest)")
	cmd.Flags().String("format", "md", "Export format: md|json")
	return cmd
}

// exportRun writes a simulation run's event log, or any other run's output
// and steps, into the exports directory.
func exportRun(ctx context.Context, store *history.Store, ws config.Workspace, runID int64, f export.Format) (string, error) {
	detail, err := store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	var out []byte
	name := export.RunFileName(runID, f)
	if detail.Run.Type == history.RunTypeMolt {
		data, err := store.ExportEvents(ctx, runID)
		if err != nil {
			return "", err
		}
		out, err = export.Render(data.RunID, data.Events, f)
		if err != nil {
			return "", err
		}
		name = export.FileName(runID, f)
	} else if out, err = export.RenderRun(detail, f); err != nil {
		return "", err
	}
	if err := os.MkdirAll(ws.ExportsDir(), 0755); err != nil {
		return "", err
	}
	path := filepath.Join(ws.ExportsDir(), name)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
