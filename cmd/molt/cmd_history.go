package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cpunion/molt/pkg/export"
	"github.com/cpunion/molt/pkg/render"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show or export stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			list, _ := cmd.Flags().GetBool("list")
			limit, _ := cmd.Flags().GetInt("limit")
			show, _ := cmd.Flags().GetInt64("show")
			exportID, _ := cmd.Flags().GetInt64("export")
			format, _ := cmd.Flags().GetString("format")

			store, err := openStore(ctx, e.ws)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case list:
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				rows := make([]render.RunRow, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, render.RunRow{ID: r.ID, Type: r.Type, Platform: r.Platform, CreatedAt: r.CreatedAt, Label: r.Label})
				}
				return render.WriteRuns(out, rows)
			case show > 0:
				detail, err := store.GetRun(ctx, show)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			case exportID > 0:
				f, err := export.ParseFormat(format)
				if err != nil {
					return err
				}
				path, err := exportRun(ctx, store, e.ws, exportID, f)
				if err != nil {
					return err
				}
				printLine(out, "Exported to", path)
				return nil
			}
			printLine(out, "Use --list, --show, or --export.")
			return nil
		},
	}
	cmd.Flags().Bool("list", false, "List recent runs")
	cmd.Flags().Int("limit", 10, "Number of runs to list")
	cmd.Flags().Int64("show", 0, "Show run details")
	cmd.Flags().Int64("export", 0, "Export run")
	cmd.Flags().String("format", "md", "Export format: md|json")
	return cmd
}
