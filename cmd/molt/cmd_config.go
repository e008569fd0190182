package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cpunion/molt/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update the workspace config",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the workspace config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspaceFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := ws.Load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Update a dotted config key, e.g. simulation.turns 12",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspaceFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := ws.Load()
			if err != nil {
				return err
			}
			updated, err := config.Set(cfg, args[0], args[1])
			if err != nil {
				return err
			}
			if err := config.Save(ws.ConfigPath(), updated); err != nil {
				return err
			}
			printLine(cmd.OutOrStdout(), "Config updated")
			return nil
		},
	}
}
