package main

import (
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the local .social-duo workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspaceFromFlags(cmd)
			if err != nil {
				return err
			}
			created, err := ws.Init()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), ws)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				printLine(out, "Initialized .social-duo workspace")
			} else {
				printLine(out, ".social-duo workspace already initialized")
			}
			printLine(out, "Next steps:")
			printLine(out, "- Run `molt run` to start a simulation")
			printLine(out, "- Use `molt config show` to view defaults")
			return nil
		},
	}
}
