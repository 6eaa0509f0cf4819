package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/zhmcctl/internal/app"
	"github.com/dokzlo13/zhmcctl/internal/output"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent invocations from the ledger",
		Long: `Show recent invocations from the ledger as a table.

With --run, print all entries of one invocation as JSON, including the full
message and payload. The short run id shown in the table is accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			cfg, cleanup, err := g.loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := app.New(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("run") {
				entries, err := a.Invocation(runID)
				if err != nil {
					return err
				}
				return output.WriteJSON(cmd.OutOrStdout(), entries)
			}

			entries, err := a.History(limit)
			if err != nil {
				return err
			}
			output.HistoryTable(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&runID, "run", "", "Show the entries of one run id (or its prefix) as JSON")
	return cmd
}
