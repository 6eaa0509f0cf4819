package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/zhmcctl/internal/output"
)

func newPartitionsCmd(g *globalOptions) *cobra.Command {
	var (
		cpc    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "List the partitions of one or all managed CPCs",
		Long: `List partitions with their CPC, SE version and status.

On HMC 2.14.0 and later the List Permitted Partitions operation is used,
otherwise the partitions of each DPM enabled CPC are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "table" {
				return fail(cmd, output.ParameterError(fmt.Errorf("invalid output format %q: must be json or table", format)))
			}

			a, cleanup, err := g.newApp()
			if err != nil {
				return fail(cmd, err)
			}
			defer cleanup()

			infos, err := a.Partitions(cmd.Context(), cpc)
			if err != nil {
				return fail(cmd, err)
			}

			if format == "table" {
				output.PartitionsTable(cmd.OutOrStdout(), infos)
				return nil
			}
			return output.WriteJSON(cmd.OutOrStdout(), output.PartitionsResult{Changed: false, Partitions: infos})
		},
	}

	cmd.Flags().StringVar(&cpc, "cpc", "", "Only list the partitions of this CPC")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format: json or table")

	return cmd
}
