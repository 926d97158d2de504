package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether the stores are in sync without changing them",
		Long: `Check plans a reconcile run with the same inputs and writes nothing.
It exits 0 when no record would be dropped and no index id removed,
2 when the stores are out of sync, and 1 on any other error.

Examples:
  # Gate a deploy on a clean memory
  memsync check --metadata ./memory/longterm.json --index ./memory/vectorstore

  # Machine-readable drift report
  memsync check -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := execute(cmd, g, f, true)
			if err != nil {
				return err
			}
			if !report.InSync() {
				return fmt.Errorf("%w: %d records to drop, %d index ids to remove",
					errOutOfSync, report.Loaded-report.AfterCap, report.TotalRemovals)
			}
			return nil
		},
	}
	f.register(cmd, false)
	return cmd
}
