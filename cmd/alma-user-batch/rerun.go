package main

import (
	"github.com/bibops/alma-user-batch/pkg/batch"
	"github.com/spf13/cobra"
)

func rerunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun FILE...",
		Short: "Re-process user ids listed one per line in the given files",
		Long: `rerun feeds explicit user ids through the same fetch-transform-replace
pipeline the batch run uses, without any listing calls. Useful for retrying
the ids a previous run reported as failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, transformer, cfg, err := buildClients()
			if err != nil {
				return err
			}
			runner := batch.NewRunner(client, transformer, batch.Config{PageSize: cfg.PageSize})

			for _, path := range args {
				ids, err := readIDLines(path)
				if err != nil {
					return err
				}
				for _, id := range ids {
					updated, err := runner.ProcessUser(cmd.Context(), id)
					logRecordOutcome(id, updated, err)
				}
			}
			return nil
		},
	}
}
