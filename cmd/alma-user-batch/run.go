package main

import (
	"net/http"

	"github.com/bibops/alma-user-batch/pkg/batch"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCommand() *cobra.Command {
	var (
		fromOffset  int
		toOffset    int
		concurrency int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch update across the paginated users listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, transformer, cfg, err := buildClients()
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				go serveMetrics(metricsAddr)
			}

			runner := batch.NewRunner(client, transformer, batch.Config{
				PageSize:       cfg.PageSize,
				FromOffset:     fromOffset,
				ToOffset:       toOffset,
				MaxConcurrency: concurrency,
			})

			summary, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			logSummary(summary)
			return nil
		},
	}

	cmd.Flags().IntVarP(&fromOffset, "from-offset", "f", 0, "first page offset to process")
	cmd.Flags().IntVarP(&toOffset, "to-offset", "t", -1, "last page offset to process (default: last page)")
	cmd.Flags().IntVar(&concurrency, "max-concurrency", 0, "cap on simultaneously running page workers (0 = one worker per page)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the Prometheus /metrics endpoint")
	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("Metrics listener stopped")
	}
}

func logSummary(summary *batch.Summary) {
	for _, page := range summary.Pages {
		for _, recErr := range page.Errors {
			logger := log.Error().Int("offset", page.Offset).Err(recErr.Err)
			if recErr.ID != "" {
				logger = logger.Str("user_id", recErr.ID)
			}
			logger.Msg("Recorded failure")
		}
	}
	log.Info().
		Int("total_records", summary.TotalRecords).
		Int("pages", len(summary.Pages)).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Msg("Batch run complete")
}
