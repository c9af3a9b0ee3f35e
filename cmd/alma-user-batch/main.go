// Command alma-user-batch maintains Alma user records in bulk: it walks the
// paginated users listing, applies the configured cleanup rules to each
// record, and writes back only the users that actually changed, all under
// the Alma API rate limit.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/bibops/alma-user-batch/pkg/alma"
	"github.com/bibops/alma-user-batch/pkg/config"
	"github.com/bibops/alma-user-batch/pkg/logging"
	"github.com/bibops/alma-user-batch/pkg/ratelimit"
	"github.com/bibops/alma-user-batch/pkg/record"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "1.2.0"

var (
	debug bool

	rootCmd = &cobra.Command{
		Use:   "alma-user-batch",
		Short: "Bulk cleanup of Alma user records",
		Long: `alma-user-batch walks the Alma users listing page by page, applies the
configured statistic and title cleanup rules to every user record, and
writes back only the records that changed. Configuration comes from the
environment (optionally via a .env file): ALMA_REGION, ALMA_APIKEY,
CATEGORIES_TO_REMOVE and EXTERNAL_USER_GROUPS.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			if debug {
				cfg.Level = logging.LevelDebug
			}
			logging.Setup(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alma-user-batch %s\n", version)
		},
	})
	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(rerunCommand())
	rootCmd.AddCommand(collectCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildClients loads the configuration and constructs the API client and
// transformer every subcommand shares.
func buildClients() (*alma.Client, *record.Transformer, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := alma.New(alma.Config{
		Region:  cfg.Region,
		APIKey:  cfg.APIKey,
		Limiter: ratelimit.New(cfg.RateLimit, ratelimit.DefaultJitterMax),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return client, record.NewTransformer(cfg.Rules()), cfg, nil
}

// readIDLines reads user ids from a file, one per line, skipping blanks.
func readIDLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func logRecordOutcome(id string, updated bool, err error) {
	switch {
	case err != nil:
		log.Error().Str("user_id", id).Err(err).Msg("User processing failed")
	case updated:
		log.Info().Str("user_id", id).Msg("User updated")
	default:
		log.Info().Str("user_id", id).Msg("User did not need updating")
	}
}
