package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func collectCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "collect FILE...",
		Short: "Fetch users (with fees expanded) and dump each as a JSON file",
		Long: `collect reads user ids one per line from the given files, fetches each
record with the fee balance expanded, and writes it as pretty-printed JSON
to <out>/<id>.json. Fetch failures are logged and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := buildClients()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			for _, path := range args {
				ids, err := readIDLines(path)
				if err != nil {
					return err
				}
				for _, id := range ids {
					doc, err := client.UserWithFees(cmd.Context(), id)
					if err != nil {
						log.Error().Str("user_id", id).Err(err).Msg("Failed to fetch user")
						continue
					}
					data, err := doc.EncodeIndent()
					if err != nil {
						log.Error().Str("user_id", id).Err(err).Msg("Failed to encode user")
						continue
					}
					name := filepath.Join(outDir, fileNameForID(id)+".json")
					if err := os.WriteFile(name, data, 0o644); err != nil {
						log.Error().Str("user_id", id).Err(err).Msg("Failed to write user dump")
						continue
					}
					log.Info().Str("user_id", id).Str("file", name).Msg("User collected")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "users", "directory for the JSON dumps")
	return cmd
}

// fileNameForID flattens path-hostile characters that can occur in primary
// identifiers.
func fileNameForID(id string) string {
	return strings.NewReplacer("/", "_", "#", "_").Replace(id)
}
