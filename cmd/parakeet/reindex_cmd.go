package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/indexer"
)

func reindexCmd() *cobra.Command {
	var force, jsonOut bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Bring the semantic index up to date with the vault",
		Long: `Scans the vault, indexes new and changed notes, embeds them, and
sweeps rows whose files are gone. Unchanged notes are skipped by
content hash. --force rebuilds from scratch, clearing the embedding
cache.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			var progress indexer.ProgressFunc
			if !jsonOut {
				progress = func(done, total int, path string) {
					fmt.Printf("\r\033[K  embedding %d/%d %s", done, total, truncate(path, 48))
					if done == total {
						fmt.Print("\r\033[K")
					}
				}
			}
			stats, err := sess.Reindex(cmd.Context(), force, progress)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(stats)
			}
			renderStats(stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild the index from scratch")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print stats as JSON")
	return cmd
}
