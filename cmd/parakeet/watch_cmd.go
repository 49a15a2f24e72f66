package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/watcher"
)

func watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index fresh while you edit",
		Long: `Watches the vault for markdown changes and reindexes incrementally
after a quiet period. Watch never moves files: run 'parakeet plan'
whenever you want to see what has piled up.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, log, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			w, err := watcher.New(watcher.Options{
				Root:     sess.VaultRoot(),
				Excluded: sess.Exclusions().Contains,
				Index:    sess,
				Debounce: debounce,
				Log:      log,
			})
			if err != nil {
				return err
			}

			// Catch up on edits made while nothing was watching.
			if _, err := sess.Reindex(cmd.Context(), false, nil); err != nil {
				return err
			}
			fmt.Printf("  Watching %s — Ctrl-C to stop.\n", cli.ShortenHome(sess.VaultRoot()))
			return w.Watch(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before reindexing (default 2s)")
	return cmd
}
