package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, and restore vault snapshots",
		Long: `Snapshots are full copies of the vault's markdown tree, taken before
every apply and on demand. Restore puts the vault back exactly as the
snapshot recorded it, then refreshes the index.`,
	}
	cmd.AddCommand(snapshotCreateCmd(), snapshotListCmd(), snapshotRestoreCmd())
	return cmd
}

func snapshotCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the vault now",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			m, err := sess.Snapshots().Create(cmd.Context(), "manual")
			if err != nil {
				return err
			}
			fmt.Printf("  %s snapshot %s — %s files, %s\n",
				cli.Mark(true), m.ID, cli.FormatNumber(m.FileCount), formatBytes(m.SizeBytes))
			return nil
		},
	}
}

func snapshotListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			snaps, err := sess.Snapshots().List()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(snaps)
			}
			if len(snaps) == 0 {
				fmt.Println("  No snapshots yet — 'parakeet apply' creates one before each run.")
				return nil
			}
			for _, m := range snaps {
				fmt.Printf("  %s%s%s  %s  %4d files  %9s  %s\n",
					cli.Bold, m.ID, cli.Reset,
					m.CreatedAt.Format("2006-01-02 15:04"),
					m.FileCount, formatBytes(m.SizeBytes), m.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print manifests as JSON")
	return cmd
}

func snapshotRestoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Put the vault back as a snapshot recorded it",
		Long: `Restores every markdown file from the snapshot and removes notes
created since it was taken. The index is refreshed afterwards so
search and planning see the restored tree.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			id := args[0]
			m, err := sess.Snapshots().Manifest(id)
			if err != nil {
				return err
			}
			if !yes {
				prompt := fmt.Sprintf("  Restore %s (%s, %d files)? Notes created since will be deleted.",
					m.ID, m.CreatedAt.Format("2006-01-02 15:04"), m.FileCount)
				if !confirm(prompt) {
					fmt.Println("  Aborted. No files were touched.")
					return nil
				}
			}

			rep, err := sess.Snapshots().Restore(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("  %s restored %d files (%s), removed %d newer ones\n",
				cli.Mark(true), rep.FilesRestored, formatBytes(rep.BytesRestored), rep.FilesRemoved)

			if _, err := sess.Reindex(cmd.Context(), false, nil); err != nil {
				return err
			}
			fmt.Printf("  %sindex refreshed against the restored tree%s\n", cli.Dim, cli.Reset)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
