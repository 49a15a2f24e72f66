package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/exclusion"
)

func exclusionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "Manage paths parakeet must never move",
		Long: `Excluded paths (and everything under them) are invisible to plans,
indexing, and consolidation. Use them for daily notes, templates, or
any subtree another tool owns. 'parakeet apply' refuses to run until
exclusions exist or you explicitly confirm an empty registry.`,
	}
	cmd.AddCommand(exclusionsAddCmd(), exclusionsRemoveCmd(), exclusionsClearCmd(), exclusionsListCmd())
	return cmd
}

// openRegistry opens the exclusion registry without taking the index
// lock, so exclusions stay editable while a watch session runs.
func openRegistry() (*exclusion.Registry, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	root, err := cfg.RequireVault()
	if err != nil {
		return nil, "", err
	}
	reg, err := exclusion.Open(filepath.Join(root, config.AppDirName), cfg.Exclusions, newLogger())
	if err != nil {
		return nil, "", err
	}
	return reg, root, nil
}

func exclusionsAddCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Protect a file or subtree from moves",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, root, err := openRegistry()
			if err != nil {
				return err
			}
			if err := reg.Add(args[0], reason); err != nil {
				return err
			}
			fmt.Printf("  %s excluded %s — %d path(s) protected\n",
				cli.Mark(true), relToRoot(root, args[0]), reg.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "why this path is protected")
	return cmd
}

func exclusionsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path>",
		Short: "Stop protecting a path",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, root, err := openRegistry()
			if err != nil {
				return err
			}
			if err := reg.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("  %s removed %s — %d path(s) still protected\n",
				cli.Mark(true), relToRoot(root, args[0]), reg.Len())
			return nil
		},
	}
}

func exclusionsClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every exclusion",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := openRegistry()
			if err != nil {
				return err
			}
			if reg.Len() == 0 {
				fmt.Println("  Registry is already empty.")
				return nil
			}
			if !yes && !confirm(fmt.Sprintf("  Drop all %d exclusion(s)?", reg.Len())) {
				fmt.Println("  Aborted.")
				return nil
			}
			if err := reg.Clear(); err != nil {
				return err
			}
			fmt.Printf("  %s registry cleared — the next apply will ask before running unprotected\n", cli.Mark(true))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func exclusionsListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show protected paths",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, root, err := openRegistry()
			if err != nil {
				return err
			}
			entries := reg.List()
			if jsonOut {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("  No exclusions configured — every note is a move candidate.")
				fmt.Printf("  %sprotect a subtree with 'parakeet exclusions add <path>'%s\n", cli.Dim, cli.Reset)
				return nil
			}
			for _, e := range entries {
				fmt.Printf("  %s%-40s%s %s · since %s\n",
					cli.Bold, relToRoot(root, e.Path), cli.Reset,
					e.Reason, e.AddedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print entries as JSON")
	return cmd
}
