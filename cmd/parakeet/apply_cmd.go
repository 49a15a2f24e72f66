package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/engine"
)

func applyCmd() *cobra.Command {
	var (
		directive   string
		maxNotes    int
		consolidate bool
		fixNames    bool
		yes         bool
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "apply [scope]",
		Short: "Plan and execute moves, after a snapshot and your confirmation",
		Long: `Builds the same plan 'parakeet plan' shows, asks for confirmation,
snapshots the vault, then moves the files. --yes answers every prompt;
use it for scripted runs. A failed move never stops the rest: the run
finishes, reports which moves failed, and exits 4.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "inbox"
			if len(args) == 1 {
				scope = args[0]
			}
			return runApply(cmd, scope, applyOpts{
				directive:   directive,
				maxNotes:    maxNotes,
				consolidate: consolidate,
				fixNames:    fixNames,
				yes:         yes,
				jsonOut:     jsonOut,
			})
		},
	}
	cmd.Flags().StringVarP(&directive, "directive", "d", "", "natural-language instruction biasing classification")
	cmd.Flags().IntVar(&maxNotes, "max-notes", 0, "cap notes per run (0 = config default)")
	cmd.Flags().BoolVar(&consolidate, "consolidate", false, "also merge near-duplicate sibling folders")
	cmd.Flags().BoolVar(&fixNames, "fix-names", false, "also repair folder names breaking naming rules")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the execution report as JSON")
	return cmd
}

type applyOpts struct {
	directive   string
	maxNotes    int
	consolidate bool
	fixNames    bool
	yes         bool
	jsonOut     bool
}

func runApply(cmd *cobra.Command, scope string, opts applyOpts) error {
	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, sig := range sess.Degraded() {
		fmt.Printf("  %s %s provider unavailable — moves will rely on the remaining signals\n", cli.WarnMark(), sig)
	}

	// An empty exclusion registry means every note in scope is fair game.
	// That is usually an oversight, so it needs an explicit go-ahead.
	if !sess.ExclusionsConfigured() {
		if !opts.yes {
			fmt.Println("  No exclusions are configured: nothing in the vault is protected from moves.")
			if !confirm("  Continue without exclusions?") {
				fmt.Println("  Aborted. Add protected paths with 'parakeet exclusions add <path>'.")
				return nil
			}
		}
		sess.ConfirmEmptyExclusions()
	}

	plan, err := sess.Plan(cmd.Context(), engine.PlanParams{
		Scope:       scope,
		Directive:   opts.directive,
		Execute:     true,
		Consolidate: opts.consolidate,
		FixNames:    opts.fixNames,
		MaxNotes:    opts.maxNotes,
	})
	if err != nil {
		return err
	}

	if len(plan.Actions) == 0 && len(plan.CleanupDirs) == 0 {
		fmt.Println("  Nothing to move — everything in scope is where it belongs.")
		return nil
	}

	if !opts.jsonOut {
		renderPlan(sess.VaultRoot(), plan)
	}
	if !opts.yes {
		if !confirm(fmt.Sprintf("  Apply %d move(s)?", len(plan.Actions))) {
			fmt.Println("  Aborted. No files were touched.")
			return nil
		}
	}

	report, execErr := sess.Execute(cmd.Context(), plan)
	if report != nil {
		if opts.jsonOut {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			renderReport(sess.VaultRoot(), report)
		}
	}
	return execErr
}
