package main

import (
	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/engine"
)

func planCmd() *cobra.Command {
	var (
		directive   string
		maxNotes    int
		consolidate bool
		fixNames    bool
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "plan [scope]",
		Short: "Preview where notes would move (nothing is touched)",
		Long: `Classifies every note in scope and prints the moves parakeet would
make. Scopes: inbox (default), archive, all, or path:<subtree>.
Plans are simulations; 'parakeet apply' executes them.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "inbox"
			if len(args) == 1 {
				scope = args[0]
			}
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			plan, err := sess.Plan(cmd.Context(), engine.PlanParams{
				Scope:       scope,
				Directive:   directive,
				Consolidate: consolidate,
				FixNames:    fixNames,
				MaxNotes:    maxNotes,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(plan)
			}
			renderPlan(sess.VaultRoot(), plan)
			return nil
		},
	}
	cmd.Flags().StringVarP(&directive, "directive", "d", "", "natural-language instruction biasing classification")
	cmd.Flags().IntVar(&maxNotes, "max-notes", 0, "cap notes per run (0 = config default)")
	cmd.Flags().BoolVar(&consolidate, "consolidate", false, "also merge near-duplicate sibling folders")
	cmd.Flags().BoolVar(&fixNames, "fix-names", false, "also repair folder names breaking naming rules")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the plan as JSON")
	return cmd
}
