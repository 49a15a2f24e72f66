package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/store"
)

func feedbackCmd() *cobra.Command {
	var to, notes string
	cmd := &cobra.Command{
		Use:   "feedback <note|decision-id> <accept|reject|correct>",
		Short: "Tell parakeet whether a classification was right",
		Long: `Records your verdict on the newest decision for a note, or on a
specific decision id. Verdicts feed the learning loop: signals that
backed accepted decisions gain weight, signals behind rejected ones
lose it.

  parakeet feedback 01-Projects/Budget/q3.md accept
  parakeet feedback 01-Projects/Budget/q3.md correct --to Resources
  parakeet feedback 4f1c9a22-91d9-4a6b-b7e3-0d6f7c21a9d0 reject`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedback(cmd, args[0], args[1], to, notes)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "corrected category (with the correct verdict)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form context stored with the verdict")
	return cmd
}

func runFeedback(cmd *cobra.Command, target, verdict, to, notes string) error {
	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	id := target
	if looksLikeNotePath(target) {
		rel := noteKey(sess.VaultRoot(), target)
		dec, err := sess.Index().LatestDecisionForNote(rel)
		if err != nil {
			return err
		}
		if dec == nil {
			return fault.Newf(fault.KindPrecondition, "no decision recorded for %s", rel).
				WithHint("feedback targets notes parakeet has classified; 'parakeet learning status' lists recent ones")
		}
		id = dec.ID
	}

	dec, err := sess.Feedback(id, verdict, to, notes)
	if err != nil {
		return err
	}

	fmt.Printf("  %s recorded %s for %s\n", cli.Mark(true), dec.Feedback, dec.NoteID)
	if dec.Feedback == store.FeedbackCorrected {
		fmt.Printf("  %scorrected %s to %s%s\n", cli.Dim, dec.Category, dec.CorrectedTo, cli.Reset)
	}
	fmt.Printf("  %ssignal weights adjust on the next plan%s\n", cli.Dim, cli.Reset)
	return nil
}

// looksLikeNotePath separates note arguments from decision ids: ids are
// UUIDs, so anything with a path separator or a .md suffix is a note.
func looksLikeNotePath(s string) bool {
	return strings.ContainsAny(s, `/\`) || strings.HasSuffix(strings.ToLower(s), ".md")
}

// noteKey converts a user-supplied note path (absolute, vault-relative,
// or CWD-relative) to the slash-relative form index rows are keyed by.
func noteKey(root, path string) string {
	p := path
	if !filepath.IsAbs(p) {
		// CWD-relative paths only count when the file is actually there,
		// so vault-relative arguments typed from elsewhere still work.
		if abs, err := filepath.Abs(p); err == nil {
			if _, statErr := os.Stat(abs); statErr == nil {
				p = abs
			}
		}
	}
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}
