package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/learning"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

func learningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Inspect and move what parakeet has learned",
		Long: `Every classification is recorded, every verdict you give adjusts how
the signals are weighed. These subcommands show the learned state and
move it between machines.`,
	}
	cmd.AddCommand(learningStatusCmd(), learningSuggestionsCmd(), learningExportCmd(), learningImportCmd())
	return cmd
}

// learningStatusData is the JSON shape of learning status.
type learningStatusData struct {
	Decisions    int                    `json:"decisions"`
	Feedback     int                    `json:"feedback"`
	IndexedNotes int                    `json:"indexed_notes"`
	Categories   map[vault.Category]int `json:"categories,omitempty"`
	Accuracy     float64                `json:"accuracy_rate"`
	Correlation  float64                `json:"confidence_correlation"`
	Velocity     float64                `json:"learning_velocity"`
	Balance      float64                `json:"category_balance"`
	Coherence    float64                `json:"semantic_coherence"`
	Satisfaction float64                `json:"user_satisfaction"`
	Adaptability float64                `json:"system_adaptability"`
	Improvement  float64                `json:"improvement_score"`
	Policy       fusion.Policy          `json:"policy"`
	Patterns     []learning.Pattern     `json:"patterns,omitempty"`
}

func learningStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show learning metrics, the weight policy, and folder patterns",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			st, err := sess.Learning().Status()
			if err != nil {
				return err
			}
			m := st.Metrics
			if jsonOut {
				return printJSON(learningStatusData{
					Decisions:    st.DecisionCount,
					Feedback:     st.FeedbackCount,
					IndexedNotes: st.IndexedNotes,
					Categories:   st.Categories,
					Accuracy:     m.AccuracyRate,
					Correlation:  m.ConfidenceCorrelation,
					Velocity:     m.LearningVelocity,
					Balance:      m.CategoryBalance,
					Coherence:    m.SemanticCoherence,
					Satisfaction: m.UserSatisfaction,
					Adaptability: m.SystemAdaptability,
					Improvement:  m.ImprovementScore,
					Policy:       st.Policy,
					Patterns:     st.Patterns,
				})
			}

			cli.Header("Learning")

			cli.Section("Activity")
			fmt.Printf("  decisions %s · feedback %s · indexed notes %s\n",
				cli.FormatNumber(st.DecisionCount), cli.FormatNumber(st.FeedbackCount), cli.FormatNumber(st.IndexedNotes))
			if len(st.Categories) > 0 {
				fmt.Print("  ")
				for i, cat := range []vault.Category{vault.Inbox, vault.Projects, vault.Areas, vault.Resources, vault.Archive} {
					if i > 0 {
						fmt.Print(" · ")
					}
					fmt.Printf("%s %d", cat, st.Categories[cat])
				}
				fmt.Println()
			}

			cli.Section("Metrics")
			fmt.Printf("  accuracy %.0f%% · satisfaction %.2f · improvement %.2f\n",
				m.AccuracyRate*100, m.UserSatisfaction, m.ImprovementScore)
			fmt.Printf("  %sconfidence correlation %+.2f · velocity %+.3f · balance %.2f · coherence %.2f%s\n",
				cli.Dim, m.ConfidenceCorrelation, m.LearningVelocity, m.CategoryBalance, m.SemanticCoherence, cli.Reset)

			cli.Section("Policy")
			if st.Policy.IsZero() {
				fmt.Println("  no learned nudges yet — feedback teaches the weighting")
			} else {
				fmt.Printf("  semantic %+.2f · llm %+.2f · rule %+.2f\n",
					st.Policy.SemanticNudge, st.Policy.LLMNudge, st.Policy.RuleNudge)
			}

			if len(st.Patterns) > 0 {
				cli.Section("Folder patterns")
				for i, p := range st.Patterns {
					if i == 5 {
						break
					}
					fmt.Printf("  %s%-28s%s %s · %d uses, %d accepted (%.0f%%)\n",
						cli.Bold, p.FolderName, cli.Reset, p.Category, p.Uses, p.Accepted, p.SuccessRate*100)
				}
			}
			cli.Footer()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func learningSuggestionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggestions",
		Short: "Actionable observations from the learned state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			suggestions, err := sess.Learning().Suggestions()
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Println("  Nothing yet — feedback on a few plans sharpens the suggestions.")
				return nil
			}
			for _, s := range suggestions {
				fmt.Printf("  %s•%s %s\n", cli.Cyan, cli.Reset, s)
			}
			return nil
		},
	}
}

func learningExportCmd() *cobra.Command {
	var out string
	var withEmbeddings bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Serialize the learned state to JSON",
		Long: `Writes everything parakeet has learned (metrics, the decision log,
feedback, folder patterns, the weight policy) as one JSON document.
--embeddings includes the indexed notes with their vectors, which
makes the file much larger but spares the target machine a full
re-embed.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			cfg := sess.Config()
			doc, err := sess.Learning().Export(withEmbeddings, map[string]string{
				"embedding_model": cfg.EmbeddingModel,
				"llm_model":       cfg.LLMModel,
			})
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fault.Wrap(fault.KindData, err, "encode export")
			}
			data = append(data, '\n')

			if out == "" {
				fmt.Print(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fault.Wrapf(fault.KindPrecondition, err, "write export %s", out)
			}
			fmt.Printf("  %s exported %d decisions, %d feedback rows, %d embeddings to %s (%s)\n",
				cli.Mark(true), len(doc.Decisions), len(doc.FolderFeedback), len(doc.Embeddings),
				out, formatBytes(int64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&withEmbeddings, "embeddings", false, "include indexed notes and vectors")
	return cmd
}

func learningImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load a learning export into this vault's store",
		Long: `Loads an export produced by 'parakeet learning export' into a fresh
index: decisions, feedback, metrics history, the weight policy, and
embeddings whose model matches this vault's. Existing decisions block
the import; move the index aside or start from a clean vault first.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fault.Wrapf(fault.KindPrecondition, err, "read export %s", args[0])
			}
			var doc learning.Export
			if err := json.Unmarshal(data, &doc); err != nil {
				return fault.Wrapf(fault.KindData, err, "parse export %s", args[0])
			}

			sess, _, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			rep, err := sess.Learning().Import(&doc)
			if err != nil {
				return err
			}
			fmt.Printf("  %s imported %d decisions, %d feedback rows, %d snapshots, %d embeddings\n",
				cli.Mark(true), rep.Decisions, rep.FolderFeedback, rep.Snapshots, rep.Embeddings)
			if model, ok := rep.Preferences["embedding_model"]; ok && model != sess.Config().EmbeddingModel {
				fmt.Printf("  %s export came from embedding model %q, this vault uses %q — imported vectors were skipped\n",
					cli.WarnMark(), model, sess.Config().EmbeddingModel)
			}
			return nil
		},
	}
}
