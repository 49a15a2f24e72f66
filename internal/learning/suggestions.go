package learning

import (
	"fmt"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Suggestions turns the current learning status into short, actionable
// advice for the CLI and the MCP learning_status tool.
func (s *Service) Suggestions() ([]string, error) {
	st, err := s.Status()
	if err != nil {
		return nil, err
	}

	if st.DecisionCount == 0 {
		return []string{"no classifications recorded yet; start with: parakeet plan inbox"}, nil
	}

	var out []string
	if st.FeedbackCount == 0 {
		out = append(out, "no decision has feedback yet; confirm or correct a few with: parakeet feedback <decision-id>")
	}
	if st.FeedbackCount >= 5 && st.Metrics.AccuracyRate < 0.7 {
		out = append(out, fmt.Sprintf(
			"only %.0f%% of recent feedback accepted the decision; review the folder patterns below and consider: parakeet reindex",
			st.Metrics.AccuracyRate*100))
	}
	if len(st.Categories) > 0 && st.Metrics.CategoryBalance < 0.4 && st.DecisionCount >= 10 {
		out = append(out, fmt.Sprintf(
			"recent classifications concentrate in %s; pass --directive to steer ambiguous notes elsewhere",
			dominantCategory(st.Categories)))
	}
	if st.IndexedNotes >= 20 && st.Metrics.SemanticCoherence < 0.3 {
		out = append(out, "semantic neighbors rarely agree with the decisions; rebuild the index with: parakeet reindex --force")
	}
	for _, p := range st.Patterns {
		if p.Uses >= 3 && p.SuccessRate < 0.5 {
			out = append(out, fmt.Sprintf(
				"folder %q under %s is rejected more often than accepted; rename it or record folder feedback",
				p.FolderName, p.Category))
			break
		}
	}

	if len(out) == 0 {
		out = append(out, "learning signals look healthy; keep confirming or correcting decisions so the weights stay tuned")
	}
	return out, nil
}

func dominantCategory(dist map[vault.Category]int) vault.Category {
	top := vault.PARACategories[0]
	for _, c := range vault.PARACategories[1:] {
		if dist[c] > dist[top] {
			top = c
		}
	}
	return top
}
