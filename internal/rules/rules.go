// Package rules holds the deterministic category predicates. Each rule is a
// pure function over a feature vector emitting zero or more weighted votes;
// fusion aggregates them.
package rules

import (
	"fmt"
	"strings"

	"github.com/parakeet-labs/parakeet/internal/feature"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// StrongWeight marks a vote decisive enough to shift fusion weights.
const StrongWeight = 0.9

// Vote is one rule firing for a category.
type Vote struct {
	Category  vault.Category
	Weight    float64
	Rationale string
}

// Strong reports whether the vote carries decisive weight.
func (v Vote) Strong() bool { return v.Weight >= StrongWeight }

// Rule inspects a feature vector and emits votes.
type Rule func(*feature.Vector) []Vote

// All is the mandatory rule set, applied in order. Order does not affect
// fusion; it only fixes the rationale ordering in decision records.
var All = []Rule{
	explicitTag,
	todoWithDates,
	referenceHeavy,
	completedStatus,
	emptyDaily,
}

// Evaluate runs every rule and returns the collected votes.
func Evaluate(v *feature.Vector) []Vote {
	var votes []Vote
	for _, rule := range All {
		votes = append(votes, rule(v)...)
	}
	return votes
}

// SumFor totals the vote weights for one category.
func SumFor(votes []Vote, c vault.Category) float64 {
	sum := 0.0
	for _, v := range votes {
		if v.Category == c {
			sum += v.Weight
		}
	}
	return sum
}

// HasStrong reports whether any vote is decisive.
func HasStrong(votes []Vote) bool {
	for _, v := range votes {
		if v.Strong() {
			return true
		}
	}
	return false
}

// explicitTag: a #project/#area/#resource/#archive/#inbox tag is the user
// labeling the note themselves, so it votes at decisive weight.
func explicitTag(v *feature.Vector) []Vote {
	var votes []Vote
	for _, c := range []vault.Category{
		vault.Projects, vault.Areas, vault.Resources, vault.Archive, vault.Inbox,
	} {
		if v.HasTag(c.Keyword()) {
			votes = append(votes, Vote{
				Category:  c,
				Weight:    StrongWeight,
				Rationale: fmt.Sprintf("explicit #%s tag", c.Keyword()),
			})
		}
	}
	return votes
}

// todoWithDates: open tasks with dates in a recently touched note look like
// active project work.
func todoWithDates(v *feature.Vector) []Vote {
	recent := v.Recency == feature.VeryRecent || v.Recency == feature.Recent
	if v.HasTodos && v.HasDates && recent {
		return []Vote{{
			Category:  vault.Projects,
			Weight:    0.6,
			Rationale: "todos with dates, recently modified",
		}}
	}
	return nil
}

// referenceHeavy: many outgoing links plus structured content (tables or
// code) reads like reference material.
func referenceHeavy(v *feature.Vector) []Vote {
	structured := v.HasPattern(feature.PatternTables) || v.HasPattern(feature.PatternCode)
	if v.LinkCount > 5 && structured {
		return []Vote{{
			Category:  vault.Resources,
			Weight:    0.5,
			Rationale: fmt.Sprintf("%d outgoing links with tables or code", v.LinkCount),
		}}
	}
	return nil
}

// completedStatus: the header says the work is finished.
func completedStatus(v *feature.Vector) []Vote {
	switch strings.ToLower(v.HeaderString("status")) {
	case "done", "archived", "completed":
		return []Vote{{
			Category:  vault.Archive,
			Weight:    StrongWeight,
			Rationale: "status: " + strings.ToLower(v.HeaderString("status")),
		}}
	}
	return nil
}

// emptyDaily: a date-named note with almost no content is a stale daily note.
func emptyDaily(v *feature.Vector) []Vote {
	if feature.IsDailyName(v.Name) && v.NonWhitespaceChars < 10 {
		return []Vote{{
			Category:  vault.Archive,
			Weight:    StrongWeight,
			Rationale: "empty daily note",
		}}
	}
	return nil
}
