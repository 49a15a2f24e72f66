package main

import (
	"fmt"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/executor"
	"github.com/parakeet-labs/parakeet/internal/indexer"
	"github.com/parakeet-labs/parakeet/internal/planner"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// renderPlan prints a plan grouped by destination category, one line per
// move with a confidence spark, then the summary box.
func renderPlan(root string, p *planner.Plan) {
	cli.Header("Plan — " + p.Scope)

	for _, sig := range p.Degraded {
		fmt.Printf("  %s %s signal degraded — classification leaned on the remaining signals\n", cli.WarnMark(), sig)
	}
	if len(p.Degraded) > 0 {
		fmt.Println()
	}

	if len(p.Actions) == 0 && len(p.CleanupDirs) == 0 {
		fmt.Println("  Nothing to move — everything in scope is where it belongs.")
		cli.Footer()
		return
	}

	order := append([]vault.Category{}, vault.PARACategories...)
	order = append(order, vault.Inbox, vault.Unknown)
	for _, cat := range order {
		var group []planner.Action
		for _, a := range p.Actions {
			if a.Category == cat {
				group = append(group, a)
			}
		}
		if len(group) == 0 {
			continue
		}
		cli.Section(string(cat))
		for _, a := range group {
			glyph, color := cli.Spark(a.Confidence)
			fmt.Printf("  %s%s%s %s %s→%s %s\n",
				color, glyph, cli.Reset,
				relToRoot(root, a.FromPath),
				cli.Dim, cli.Reset,
				relToRoot(root, a.ToPath))
			if a.Reasoning != "" {
				fmt.Printf("     %s%s · %.2f · %s%s\n",
					cli.Dim, a.Method, a.Confidence, truncate(a.Reasoning, 64), cli.Reset)
			}
		}
	}

	if len(p.CleanupDirs) > 0 {
		cli.Section("Cleanup")
		for _, dir := range p.CleanupDirs {
			fmt.Printf("  %sremove %s once emptied%s\n", cli.Dim, relToRoot(root, dir), cli.Reset)
		}
	}

	s := p.Summary
	lines := []string{
		fmt.Sprintf("moves %d · unchanged %d · scanned %d", s.Moves, s.Unchanged, s.NotesScanned),
		fmt.Sprintf("confidence %d high · %d mid · %d low", s.Confidence.High, s.Confidence.Mid, s.Confidence.Low),
		fmt.Sprintf("risk %s · est %s · backup %s", s.Risk, cli.FormatDuration(s.EstimatedTime), yesNo(s.BackupNeeded)),
	}
	if s.Capped > 0 {
		lines = append(lines, fmt.Sprintf("capped — %d notes deferred to the next run", s.Capped))
	}
	cli.Section("Summary")
	cli.Box(lines)

	if p.Mode == planner.ModeSimulate {
		fmt.Printf("\n  Run %s'parakeet apply %s'%s to execute this plan.\n", cli.Bold, p.Scope, cli.Reset)
	}
	cli.Footer()
}

// renderReport prints what an apply actually did.
func renderReport(root string, r *executor.ExecutionReport) {
	cli.Header("Applied — " + r.Scope)

	for _, a := range r.Applied {
		fmt.Printf("  %s %s %s→%s %s\n",
			cli.Mark(true),
			relToRoot(root, a.FromPath),
			cli.Dim, cli.Reset,
			relToRoot(root, a.ToPath))
	}
	for _, a := range r.Failed {
		fmt.Printf("  %s %s — %s\n", cli.Mark(false), relToRoot(root, a.FromPath), a.Error)
	}
	for _, dir := range r.RemovedDirs {
		fmt.Printf("  %sremoved emptied folder %s%s\n", cli.Dim, relToRoot(root, dir), cli.Reset)
	}

	fmt.Println()
	took := r.FinishedAt.Sub(r.StartedAt)
	fmt.Printf("  %d applied, %d failed in %s\n", len(r.Applied), len(r.Failed), cli.FormatDuration(took))
	if r.SnapshotID != "" {
		fmt.Printf("  %ssnapshot %s — 'parakeet snapshot restore %s' undoes this run%s\n",
			cli.Dim, r.SnapshotID, r.SnapshotID, cli.Reset)
	}
	cli.Footer()
}

// renderStats prints a reindex outcome.
func renderStats(s *indexer.Stats) {
	fmt.Printf("  %s index up to date — %s notes, %s vectors\n",
		cli.Mark(true), cli.FormatNumber(s.NotesInIndex), cli.FormatNumber(s.Vectors))
	fmt.Printf("  %sindexed %d · unchanged %d · removed %d · re-embedded %d%s\n",
		cli.Dim, s.Indexed, s.SkippedUnchanged, s.Removed, s.Reembedded, cli.Reset)
	if s.EmbedFailures > 0 {
		fmt.Printf("  %s %d notes could not be embedded — they retry on the next run\n",
			cli.WarnMark(), s.EmbedFailures)
	}
	if s.Errors > 0 {
		fmt.Printf("  %s %d notes could not be read\n", cli.WarnMark(), s.Errors)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
