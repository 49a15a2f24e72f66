package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/planner"
	"github.com/parakeet-labs/parakeet/internal/snapshot"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

func newExecVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"00-Inbox", "01-Projects", "02-Areas", "03-Resources", "04-Archive"} {
		if err := os.MkdirAll(filepath.Join(root, f), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func writeExecNote(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestExecutor(t *testing.T, root string) (*Executor, *store.Store, *snapshot.Store) {
	t.Helper()
	st, err := store.OpenMemory("nomic-embed-text", 4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	snaps := snapshot.NewStore(root, filepath.Join(root, ".parakeet", "snapshots"), nil, zap.NewNop())
	e := New(Options{
		VaultRoot:  root,
		Index:      st,
		Snapshots:  snaps,
		AuditPath:  filepath.Join(root, ".parakeet", "index", AuditFileName),
		AutoBackup: true,
		Log:        zap.NewNop(),
	})
	return e, st, snaps
}

func indexNote(t *testing.T, st *store.Store, root, rel string, cat vault.Category, vec []float32) {
	t.Helper()
	note := store.Note{
		ID:          rel,
		Path:        filepath.Join(root, filepath.FromSlash(rel)),
		Title:       strings.TrimSuffix(filepath.Base(rel), ".md"),
		Category:    cat,
		ContentHash: "hash-" + rel,
	}
	if err := st.Upsert(note, vec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func moveAction(root, fromRel string, cat vault.Category, folder string, d *store.Decision) planner.Action {
	from := filepath.Join(root, filepath.FromSlash(fromRel))
	to := filepath.Join(root, cat.Folder(), folder, filepath.Base(from))
	a := planner.Action{
		NoteID:       fromRel,
		FromPath:     from,
		ToPath:       to,
		FromCategory: vault.Inbox,
		Category:     cat,
		FolderName:   folder,
		Confidence:   0.92,
		Method:       "consensus",
		Decision:     d,
	}
	if d != nil {
		a.Confidence = d.Confidence
		a.Method = d.Method
	}
	return a
}

func execPlan(actions ...planner.Action) *planner.Plan {
	return &planner.Plan{
		ID:      "plan-test",
		Scope:   "inbox",
		Mode:    planner.ModeExecute,
		Actions: actions,
	}
}

func TestExecuteAppliesPlan(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/alpha.md", "alpha body\n")
	e, st, snaps := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/alpha.md", vault.Inbox, []float32{1, 0, 0, 0})

	d := &store.Decision{
		NoteID:     "00-Inbox/alpha.md",
		Category:   vault.Projects,
		FolderName: "Alpha Work",
		Confidence: 0.92,
		Method:     "consensus",
		Weights:    store.Weights{Semantic: 0.5, LLM: 0.3, Rule: 0.2},
		Reasoning:  "all signals agree",
	}
	report, err := e.Execute(context.Background(), execPlan(moveAction(root, "00-Inbox/alpha.md", vault.Projects, "Alpha Work", d)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Partial || len(report.Applied) != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	newPath := filepath.Join(root, "01-Projects", "Alpha Work", "alpha.md")
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "00-Inbox", "alpha.md")); !os.IsNotExist(err) {
		t.Error("source file still present")
	}

	if n, err := st.Get("00-Inbox/alpha.md"); err != nil || n != nil {
		t.Errorf("old index row survived: %v %v", n, err)
	}
	moved, err := st.Get("01-Projects/Alpha Work/alpha.md")
	if err != nil || moved == nil {
		t.Fatalf("rekeyed row missing: %v", err)
	}
	if moved.Category != vault.Projects || moved.FolderName != "Alpha Work" {
		t.Errorf("rekeyed row = %+v", moved)
	}
	if vec, err := st.Embedding("01-Projects/Alpha Work/alpha.md"); err != nil || vec == nil {
		t.Errorf("embedding lost in rekey: %v", err)
	}

	dec, err := st.LatestDecisionForNote("01-Projects/Alpha Work/alpha.md")
	if err != nil || dec == nil {
		t.Fatalf("decision not appended: %v", err)
	}
	if dec.Category != vault.Projects || dec.Method != "consensus" {
		t.Errorf("decision = %+v", dec)
	}

	man, err := snaps.Manifest(report.SnapshotID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if report.Applied[0].AppliedAt.Before(man.CreatedAt) {
		t.Error("move applied before the snapshot was created")
	}
	snapCopy := filepath.Join(snaps.Dir(), report.SnapshotID, "00-Inbox", "alpha.md")
	if _, err := os.Stat(snapCopy); err != nil {
		t.Errorf("snapshot missing the pre-move file: %v", err)
	}

	auditData, err := os.ReadFile(filepath.Join(root, ".parakeet", "index", AuditFileName))
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(auditData)), "\n")
	if len(lines) != 1 {
		t.Fatalf("audit lines = %d, want 1", len(lines))
	}
	var entry auditLine
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if entry.PlanID != "plan-test" || entry.SnapshotID != report.SnapshotID || entry.To != newPath || entry.Error != "" {
		t.Errorf("audit line = %+v", entry)
	}
}

func TestExecuteSuffixesCollidingFilenames(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/alpha.md", "incoming\n")
	writeExecNote(t, root, "01-Projects/Alpha Work/alpha.md", "already here\n")
	e, st, _ := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/alpha.md", vault.Inbox, nil)

	report, err := e.Execute(context.Background(), execPlan(moveAction(root, "00-Inbox/alpha.md", vault.Projects, "Alpha Work", nil)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := filepath.Join(root, "01-Projects", "Alpha Work", "alpha-2.md")
	if report.Applied[0].ToPath != want {
		t.Fatalf("ToPath = %q, want %q", report.Applied[0].ToPath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "incoming\n" {
		t.Fatalf("suffixed file = %q, %v", data, err)
	}
	original, err := os.ReadFile(filepath.Join(root, "01-Projects", "Alpha Work", "alpha.md"))
	if err != nil || string(original) != "already here\n" {
		t.Fatalf("resident file overwritten: %q, %v", original, err)
	}
	if n, err := st.Get("01-Projects/Alpha Work/alpha-2.md"); err != nil || n == nil {
		t.Errorf("rekey missed the suffixed id: %v %v", n, err)
	}
}

func TestExecuteContinuesPastSingleFailure(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/real.md", "real\n")
	e, st, _ := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/real.md", vault.Inbox, nil)

	ghost := moveAction(root, "00-Inbox/ghost.md", vault.Projects, "Ghost Work", nil)
	real := moveAction(root, "00-Inbox/real.md", vault.Areas, "Real Work", nil)
	report, err := e.Execute(context.Background(), execPlan(ghost, real))

	if fault.KindOf(err) != fault.KindPartial {
		t.Fatalf("kind = %v, want partial: %v", fault.KindOf(err), err)
	}
	if !report.Partial || len(report.Failed) != 1 || len(report.Applied) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Failed[0].NoteID != "00-Inbox/ghost.md" || report.Failed[0].Error == "" {
		t.Errorf("failed outcome = %+v", report.Failed[0])
	}
	if _, statErr := os.Stat(filepath.Join(root, "02-Areas", "Real Work", "real.md")); statErr != nil {
		t.Errorf("later action not applied: %v", statErr)
	}
}

func TestExecuteRefusals(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/alpha.md", "alpha\n")
	e, st, snaps := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/alpha.md", vault.Inbox, nil)
	action := moveAction(root, "00-Inbox/alpha.md", vault.Projects, "Alpha Work", nil)

	if _, err := e.Execute(context.Background(), &planner.Plan{ID: "p", Mode: planner.ModeSimulate, Actions: []planner.Action{action}}); fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("simulate-mode plan: kind = %v", fault.KindOf(err))
	}
	if _, err := e.Execute(context.Background(), execPlan()); fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("empty plan: kind = %v", fault.KindOf(err))
	}

	noBackup := New(Options{VaultRoot: root, Index: st, Snapshots: snaps, AutoBackup: false, Log: zap.NewNop()})
	if _, err := noBackup.Execute(context.Background(), execPlan(action)); fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("auto_backup off: kind = %v", fault.KindOf(err))
	}
	if _, err := os.Stat(filepath.Join(root, "00-Inbox", "alpha.md")); err != nil {
		t.Errorf("refused runs must not move files: %v", err)
	}
}

func TestExecuteAbortsBeforeMovesWhenCancelled(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/alpha.md", "alpha\n")
	e, st, _ := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/alpha.md", vault.Inbox, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, execPlan(moveAction(root, "00-Inbox/alpha.md", vault.Projects, "Alpha Work", nil)))
	if fault.KindOf(err) != fault.KindCancelled {
		t.Fatalf("kind = %v, want cancelled", fault.KindOf(err))
	}
	if _, statErr := os.Stat(filepath.Join(root, "00-Inbox", "alpha.md")); statErr != nil {
		t.Errorf("cancelled run moved a file: %v", statErr)
	}
}

func TestExecuteRemovesEmptiedConsolidationSources(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "04-Archive/Old Notes/keep.md", "keep\n")
	writeExecNote(t, root, "04-Archive/Old Notes 2/solo.md", "solo\n")
	writeExecNote(t, root, "04-Archive/Old Notes 3/moved.md", "moved\n")
	writeExecNote(t, root, "04-Archive/Old Notes 3/stays.md", "stays\n")
	e, st, _ := newTestExecutor(t, root)
	indexNote(t, st, root, "04-Archive/Old Notes 2/solo.md", vault.Archive, nil)
	indexNote(t, st, root, "04-Archive/Old Notes 3/moved.md", vault.Archive, nil)

	solo := planner.Action{
		NoteID:       "04-Archive/Old Notes 2/solo.md",
		FromPath:     filepath.Join(root, "04-Archive", "Old Notes 2", "solo.md"),
		ToPath:       filepath.Join(root, "04-Archive", "Old Notes", "solo.md"),
		FromCategory: vault.Archive,
		Category:     vault.Archive,
		FolderName:   "Old Notes",
		Confidence:   1,
		Method:       planner.MethodConsolidation,
	}
	moved := planner.Action{
		NoteID:       "04-Archive/Old Notes 3/moved.md",
		FromPath:     filepath.Join(root, "04-Archive", "Old Notes 3", "moved.md"),
		ToPath:       filepath.Join(root, "04-Archive", "Old Notes", "moved.md"),
		FromCategory: vault.Archive,
		Category:     vault.Archive,
		FolderName:   "Old Notes",
		Confidence:   1,
		Method:       planner.MethodConsolidation,
	}
	plan := execPlan(solo, moved)
	plan.Scope = "archive"
	plan.CleanupDirs = []string{
		filepath.Join(root, "04-Archive", "Old Notes 2"),
		filepath.Join(root, "04-Archive", "Old Notes 3"),
	}

	report, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(report.RemovedDirs) != 1 || report.RemovedDirs[0] != plan.CleanupDirs[0] {
		t.Errorf("RemovedDirs = %v", report.RemovedDirs)
	}
	if _, statErr := os.Stat(filepath.Join(root, "04-Archive", "Old Notes 2")); !os.IsNotExist(statErr) {
		t.Error("emptied source folder not removed")
	}
	if _, statErr := os.Stat(filepath.Join(root, "04-Archive", "Old Notes 3", "stays.md")); statErr != nil {
		t.Errorf("non-empty source folder lost content: %v", statErr)
	}
	if count, _ := st.DecisionCount(); count != 0 {
		t.Errorf("consolidation moves wrote %d decisions, want 0", count)
	}
}

func TestExecuteThenRestoreRoundTrips(t *testing.T) {
	root := newExecVault(t)
	writeExecNote(t, root, "00-Inbox/alpha.md", "alpha body\n")
	e, st, snaps := newTestExecutor(t, root)
	indexNote(t, st, root, "00-Inbox/alpha.md", vault.Inbox, nil)

	report, err := e.Execute(context.Background(), execPlan(moveAction(root, "00-Inbox/alpha.md", vault.Projects, "Alpha Work", nil)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := snaps.Restore(context.Background(), report.SnapshotID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	back, err := os.ReadFile(filepath.Join(root, "00-Inbox", "alpha.md"))
	if err != nil || string(back) != "alpha body\n" {
		t.Fatalf("restored file = %q, %v", back, err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "01-Projects", "Alpha Work")); !os.IsNotExist(statErr) {
		t.Error("folder created by the plan survived the restore")
	}
}
