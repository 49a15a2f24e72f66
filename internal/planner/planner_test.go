package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/llm"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

var (
	axisProjects  = []float32{1, 0, 0, 0}
	axisAreas     = []float32{0, 1, 0, 0}
	axisResources = []float32{0, 0, 1, 0}
	axisArchive   = []float32{0, 0, 0, 1}
)

// fakeEmbedder maps marker words in the note text onto category axes so
// seeded neighbors line up deterministically.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	switch {
	case strings.Contains(text, "projectish"):
		return axisProjects, nil
	case strings.Contains(text, "areaish"):
		return axisAreas, nil
	case strings.Contains(text, "resourceish"):
		return axisResources, nil
	case strings.Contains(text, "archiveish"):
		return axisArchive, nil
	}
	return []float32{0.5, 0.5, 0.5, 0.5}, nil
}

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Model() string   { return "fake-embed" }
func (f *fakeEmbedder) Dimensions() int { return 4 }

type fakeClassifier struct {
	byName map[string]*llm.Result
	res    *llm.Result
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, req *llm.Request) (*llm.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byName[req.Note.Name]; ok {
		return r, nil
	}
	if f.res != nil {
		return f.res, nil
	}
	return nil, fault.New(fault.KindTransient, "no canned result")
}

func (f *fakeClassifier) Name() string  { return "fake" }
func (f *fakeClassifier) Model() string { return "fake-llm" }

func newPlanVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"00-Inbox", "01-Projects", "02-Areas", "03-Resources", "04-Archive"} {
		if err := os.MkdirAll(filepath.Join(root, f), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func writePlanNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestPlanner(t *testing.T, root string, excluded func(string) bool, cls llm.Classifier) (*Planner, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory("nomic-embed-text", 4)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	p := New(Options{
		Reader:     vault.NewReader(root, excluded, zap.NewNop()),
		Index:      st,
		Embedder:   &fakeEmbedder{},
		Classifier: cls,
		Fuser:      fusion.New(fusion.Policy{}, nil),
		Workers:    2,
		Log:        zap.NewNop(),
	})
	return p, st
}

func seedIndexed(t *testing.T, st *store.Store, cat vault.Category, n int, vec []float32) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s/Seeds/seed-%d.md", cat.Folder(), i)
		note := store.Note{
			ID:          id,
			Path:        "/vault/" + id,
			Title:       fmt.Sprintf("Seed %d", i),
			Category:    cat,
			FolderName:  "Seeds",
			ContentHash: id,
		}
		if err := st.Upsert(note, vec); err != nil {
			t.Fatalf("Upsert seed: %v", err)
		}
	}
}

func TestBuildMovesInboxNoteToProjects(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/todo-draft-app.md", `---
tags: [project]
---
Ship the draft app.

- [ ] write spec
- [ ] build beta
- [ ] launch 2025-03-01

projectish
`)
	cls := &fakeClassifier{res: &llm.Result{
		Category:   vault.Projects,
		FolderName: "Draft App Launch",
		Reasoning:  "open todos with a ship date",
	}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Projects, 5, axisProjects)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeInbox}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 1 {
		t.Fatalf("actions = %d, want 1: %+v", len(plan.Actions), plan.Actions)
	}
	a := plan.Actions[0]
	if a.Category != vault.Projects {
		t.Errorf("Category = %s, want Projects", a.Category)
	}
	if a.Method != string(fusion.MethodConsensus) {
		t.Errorf("Method = %s, want consensus", a.Method)
	}
	if a.Confidence <= 0.7 {
		t.Errorf("Confidence = %.3f, want > 0.7", a.Confidence)
	}
	if a.FolderName != "Draft App Launch" {
		t.Errorf("FolderName = %q", a.FolderName)
	}
	want := filepath.Join(root, "01-Projects", "Draft App Launch", "todo-draft-app.md")
	if a.ToPath != want {
		t.Errorf("ToPath = %q, want %q", a.ToPath, want)
	}
	if !a.CreateFolder {
		t.Error("CreateFolder should be set for a new folder")
	}
	if a.Decision == nil || a.Decision.NoteID != "00-Inbox/todo-draft-app.md" {
		t.Fatalf("Decision = %+v", a.Decision)
	}
	if a.Decision.NeighborShare != 1.0 {
		t.Errorf("NeighborShare = %.2f, want 1.0", a.Decision.NeighborShare)
	}
	if got := plan.Summary; got.Moves != 1 || got.NotesScanned != 1 || got.Risk != RiskLow {
		t.Errorf("Summary = %+v", got)
	}
	if len(plan.Degraded) != 0 {
		t.Errorf("Degraded = %v, want none", plan.Degraded)
	}
	if plan.Summary.BackupNeeded {
		t.Error("simulation must not require a backup")
	}
}

func TestBuildLeavesFiledNotesAlone(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "01-Projects/App/roadmap.md", "The projectish roadmap.\n")
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Projects, FolderName: "App Work", Reasoning: "active work"}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Projects, 5, axisProjects)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeAll}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 0 {
		t.Fatalf("actions = %+v, want none", plan.Actions)
	}
	if plan.Summary.Unchanged != 1 || plan.Summary.Moves != 0 {
		t.Errorf("Summary = %+v", plan.Summary)
	}
}

func TestBuildDegradesWithoutLLM(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/ocean-links.md", "resourceish collection of ocean research links\n")
	cls := &fakeClassifier{err: fault.New(fault.KindTransient, "model unavailable")}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Resources, 5, axisResources)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeInbox}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(plan.Actions))
	}
	a := plan.Actions[0]
	if a.Category != vault.Resources {
		t.Errorf("Category = %s, want Resources", a.Category)
	}
	if a.Method != string(fusion.MethodSemanticOnly) {
		t.Errorf("Method = %s, want semantic_only", a.Method)
	}
	if a.FolderName == "" || strings.ContainsAny(a.FolderName[len(a.FolderName)-1:], "0123456789") {
		t.Errorf("FolderName = %q", a.FolderName)
	}
	if len(plan.Degraded) != 1 || plan.Degraded[0] != "llm" {
		t.Errorf("Degraded = %v, want [llm]", plan.Degraded)
	}
}

func TestBuildExcludedSubtreeStaysOut(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/idea.md", "projectish idea\n")
	personal := filepath.Join(root, "02-Areas", "Personal")
	writePlanNote(t, root, "02-Areas/Personal/diary.md", "private archiveish\n")
	excluded := func(p string) bool {
		return p == personal || strings.HasPrefix(p, personal+string(filepath.Separator))
	}
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Projects, FolderName: "Idea Backlog", Reasoning: "new idea"}}
	p, st := newTestPlanner(t, root, excluded, cls)
	seedIndexed(t, st, vault.Projects, 5, axisProjects)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeAll}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Summary.NotesScanned != 1 {
		t.Errorf("NotesScanned = %d, want 1", plan.Summary.NotesScanned)
	}
	for _, a := range plan.Actions {
		if strings.Contains(a.FromPath, "Personal") || strings.Contains(a.ToPath, "Personal") {
			t.Errorf("excluded path leaked into the plan: %+v", a)
		}
	}
}

func TestExecuteModeNeedsConfiguredExclusions(t *testing.T) {
	root := newPlanVault(t)
	p, _ := newTestPlanner(t, root, nil, &fakeClassifier{res: &llm.Result{Category: vault.Projects, FolderName: "Anything Goes", Reasoning: "x"}})

	_, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeInbox}, Mode: ModeExecute})
	if fault.KindOf(err) != fault.KindPrecondition {
		t.Fatalf("kind = %v, want precondition", fault.KindOf(err))
	}

	plan, err := p.Build(context.Background(), Request{
		Scope:                Scope{Kind: ScopeInbox},
		Mode:                 ModeExecute,
		ExclusionsConfigured: true,
	})
	if err != nil {
		t.Fatalf("Build with configured exclusions: %v", err)
	}
	if !plan.Summary.BackupNeeded {
		t.Error("execute-mode plans always require a backup")
	}
}

func TestBuildHonorsMaxNotes(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/a-note.md", "projectish a\n")
	writePlanNote(t, root, "00-Inbox/b-note.md", "projectish b\n")
	writePlanNote(t, root, "00-Inbox/c-note.md", "projectish c\n")
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Projects, FolderName: "Alpha Work", Reasoning: "x"}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Projects, 5, axisProjects)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeInbox}, MaxNotes: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Summary.NotesScanned != 1 || plan.Summary.Capped != 2 {
		t.Errorf("Summary = %+v, want 1 scanned and 2 capped", plan.Summary)
	}
}

func TestSimulationIsIdempotent(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/first.md", "projectish first\n")
	writePlanNote(t, root, "00-Inbox/second.md", "resourceish second\n")
	cls := &fakeClassifier{byName: map[string]*llm.Result{
		"first":  {Category: vault.Projects, FolderName: "First Steps", Reasoning: "x"},
		"second": {Category: vault.Resources, FolderName: "Second Shelf", Reasoning: "x"},
	}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Projects, 3, axisProjects)
	seedIndexed(t, st, vault.Resources, 3, axisResources)

	ctx := context.Background()
	one, err := p.Build(ctx, Request{Scope: Scope{Kind: ScopeInbox}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	two, err := p.Build(ctx, Request{Scope: Scope{Kind: ScopeInbox}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if one.ID == two.ID {
		t.Error("plan ids should be unique per build")
	}
	if len(one.Actions) != len(two.Actions) {
		t.Fatalf("action counts differ: %d vs %d", len(one.Actions), len(two.Actions))
	}
	targets := func(p *Plan) map[string]string {
		m := map[string]string{}
		for _, a := range p.Actions {
			m[a.NoteID] = a.ToPath
		}
		return m
	}
	got, want := targets(two), targets(one)
	for id, to := range want {
		if got[id] != to {
			t.Errorf("action for %s changed: %q vs %q", id, got[id], to)
		}
	}
}

func TestFixNamesOnlyWhenAuthorized(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "01-Projects/Project Notes 3/x.md", "projectish plan\n")
	writePlanNote(t, root, "01-Projects/App/y.md", "projectish app\n")
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Projects, FolderName: "Stays Put", Reasoning: "x"}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Projects, 5, axisProjects)

	ctx := context.Background()
	plan, err := p.Build(ctx, Request{Scope: Scope{Kind: ScopeAll}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 0 {
		t.Fatalf("unauthorized build proposed %+v", plan.Actions)
	}

	plan, err = p.Build(ctx, Request{Scope: Scope{Kind: ScopeAll}, FixNames: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 1 {
		t.Fatalf("actions = %+v, want the one name fix", plan.Actions)
	}
	a := plan.Actions[0]
	if a.Method != MethodFixNames {
		t.Errorf("Method = %s", a.Method)
	}
	want := filepath.Join(root, "01-Projects", "Project Notes", "x.md")
	if a.ToPath != want {
		t.Errorf("ToPath = %q, want %q", a.ToPath, want)
	}
	if a.Decision != nil {
		t.Error("name fixes carry no classification decision")
	}
}

func TestConsolidationMergesSiblingFolders(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "04-Archive/Meeting Notes/a.md", "archiveish a\n")
	writePlanNote(t, root, "04-Archive/Meeting Notes/b.md", "archiveish b\n")
	writePlanNote(t, root, "04-Archive/Meeting Notes/c.md", "archiveish c\n")
	writePlanNote(t, root, "04-Archive/Meeting Notes 2/d.md", "archiveish d\n")
	writePlanNote(t, root, "04-Archive/Meeting Notes Related/e.md", "archiveish e\n")
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Archive, FolderName: "Meeting Notes", Reasoning: "keep"}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Archive, 5, axisArchive)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopeArchive}, Consolidate: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Actions) != 2 {
		t.Fatalf("actions = %+v, want 2 consolidation moves", plan.Actions)
	}
	targetDir := filepath.Join(root, "04-Archive", "Meeting Notes")
	for _, a := range plan.Actions {
		if a.Method != MethodConsolidation {
			t.Errorf("Method = %s", a.Method)
		}
		if filepath.Dir(a.ToPath) != targetDir {
			t.Errorf("ToPath = %q, want under %q", a.ToPath, targetDir)
		}
	}
	if plan.Actions[0].NoteID != "04-Archive/Meeting Notes 2/d.md" {
		t.Errorf("first consolidation move = %s", plan.Actions[0].NoteID)
	}
	wantCleanup := []string{
		filepath.Join(root, "04-Archive", "Meeting Notes 2"),
		filepath.Join(root, "04-Archive", "Meeting Notes Related"),
	}
	if len(plan.CleanupDirs) != 2 || plan.CleanupDirs[0] != wantCleanup[0] || plan.CleanupDirs[1] != wantCleanup[1] {
		t.Errorf("CleanupDirs = %v, want %v", plan.CleanupDirs, wantCleanup)
	}
	if plan.Summary.Risk != RiskLow {
		t.Errorf("Risk = %s, want low for mechanical moves", plan.Summary.Risk)
	}
}

func TestPathScopeLimitsNotes(t *testing.T) {
	root := newPlanVault(t)
	writePlanNote(t, root, "00-Inbox/loose.md", "projectish loose\n")
	writePlanNote(t, root, "02-Areas/Health/habits.md", "areaish habits\n")
	cls := &fakeClassifier{res: &llm.Result{Category: vault.Areas, FolderName: "Health Habits", Reasoning: "x"}}
	p, st := newTestPlanner(t, root, nil, cls)
	seedIndexed(t, st, vault.Areas, 5, axisAreas)

	plan, err := p.Build(context.Background(), Request{Scope: Scope{Kind: ScopePath, Path: "02-Areas/Health"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Summary.NotesScanned != 1 {
		t.Errorf("NotesScanned = %d, want 1", plan.Summary.NotesScanned)
	}
	if plan.Summary.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1 (areaish note already filed)", plan.Summary.Unchanged)
	}
}

func TestParseScope(t *testing.T) {
	cases := []struct {
		in   string
		kind ScopeKind
		path string
		ok   bool
	}{
		{"inbox", ScopeInbox, "", true},
		{"archive", ScopeArchive, "", true},
		{"all", ScopeAll, "", true},
		{"path:02-Areas/Health", ScopePath, "02-Areas/Health", true},
		{"path:", "", "", false},
		{"bogus", "", "", false},
	}
	for _, tc := range cases {
		got, err := ParseScope(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseScope(%q) err = %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if fault.KindOf(err) != fault.KindPrecondition {
				t.Errorf("ParseScope(%q) kind = %v", tc.in, fault.KindOf(err))
			}
			continue
		}
		if got.Kind != tc.kind || got.Path != tc.path {
			t.Errorf("ParseScope(%q) = %+v", tc.in, got)
		}
		if tc.in != got.String() {
			t.Errorf("String() = %q, want %q", got.String(), tc.in)
		}
	}
}

func mkAction(method string, conf float64, from, to vault.Category) *Action {
	return &Action{Method: method, Confidence: conf, FromCategory: from, Category: to}
}

func TestRiskRating(t *testing.T) {
	consensus := string(fusion.MethodConsensus)
	fallback := string(fusion.MethodFallback)
	semantic := string(fusion.MethodSemanticWeighted)

	var high []*Action
	for i := 0; i < 6; i++ {
		high = append(high, mkAction(fallback, 0.2, vault.Inbox, vault.Archive))
	}
	for i := 0; i < 4; i++ {
		high = append(high, mkAction(consensus, 0.9, vault.Inbox, vault.Projects))
	}
	if got := riskOf(high); got != RiskHigh {
		t.Errorf("mostly-fallback plan risk = %s, want high", got)
	}

	var medium []*Action
	for i := 0; i < 3; i++ {
		medium = append(medium, mkAction(fallback, 0.2, vault.Inbox, vault.Archive))
	}
	for i := 0; i < 7; i++ {
		medium = append(medium, mkAction(consensus, 0.9, vault.Inbox, vault.Projects))
	}
	if got := riskOf(medium); got != RiskMedium {
		t.Errorf("risk = %s, want medium", got)
	}

	var low []*Action
	for i := 0; i < 10; i++ {
		low = append(low, mkAction(consensus, 0.9, vault.Inbox, vault.Projects))
	}
	if got := riskOf(low); got != RiskLow {
		t.Errorf("risk = %s, want low", got)
	}

	crossy := append([]*Action{}, low...)
	crossy[0] = mkAction(consensus, 0.9, vault.Areas, vault.Resources)
	crossy[1] = mkAction(semantic, 0.9, vault.Areas, vault.Resources)
	if got := riskOf(crossy); got != RiskMedium {
		t.Errorf("cross-category risk = %s, want medium", got)
	}

	if got := riskOf(nil); got != RiskLow {
		t.Errorf("empty plan risk = %s, want low", got)
	}
}

func TestConsolidationKey(t *testing.T) {
	cases := map[string]string{
		"Meeting Notes":         "meeting notes",
		"Meeting Notes 2":       "meeting notes",
		"Meeting Notes Related": "meeting notes",
		"Project  Related 2":    "project",
		"Notes_3":               "notes",
		"Ocean Research":        "ocean research",
	}
	for in, want := range cases {
		if got := consolidationKey(in); got != want {
			t.Errorf("consolidationKey(%q) = %q, want %q", in, got, want)
		}
	}
}
