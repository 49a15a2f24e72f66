package snapshot

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

var paraFolders = []string{"00-Inbox", "01-Projects", "02-Areas", "03-Resources", "04-Archive"}

func newTestVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range paraFolders {
		if err := os.MkdirAll(filepath.Join(root, f), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func writeNote(t *testing.T, root, rel, content string) string {
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

func excludeSubtree(root string) func(string) bool {
	prefix := root + string(filepath.Separator)
	return func(p string) bool {
		return p == root || strings.HasPrefix(p, prefix)
	}
}

// visibleTree maps each non-hidden file under root to its content.
func visibleTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return out
}

func TestCreateCopiesTreeAndManifest(t *testing.T) {
	vault := newTestVault(t)
	writeNote(t, vault, "00-Inbox/a.md", "alpha")
	writeNote(t, vault, "01-Projects/App/b.md", "beta")
	writeNote(t, vault, "02-Areas/Personal/diary.md", "secret")
	writeNote(t, vault, ".parakeet/index/cache.txt", "junk")
	if err := os.MkdirAll(filepath.Join(vault, "03-Resources", "Reading"), 0o755); err != nil {
		t.Fatal(err)
	}

	excluded := excludeSubtree(filepath.Join(vault, "02-Areas", "Personal"))
	st := NewStore(vault, t.TempDir(), excluded, zap.NewNop())

	man, err := st.Create(context.Background(), "inbox sweep")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if man.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", man.FileCount)
	}
	if want := int64(len("alpha") + len("beta")); man.SizeBytes != want {
		t.Errorf("SizeBytes = %d, want %d", man.SizeBytes, want)
	}
	if man.SourceVaultPath != vault {
		t.Errorf("SourceVaultPath = %q, want %q", man.SourceVaultPath, vault)
	}
	if man.Reason != "inbox sweep" {
		t.Errorf("Reason = %q", man.Reason)
	}
	if !strings.HasSuffix(man.ID, "_inbox-sweep") {
		t.Errorf("ID = %q, want suffix _inbox-sweep", man.ID)
	}
	if len(man.ID) != len("20060102-150405_inbox-sweep") {
		t.Errorf("ID = %q has unexpected shape", man.ID)
	}

	snap := filepath.Join(st.Dir(), man.ID)
	got := visibleTree(t, snap)
	delete(got, ManifestName)
	want := map[string]string{
		"00-Inbox/a.md":        "alpha",
		"01-Projects/App/b.md": "beta",
	}
	if len(got) != len(want) {
		t.Fatalf("copied tree = %v, want %v", got, want)
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("%s = %q, want %q", rel, got[rel], content)
		}
	}
	if fi, err := os.Stat(filepath.Join(snap, "03-Resources", "Reading")); err != nil || !fi.IsDir() {
		t.Errorf("empty directory was not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snap, ".parakeet")); !os.IsNotExist(err) {
		t.Error("hidden directory must not be copied")
	}
	if _, err := os.Stat(filepath.Join(snap, "02-Areas", "Personal")); !os.IsNotExist(err) {
		t.Error("excluded subtree must not be copied")
	}
}

func TestCreateCancelled(t *testing.T) {
	vault := newTestVault(t)
	writeNote(t, vault, "00-Inbox/a.md", "alpha")
	dir := t.TempDir()
	st := NewStore(vault, dir, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Create(ctx, "inbox"); fault.KindOf(err) != fault.KindCancelled {
		t.Fatalf("kind = %v, want cancelled", fault.KindOf(err))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("partial snapshot left behind: %v", entries)
	}
}

func TestCreateDuplicateReasonDistinctIDs(t *testing.T) {
	vault := newTestVault(t)
	writeNote(t, vault, "00-Inbox/a.md", "alpha")
	st := NewStore(vault, t.TempDir(), nil, zap.NewNop())
	ctx := context.Background()

	first, err := st.Create(ctx, "inbox")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := st.Create(ctx, "inbox")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("duplicate snapshot id %q", first.ID)
	}

	list, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d manifests, want 2", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("List[0].ID = %q, want newest %q", list[0].ID, second.ID)
	}
}

func TestListSkipsBrokenSnapshots(t *testing.T) {
	vault := newTestVault(t)
	writeNote(t, vault, "00-Inbox/a.md", "alpha")
	dir := t.TempDir()
	st := NewStore(vault, dir, nil, zap.NewNop())
	if _, err := st.Create(context.Background(), "good"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	corrupt := filepath.Join(dir, "20000101-000000_corrupt")
	if err := os.MkdirAll(corrupt, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, ManifestName), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	incomplete := filepath.Join(dir, "20000101-000001_partial")
	if err := os.MkdirAll(incomplete, 0o755); err != nil {
		t.Fatal(err)
	}

	list, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Reason != "good" {
		t.Fatalf("List = %+v, want the one good snapshot", list)
	}

	if _, err := st.Restore(context.Background(), "20000101-000001_partial"); fault.KindOf(err) != fault.KindIntegrity {
		t.Errorf("restoring an incomplete snapshot: kind = %v, want integrity", fault.KindOf(err))
	}
}

func TestListMissingDirectory(t *testing.T) {
	st := NewStore(newTestVault(t), filepath.Join(t.TempDir(), "missing"), nil, zap.NewNop())
	list, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List = %v, want empty", list)
	}
}

func TestRestoreRevertsExecutedPlan(t *testing.T) {
	vault := newTestVault(t)
	writeNote(t, vault, "00-Inbox/note.md", "original")
	writeNote(t, vault, "01-Projects/Keep/k.md", "keep")
	excluded := excludeSubtree(filepath.Join(vault, "02-Areas", "Personal"))
	st := NewStore(vault, t.TempDir(), excluded, zap.NewNop())
	ctx := context.Background()

	before := visibleTree(t, vault)
	man, err := st.Create(ctx, "all")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate an applied plan: move a note, edit one in place, add
	// files after the snapshot.
	moved := filepath.Join(vault, "01-Projects", "Drafts", "note.md")
	if err := os.MkdirAll(filepath.Dir(moved), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(vault, "00-Inbox", "note.md"), moved); err != nil {
		t.Fatal(err)
	}
	writeNote(t, vault, "01-Projects/Keep/k.md", "changed")
	writeNote(t, vault, "03-Resources/new.md", "added after snapshot")
	writeNote(t, vault, "02-Areas/Personal/diary.md", "untouchable")

	report, err := st.Restore(ctx, man.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	after := visibleTree(t, vault)
	delete(after, "02-Areas/Personal/diary.md")
	if len(after) != len(before) {
		t.Fatalf("restored tree = %v, want %v", after, before)
	}
	for rel, content := range before {
		if after[rel] != content {
			t.Errorf("%s = %q, want %q", rel, after[rel], content)
		}
	}
	if _, err := os.Stat(filepath.Join(vault, "01-Projects", "Drafts")); !os.IsNotExist(err) {
		t.Error("emptied plan directory should be removed")
	}
	if _, err := os.Stat(filepath.Join(vault, "02-Areas", "Personal", "diary.md")); err != nil {
		t.Error("excluded path must survive the restore untouched")
	}
	if report.FilesRestored != 2 {
		t.Errorf("FilesRestored = %d, want 2", report.FilesRestored)
	}
	if report.FilesRemoved != 2 {
		t.Errorf("FilesRemoved = %d, want 2", report.FilesRemoved)
	}
}

func TestRestoreRejectsBadIDs(t *testing.T) {
	st := NewStore(newTestVault(t), t.TempDir(), nil, zap.NewNop())
	for _, id := range []string{"", "..", "never-created", "a/b"} {
		_, err := st.Restore(context.Background(), id)
		if fault.KindOf(err) != fault.KindPrecondition {
			t.Errorf("Restore(%q) kind = %v, want precondition", id, fault.KindOf(err))
		}
	}
}
