package exclusion

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

func openRegistry(t *testing.T, dir string, configured ...string) *Registry {
	t.Helper()
	r, err := Open(dir, configured, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func mkdir(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAddContains(t *testing.T) {
	vault := t.TempDir()
	personal := mkdir(t, filepath.Join(vault, "02-Areas", "Personal"))
	mkdir(t, filepath.Join(personal, "journal"))
	sibling := mkdir(t, filepath.Join(vault, "02-Areas", "Personality"))

	r := openRegistry(t, t.TempDir())
	if err := r.Add(personal, "private"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !r.Contains(personal) {
		t.Error("entry itself should be excluded")
	}
	if !r.Contains(filepath.Join(personal, "diary.md")) {
		t.Error("direct child should be excluded")
	}
	if !r.Contains(filepath.Join(personal, "journal", "2024.md")) {
		t.Error("nested descendant should be excluded")
	}
	if r.Contains(sibling) {
		t.Error("sibling sharing a name prefix must not be excluded")
	}
	if r.Contains(vault) {
		t.Error("parent of an entry must not be excluded")
	}
}

func TestAddIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := mkdir(t, filepath.Join(t.TempDir(), "x"))
	r := openRegistry(t, dir)
	if err := r.Add(target, "a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(target, "b"); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d after duplicate add", r.Len())
	}
}

func TestRemoveAndClear(t *testing.T) {
	dir := t.TempDir()
	a := mkdir(t, filepath.Join(t.TempDir(), "a"))
	b := mkdir(t, filepath.Join(t.TempDir(), "b"))

	r := openRegistry(t, dir)
	if err := r.Add(a, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(b, ""); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove(a); err != nil {
		t.Fatal(err)
	}
	if r.Contains(a) {
		t.Error("removed entry should not match")
	}
	if !r.Contains(b) {
		t.Error("other entries should survive a remove")
	}
	if err := r.Remove(a); err != nil {
		t.Errorf("removing an absent path should be a no-op: %v", err)
	}

	if err := r.Clear(); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after clear", r.Len())
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	target := mkdir(t, filepath.Join(t.TempDir(), "keep-out"))

	r := openRegistry(t, dir)
	if err := r.Add(target, "sensitive"); err != nil {
		t.Fatal(err)
	}

	reopened := openRegistry(t, dir)
	if reopened.Len() != 1 {
		t.Fatalf("reopened Len = %d", reopened.Len())
	}
	entries := reopened.List()
	if entries[0].Reason != "sensitive" {
		t.Errorf("reason = %q", entries[0].Reason)
	}
	if entries[0].AddedAt.IsZero() {
		t.Error("added_at should persist")
	}
	if !reopened.Contains(filepath.Join(target, "x.md")) {
		t.Error("reopened registry should still match descendants")
	}
}

func TestConfigSeeding(t *testing.T) {
	dir := t.TempDir()
	seeded := mkdir(t, filepath.Join(t.TempDir(), "seeded"))

	r := openRegistry(t, dir, seeded)
	if !r.Contains(seeded) {
		t.Fatal("config path should be excluded")
	}

	// Seeded entries persist: a later open without config still has them.
	reopened := openRegistry(t, dir)
	if !reopened.Contains(seeded) {
		t.Error("seeded entry should survive reopen")
	}
	if reopened.List()[0].Reason != "parakeet.json" {
		t.Errorf("seed reason = %q", reopened.List()[0].Reason)
	}

	// Seeding again must not duplicate.
	again := openRegistry(t, dir, seeded)
	if again.Len() != 1 {
		t.Errorf("Len = %d after re-seed", again.Len())
	}
}

func TestCheck(t *testing.T) {
	target := mkdir(t, filepath.Join(t.TempDir(), "locked"))
	r := openRegistry(t, t.TempDir())
	if err := r.Add(target, ""); err != nil {
		t.Fatal(err)
	}

	err := r.Check(filepath.Join(target, "note.md"))
	if err == nil {
		t.Fatal("Check should fail for excluded path")
	}
	if fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("kind = %v", fault.KindOf(err))
	}
	if r.Check(t.TempDir()) != nil {
		t.Error("Check should pass for unrelated path")
	}
}

func TestCorruptRegistry(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(dir, nil, zap.NewNop())
	if err == nil {
		t.Fatal("corrupt registry should fail to open")
	}
	if fault.KindOf(err) != fault.KindIntegrity {
		t.Errorf("kind = %v", fault.KindOf(err))
	}
}

func TestListSorted(t *testing.T) {
	base := t.TempDir()
	r := openRegistry(t, t.TempDir())
	for _, name := range []string{"zebra", "alpha", "mid"} {
		if err := r.Add(mkdir(t, filepath.Join(base, name)), ""); err != nil {
			t.Fatal(err)
		}
	}
	entries := r.List()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Path > entries[i].Path {
			t.Fatalf("List not sorted: %v", entries)
		}
	}
}
