package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parakeet-labs/parakeet/internal/indexer"
)

type fakeReindexer struct {
	calls chan struct{}
}

func (f *fakeReindexer) Reindex(ctx context.Context, force bool, progress indexer.ProgressFunc) (*indexer.Stats, error) {
	f.calls <- struct{}{}
	return &indexer.Stats{}, nil
}

func TestWatchableDirsSkipsHiddenAndExcluded(t *testing.T) {
	root := t.TempDir()

	mkdirAll(t, filepath.Join(root, "01-Projects", "Launch"))
	mkdirAll(t, filepath.Join(root, "Journal"))
	mkdirAll(t, filepath.Join(root, ".git"))
	mkdirAll(t, filepath.Join(root, ".parakeet"))

	w, err := New(Options{
		Root:     root,
		Index:    &fakeReindexer{calls: make(chan struct{}, 1)},
		Excluded: func(p string) bool { return strings.Contains(p, "Journal") },
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	relSet := make(map[string]bool)
	for _, d := range w.watchableDirs() {
		rel, err := filepath.Rel(root, d)
		if err != nil {
			t.Fatalf("rel path: %v", err)
		}
		relSet[filepath.ToSlash(rel)] = true
	}

	if !relSet["."] {
		t.Fatalf("expected vault root in watched dirs")
	}
	if !relSet["01-Projects"] || !relSet["01-Projects/Launch"] {
		t.Fatalf("expected project dirs to be watched, got: %#v", relSet)
	}
	for _, skipped := range []string{"Journal", ".git", ".parakeet"} {
		if relSet[skipped] {
			t.Fatalf("expected %s to be skipped, got: %#v", skipped, relSet)
		}
	}
}

func TestRelevantFiltersEvents(t *testing.T) {
	root := t.TempDir()
	newDir := filepath.Join(root, "02-Areas")
	mkdirAll(t, newDir)
	hiddenDir := filepath.Join(root, ".trash")
	mkdirAll(t, hiddenDir)

	w, err := New(Options{
		Root:     root,
		Index:    &fakeReindexer{calls: make(chan struct{}, 1)},
		Excluded: func(p string) bool { return strings.Contains(p, "Journal") },
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("fsnotify: %v", err)
	}
	defer fsw.Close()

	cases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"markdown write", fsnotify.Event{Name: filepath.Join(root, "note.md"), Op: fsnotify.Write}, true},
		{"markdown remove", fsnotify.Event{Name: filepath.Join(root, "note.md"), Op: fsnotify.Remove}, true},
		{"markdown rename", fsnotify.Event{Name: filepath.Join(root, "note.md"), Op: fsnotify.Rename}, true},
		{"markdown chmod only", fsnotify.Event{Name: filepath.Join(root, "note.md"), Op: fsnotify.Chmod}, false},
		{"excluded markdown", fsnotify.Event{Name: filepath.Join(root, "Journal", "day.md"), Op: fsnotify.Write}, false},
		{"hidden markdown", fsnotify.Event{Name: filepath.Join(root, ".draft.md"), Op: fsnotify.Write}, false},
		{"non markdown", fsnotify.Event{Name: filepath.Join(root, "photo.png"), Op: fsnotify.Write}, false},
		{"new directory", fsnotify.Event{Name: newDir, Op: fsnotify.Create}, true},
		{"new hidden directory", fsnotify.Event{Name: hiddenDir, Op: fsnotify.Create}, false},
	}
	for _, tc := range cases {
		if got := w.relevant(tc.event, fsw); got != tc.want {
			t.Errorf("%s: relevant = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWatchDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	mkdirAll(t, filepath.Join(root, "00-Inbox"))

	fake := &fakeReindexer{calls: make(chan struct{}, 8)}
	w, err := New(Options{Root: root, Index: fake, Debounce: 250 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		writeFile(t, filepath.Join(root, "00-Inbox", name))
	}

	awaitReindex(t, fake.calls, 2*time.Second)
	expectQuiet(t, fake.calls, 600*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestWatchPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()

	fake := &fakeReindexer{calls: make(chan struct{}, 8)}
	w, err := New(Options{Root: root, Index: fake, Debounce: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// The directory creation both schedules a pass and registers a watch.
	projectDir := filepath.Join(root, "01-Projects")
	mkdirAll(t, projectDir)
	awaitReindex(t, fake.calls, 2*time.Second)

	// A write inside it is only seen if that watch took hold.
	writeFile(t, filepath.Join(projectDir, "plan.md"))
	awaitReindex(t, fake.calls, 2*time.Second)

	cancel()
	<-done
}

func TestWatchIgnoresExcludedSubtree(t *testing.T) {
	root := t.TempDir()
	journal := filepath.Join(root, "Journal")
	mkdirAll(t, journal)

	fake := &fakeReindexer{calls: make(chan struct{}, 8)}
	w, err := New(Options{
		Root:     root,
		Index:    fake,
		Debounce: 100 * time.Millisecond,
		Excluded: func(p string) bool { return strings.Contains(p, "Journal") },
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(journal, "today.md"))
	expectQuiet(t, fake.calls, 500*time.Millisecond)

	cancel()
	<-done
}

func awaitReindex(t *testing.T, calls <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(within):
		t.Fatalf("no reindex within %v", within)
	}
}

func expectQuiet(t *testing.T, calls <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-calls:
		t.Fatal("unexpected reindex")
	case <-time.After(within):
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("# Note\n\nbody\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
