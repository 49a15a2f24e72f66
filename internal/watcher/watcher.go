// Package watcher keeps the semantic index fresh while a vault is being
// edited: filesystem events are debounced into one incremental reindex,
// which the content-hash skip keeps cheap.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/indexer"
)

const defaultDebounce = 2 * time.Second

// Reindexer is the slice of the engine session a watcher drives.
type Reindexer interface {
	Reindex(ctx context.Context, force bool, progress indexer.ProgressFunc) (*indexer.Stats, error)
}

// Options configures a Watcher. Root and Index are required; a nil
// Excluded predicate watches the whole vault.
type Options struct {
	Root     string
	Excluded func(string) bool
	Index    Reindexer
	Debounce time.Duration
	Log      *zap.Logger
}

// Watcher debounces vault file events into incremental reindex runs.
type Watcher struct {
	root     string
	excluded func(string) bool
	index    Reindexer
	debounce time.Duration
	log      *zap.Logger
}

// New validates opts and returns a Watcher. Watching starts with Watch.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" || opts.Index == nil {
		return nil, fault.New(fault.KindPrecondition, "watcher needs a vault root and an index")
	}
	if opts.Excluded == nil {
		opts.Excluded = func(string) bool { return false }
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Watcher{
		root:     opts.Root,
		excluded: opts.Excluded,
		index:    opts.Index,
		debounce: opts.Debounce,
		log:      opts.Log,
	}, nil
}

// Watch blocks, reindexing after each quiet period that follows a burst of
// vault changes. It returns the context error on cancellation.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fault.Wrap(fault.KindPrecondition, err, "create filesystem watcher")
	}
	defer fsw.Close()

	dirs := w.watchableDirs()
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			w.log.Warn("cannot watch directory", zap.String("dir", d), zap.Error(err))
		}
	}
	w.log.Info("watching vault", zap.String("root", w.root), zap.Int("dirs", len(dirs)))

	// A single timer debounces bursts: every relevant event pushes the
	// flush out by the full window.
	var (
		timer  *time.Timer
		timerC <-chan time.Time
		events int
	)
	arm := func() {
		events++
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(event, fsw) {
				arm()
			}

		case <-timerC:
			timer, timerC = nil, nil
			w.log.Info("vault changed, reindexing", zap.Int("events", events))
			events = 0
			if _, err := w.index.Reindex(ctx, false, nil); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Warn("incremental reindex failed", zap.Error(err))
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// relevant reports whether an event should schedule a reindex, and adds
// watches for directories created under the vault.
func (w *Watcher) relevant(event fsnotify.Event, fsw *fsnotify.Watcher) bool {
	name := filepath.Base(event.Name)

	if strings.EqualFold(filepath.Ext(name), ".md") {
		if strings.HasPrefix(name, ".") || w.excluded(event.Name) {
			return false
		}
		// Writes, creations, renames, and removals all converge on the
		// same incremental pass: it re-hashes what exists and sweeps
		// rows whose files are gone.
		return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
			event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
	}

	// A new directory needs its own watch; its contents arrive without
	// events of their own, so the creation also schedules a pass.
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return false
		}
		if strings.HasPrefix(name, ".") || w.excluded(event.Name) {
			return false
		}
		if err := fsw.Add(event.Name); err != nil {
			w.log.Warn("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
		}
		return true
	}
	return false
}

// watchableDirs lists every directory under the root that is neither
// hidden nor excluded.
func (w *Watcher) watchableDirs() []string {
	var dirs []string
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if strings.HasPrefix(d.Name(), ".") || w.excluded(path) {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}
