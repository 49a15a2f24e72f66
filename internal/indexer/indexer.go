// Package indexer keeps the semantic index in step with the vault. A run
// lists the vault, skips notes whose content hash already matches their
// index row, embeds the rest through a small worker pool, and writes rows
// from a single collector goroutine. Notes that fail to embed are still
// written with their metadata and flagged, so a later run can fill the
// vector in without waiting for a full rebuild.
package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/embedding"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

const (
	defaultWorkers = 4

	// retryBatch bounds how many flagged rows one retry sweep reads at a time.
	retryBatch = 256

	// embedTripLimit is how many embed failures a run tolerates before it
	// stops calling the backend and indexes the rest as metadata only.
	embedTripLimit = 5
)

// Stats summarizes one reindex run.
type Stats struct {
	TotalNotes       int       `json:"total_notes"`
	Indexed          int       `json:"indexed"`
	SkippedUnchanged int       `json:"skipped_unchanged"`
	Removed          int       `json:"removed"`
	EmbedFailures    int       `json:"embed_failures"`
	Reembedded       int       `json:"reembedded"`
	Errors           int       `json:"errors"`
	NotesInIndex     int       `json:"notes_in_index"`
	Vectors          int       `json:"vectors"`
	At               time.Time `json:"at"`
}

// ProgressFunc reports progress after each processed note.
type ProgressFunc func(done, total int, path string)

// Options configures a reindex run. Reader and Index are required. A nil
// Embedder indexes metadata only; every row it writes stays flagged so a
// later run with a working backend fills the vectors in.
type Options struct {
	Reader   *vault.Reader
	Index    *store.Store
	Embedder embedding.Provider
	Force    bool
	Workers  int
	Progress ProgressFunc
	Log      *zap.Logger
}

// Reindex brings the index up to date with the vault and returns run
// statistics. Incremental by default: notes whose content hash matches
// their row are skipped, and rows whose files no longer exist on disk are
// removed. Force drops every row first and rebuilds from scratch.
func Reindex(ctx context.Context, opts Options) (*Stats, error) {
	if opts.Reader == nil || opts.Index == nil {
		return nil, fault.New(fault.KindPrecondition, "reindex needs a vault reader and an open index")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	stats := &Stats{At: time.Now().UTC()}

	known := make(map[string]string)
	if opts.Force {
		if err := opts.Index.DeleteAll(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if known, err = opts.Index.ContentHashes(); err != nil {
			return nil, err
		}
	}

	notes, err := opts.Reader.List(ctx, false)
	if err != nil {
		return nil, err
	}
	stats.TotalNotes = len(notes)

	type workItem struct {
		note *vault.Note
		hash string
	}
	seen := make(map[string]bool, len(notes))
	var work []workItem
	for _, n := range notes {
		seen[n.RelPath] = true
		hash := n.ContentHash()
		if !opts.Force && known[n.RelPath] == hash {
			stats.SkippedUnchanged++
			continue
		}
		work = append(work, workItem{note: n, hash: hash})
	}

	model := ""
	if opts.Embedder != nil {
		model = opts.Embedder.Model()
	}

	type embedResult struct {
		note      *vault.Note
		hash      string
		vec       []float32
		fromCache bool
		err       error
	}

	workCh := make(chan workItem, len(work))
	resultCh := make(chan embedResult, len(work))

	// Workers embed; they only read from the index (cache lookups). All
	// writes happen on the collector below. The trip counter stops a run
	// from hammering a dead backend once a handful of notes have failed.
	var embedErrs atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res := embedResult{note: w.note, hash: w.hash}
				if opts.Embedder != nil && ctx.Err() == nil && embedErrs.Load() < embedTripLimit {
					if cached, err := opts.Index.CachedEmbedding(w.hash, model); err == nil && cached != nil {
						res.vec, res.fromCache = cached, true
					} else if res.vec, res.err = opts.Embedder.Embed(ctx, embedding.NoteText(w.note), embedding.PurposeDocument); res.err != nil {
						if embedErrs.Add(1) == embedTripLimit {
							log.Warn("embedding backend keeps failing, indexing the rest as metadata only")
						}
					}
				}
				resultCh <- res
			}
		}()
	}

	for _, w := range work {
		workCh <- w
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for res := range resultCh {
		if ctx.Err() != nil {
			continue // drain so the workers can finish
		}
		vec := res.vec
		if res.err != nil {
			log.Warn("embed failed, indexing metadata only",
				zap.String("note", res.note.RelPath), zap.Error(res.err))
			stats.EmbedFailures++
			vec = nil
		}
		if err := opts.Index.Upsert(noteRow(res.note, res.hash), vec); err != nil {
			log.Warn("index write failed", zap.String("note", res.note.RelPath), zap.Error(err))
			stats.Errors++
			continue
		}
		if vec != nil && !res.fromCache {
			if err := opts.Index.PutCachedEmbedding(res.hash, model, vec); err != nil {
				log.Debug("embed cache write failed", zap.Error(err))
			}
		}
		stats.Indexed++
		if opts.Progress != nil {
			done := stats.Indexed + stats.SkippedUnchanged + stats.Errors
			opts.Progress(done, stats.TotalNotes, res.note.RelPath)
		}
	}

	if err := ctx.Err(); err != nil {
		fillTotals(opts.Index, stats)
		return stats, err
	}

	// Rows whose files are gone get dropped. A row is kept whenever the
	// file still exists, so pointing exclusions at an indexed subtree stops
	// updates without erasing what was already indexed.
	root := opts.Reader.Root()
	for id := range known {
		if seen[id] {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(id))); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := opts.Index.Delete(id); err != nil {
			log.Warn("remove vanished note", zap.String("note", id), zap.Error(err))
			stats.Errors++
			continue
		}
		stats.Removed++
	}

	if opts.Embedder != nil && embedErrs.Load() < embedTripLimit {
		if err := retryPending(ctx, opts, model, stats, log); err != nil {
			fillTotals(opts.Index, stats)
			return stats, err
		}
	}

	fillTotals(opts.Index, stats)
	log.Info("reindex complete",
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.SkippedUnchanged),
		zap.Int("removed", stats.Removed),
		zap.Int("embed_failures", stats.EmbedFailures),
		zap.Int("reembedded", stats.Reembedded))
	return stats, nil
}

// retryPending re-embeds rows that were written without a vector. Rows
// whose files vanished or now sit under an excluded subtree stay flagged.
// A sweep that makes no progress ends the loop, so rows that keep failing
// cannot spin it forever.
func retryPending(ctx context.Context, opts Options, model string, stats *Stats, log *zap.Logger) error {
	root := opts.Reader.Root()
	failures := 0
	for {
		rows, err := opts.Index.NeedingEmbed(retryBatch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		progressed := false
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			abs := filepath.Join(root, filepath.FromSlash(row.ID))
			if opts.Reader.Excluded(abs) {
				continue
			}
			n, err := opts.Reader.ReadNote(abs)
			if err != nil {
				continue
			}
			// Re-hash and upsert the whole row: the file may have changed
			// since the flagged row was written.
			hash := n.ContentHash()
			vec, err := opts.Index.CachedEmbedding(hash, model)
			if err != nil || vec == nil {
				if vec, err = opts.Embedder.Embed(ctx, embedding.NoteText(n), embedding.PurposeDocument); err != nil {
					log.Warn("embed retry failed", zap.String("note", row.ID), zap.Error(err))
					failures++
					if failures >= embedTripLimit {
						log.Warn("embedding backend keeps failing, leaving remaining rows flagged")
						return nil
					}
					continue
				}
				if err := opts.Index.PutCachedEmbedding(hash, model, vec); err != nil {
					log.Debug("embed cache write failed", zap.Error(err))
				}
			}
			if err := opts.Index.Upsert(noteRow(n, hash), vec); err != nil {
				log.Warn("index write failed", zap.String("note", row.ID), zap.Error(err))
				stats.Errors++
				continue
			}
			stats.Reembedded++
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// noteRow maps a parsed note onto its index row. Rows are keyed by the
// vault-relative path so neighbors and decisions survive process restarts.
func noteRow(n *vault.Note, hash string) store.Note {
	return store.Note{
		ID:          n.RelPath,
		Path:        n.Path,
		Title:       n.Title(),
		Category:    n.Category,
		FolderName:  n.Folder,
		ContentHash: hash,
		WordCount:   n.WordCount,
		Tags:        n.Tags,
	}
}

func fillTotals(idx *store.Store, stats *Stats) {
	if n, err := idx.Count(); err == nil {
		stats.NotesInIndex = n
	}
	if n, err := idx.VectorCount(); err == nil {
		stats.Vectors = n
	}
}
