// Package exclusion maintains the persistent registry of subtree paths the
// engine must never read, move, or rename.
package exclusion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

// FileName is the registry document inside the app directory.
const FileName = "exclusions.json"

// Entry is one excluded subtree. Path is absolute with symlinks resolved.
type Entry struct {
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
	Reason  string    `json:"reason,omitempty"`
}

type document struct {
	Exclusions []Entry `json:"exclusions"`
}

// Registry is the in-process view of the exclusion set. Reads are lock-free
// for concurrent planning; updates take a short write lock and persist the
// JSON document before returning.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
	fold    bool
	log     *zap.Logger
}

// Open loads the registry document from dir (creating an empty registry when
// the file does not exist) and merges any config-declared paths into it.
// Config paths are persisted so list/remove see one consistent set.
func Open(dir string, configured []string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path: filepath.Join(dir, FileName),
		fold: caseInsensitiveFS(),
		log:  logger,
	}
	data, err := os.ReadFile(r.path)
	if err == nil {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fault.Wrapf(fault.KindIntegrity, err, "corrupt exclusion registry %s", r.path)
		}
		r.entries = doc.Exclusions
	} else if !os.IsNotExist(err) {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "read exclusion registry %s", r.path)
	}

	added := 0
	for _, p := range configured {
		norm, err := normalize(p)
		if err != nil {
			logger.Warn("skipping unresolvable exclusion from config", zap.String("path", p), zap.Error(err))
			continue
		}
		if r.indexOf(norm) >= 0 {
			continue
		}
		r.entries = append(r.entries, Entry{Path: norm, AddedAt: time.Now().UTC(), Reason: "parakeet.json"})
		added++
	}
	if added > 0 {
		if err := r.persist(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers an absolute subtree path. Adding an already-present path is
// a no-op. The registry file is written before Add returns.
func (r *Registry) Add(path, reason string) error {
	norm, err := normalize(path)
	if err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "resolve exclusion %s", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(norm) >= 0 {
		return nil
	}
	r.entries = append(r.entries, Entry{Path: norm, AddedAt: time.Now().UTC(), Reason: reason})
	return r.persist()
}

// Remove deletes the entry whose path matches exactly (after normalization).
// Removing an absent path is a no-op.
func (r *Registry) Remove(path string) error {
	norm, err := normalize(path)
	if err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "resolve exclusion %s", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(norm)
	if i < 0 {
		return nil
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return r.persist()
}

// Clear empties the registry.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	return r.persist()
}

// List returns the entries sorted by path.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Contains reports whether path equals or descends from any entry.
func (r *Registry) Contains(path string) bool {
	norm, err := normalize(path)
	if err != nil {
		// Unresolvable paths are treated as excluded rather than risk
		// touching something the user asked us to leave alone.
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if r.covers(e.Path, norm) {
			return true
		}
	}
	return false
}

// Check returns a precondition error when path is excluded. Components that
// open or move files call this before acting; a hit indicates a planner bug
// upstream, and the action must not proceed.
func (r *Registry) Check(path string) error {
	if r.Contains(path) {
		return fault.Newf(fault.KindPrecondition, "path is excluded: %s", path).
			WithHint("remove it with 'parakeet exclusions remove' to let the engine touch it")
	}
	return nil
}

func (r *Registry) indexOf(norm string) int {
	for i, e := range r.entries {
		if r.equal(e.Path, norm) {
			return i
		}
	}
	return -1
}

func (r *Registry) equal(a, b string) bool {
	if r.fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (r *Registry) covers(entry, path string) bool {
	if r.equal(entry, path) {
		return true
	}
	prefix := entry + string(filepath.Separator)
	if r.fold {
		return len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix)
	}
	return strings.HasPrefix(path, prefix)
}

func (r *Registry) persist() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "create %s", filepath.Dir(r.path))
	}
	doc := document{Exclusions: r.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "encode exclusion registry")
	}
	data = append(data, '\n')
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "write %s", r.path)
	}
	return nil
}

// normalize makes the path absolute and resolves symlinks so that a link
// cannot smuggle an excluded subtree past prefix matching.
func normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return resolveBestEffort(filepath.Clean(abs)), nil
}

// resolveBestEffort resolves symlinks on the deepest existing ancestor so
// paths that do not exist yet still compare consistently with resolved
// entries (e.g., /tmp vs /private/tmp on macOS).
func resolveBestEffort(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path
	}
	return filepath.Join(resolveBestEffort(dir), filepath.Base(path))
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}
