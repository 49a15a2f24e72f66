// Package snapshot takes content-preserving copies of the vault tree and
// restores them by id. The executor creates one snapshot before the first
// move of every applied plan; restore copies the tree back and removes
// whatever the plan left behind, so the vault ends byte-equal to the
// pre-plan state for non-excluded paths. Hidden entries and excluded
// subtrees stay out of snapshots and are never touched by restore.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

// ManifestName is the metadata document inside each snapshot directory.
const ManifestName = "manifest.json"

const idTimeLayout = "20060102-150405"

// Manifest describes one snapshot. It sits next to the copied tree under
// <snapshot dir>/<id>/ and is written last, so a directory without one is
// an incomplete snapshot.
type Manifest struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Reason          string    `json:"reason"`
	FileCount       int       `json:"file_count"`
	SizeBytes       int64     `json:"size_bytes"`
	SourceVaultPath string    `json:"source_vault_path"`
}

// RestoreReport summarizes what a restore changed.
type RestoreReport struct {
	ID            string `json:"id"`
	FilesRestored int    `json:"files_restored"`
	FilesRemoved  int    `json:"files_removed"`
	BytesRestored int64  `json:"bytes_restored"`
}

// Store copies the vault under dir, one subdirectory per snapshot id.
// The excluded predicate comes from the exclusion registry; it keeps
// excluded subtrees out of snapshots and shields them from restore.
type Store struct {
	vaultRoot string
	dir       string
	excluded  func(string) bool
	now       func() time.Time
	log       *zap.Logger
}

// NewStore returns a Store snapshotting vaultRoot into dir. excluded may be
// nil (nothing excluded); logger may be nil.
func NewStore(vaultRoot, dir string, excluded func(string) bool, logger *zap.Logger) *Store {
	if abs, err := filepath.Abs(vaultRoot); err == nil {
		vaultRoot = abs
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{vaultRoot: vaultRoot, dir: dir, excluded: excluded, now: time.Now, log: logger}
}

// Dir returns the directory snapshots are stored under.
func (s *Store) Dir() string { return s.dir }

// Create copies the vault tree (directories included, so empty folders
// survive a restore) into a fresh snapshot directory and writes the
// manifest. It blocks on file I/O with no timeout but honors ctx between
// entries. On failure the partial snapshot directory is removed.
func (s *Store) Create(ctx context.Context, reason string) (*Manifest, error) {
	info, err := os.Stat(s.vaultRoot)
	if err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "vault %s", s.vaultRoot)
	}
	if !info.IsDir() {
		return nil, fault.Newf(fault.KindPrecondition, "vault %s is not a directory", s.vaultRoot)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "create snapshot directory %s", s.dir)
	}
	id, dest, err := s.claimID(reason)
	if err != nil {
		return nil, err
	}

	done := false
	defer func() {
		if !done {
			if err := os.RemoveAll(dest); err != nil {
				s.log.Warn("could not clean up partial snapshot", zap.String("id", id), zap.Error(err))
			}
		}
	}()

	fileCount := 0
	var sizeBytes int64
	err = filepath.WalkDir(s.vaultRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == s.vaultRoot {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.vaultRoot, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			// A non-hidden snapshot dir inside the vault must not
			// recurse into itself.
			if samePath(path, s.dir) {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dest, rel), 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		n, err := copyFile(path, target, fi.Mode().Perm())
		if err != nil {
			return fmt.Errorf("copy %s: %w", path, err)
		}
		fileCount++
		sizeBytes += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}

	man := &Manifest{
		ID:              id,
		CreatedAt:       s.now().UTC(),
		Reason:          reason,
		FileCount:       fileCount,
		SizeBytes:       sizeBytes,
		SourceVaultPath: s.vaultRoot,
	}
	if err := writeManifest(dest, man); err != nil {
		return nil, err
	}
	done = true
	s.log.Info("snapshot created",
		zap.String("id", id),
		zap.Int("files", fileCount),
		zap.Int64("bytes", sizeBytes))
	return man, nil
}

// List returns the manifests of every complete snapshot, newest first.
// A missing snapshot directory is an empty list; directories with a
// missing or corrupt manifest are warned about and skipped.
func (s *Store) List() ([]Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "read snapshot directory %s", s.dir)
	}
	var out []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		man, err := s.Manifest(e.Name())
		if err != nil {
			s.log.Warn("skipping unreadable snapshot", zap.String("id", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, *man)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Manifest loads the manifest for id.
func (s *Store) Manifest(id string) (*Manifest, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, id, ManifestName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(filepath.Join(s.dir, id)); statErr != nil {
			return nil, fault.Newf(fault.KindPrecondition, "no snapshot %s", id).
				WithHint("list available snapshots with: parakeet snapshot list")
		}
		return nil, fault.Newf(fault.KindIntegrity, "snapshot %s has no manifest; it may be incomplete", id)
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "read snapshot manifest %s", path)
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fault.Wrapf(fault.KindIntegrity, err, "corrupt snapshot manifest %s", path)
	}
	return &man, nil
}

// Restore copies the snapshot tree back to its recorded source vault path
// and removes files and emptied directories the snapshot does not contain.
// Hidden entries and excluded subtrees are left alone in both directions,
// and a directory is never removed while anything remains inside it.
func (s *Store) Restore(ctx context.Context, id string) (*RestoreReport, error) {
	man, err := s.Manifest(id)
	if err != nil {
		return nil, err
	}
	src := filepath.Join(s.dir, id)
	root := man.SourceVaultPath
	if root == "" {
		root = s.vaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "restore target %s", root)
	}

	files, dirs, err := snapshotTree(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	staleFiles, staleDirs, err := s.stalePaths(ctx, root, files, dirs)
	if err != nil {
		return nil, err
	}

	report := &RestoreReport{ID: id}
	for _, p := range staleFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := os.Remove(p); err != nil {
			return nil, fmt.Errorf("remove %s: %w", p, err)
		}
		report.FilesRemoved++
	}
	// Children sort after parents lexically, so reverse order empties a
	// directory before its parent is attempted. Removal of a directory
	// that still has content fails and the directory stays.
	sort.Sort(sort.Reverse(sort.StringSlice(staleDirs)))
	for _, p := range staleDirs {
		_ = os.Remove(p)
	}

	dirList := make([]string, 0, len(dirs))
	for rel := range dirs {
		dirList = append(dirList, rel)
	}
	sort.Strings(dirList)
	for _, rel := range dirList {
		if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
			return nil, fmt.Errorf("restore dir %s: %w", rel, err)
		}
	}

	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("restore dir for %s: %w", rel, err)
		}
		n, err := copyFile(filepath.Join(src, rel), target, files[rel])
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", rel, err)
		}
		report.FilesRestored++
		report.BytesRestored += n
	}

	s.log.Info("snapshot restored",
		zap.String("id", id),
		zap.Int("files", report.FilesRestored),
		zap.Int("removed", report.FilesRemoved))
	return report, nil
}

// snapshotTree collects the snapshot's file set (rel path to permission)
// and directory set, skipping the manifest itself.
func snapshotTree(ctx context.Context, src string) (map[string]fs.FileMode, map[string]bool, error) {
	files := make(map[string]fs.FileMode)
	dirs := make(map[string]bool)
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			dirs[rel] = true
			return nil
		}
		if rel == ManifestName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files[rel] = info.Mode().Perm()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, dirs, nil
}

// stalePaths walks the live vault and returns the visible files and
// directories the snapshot does not contain. Unreadable subtrees are
// skipped; whatever they hide stays in place.
func (s *Store) stalePaths(ctx context.Context, root string, files map[string]fs.FileMode, dirs map[string]bool) ([]string, []string, error) {
	var staleFiles, staleDirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
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
		if s.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if samePath(path, s.dir) {
				return filepath.SkipDir
			}
			if !dirs[rel] {
				staleDirs = append(staleDirs, path)
			}
			return nil
		}
		if _, ok := files[rel]; !ok {
			staleFiles = append(staleFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return staleFiles, staleDirs, nil
}

// claimID reserves a snapshot directory. Ids are <timestamp>_<reason>;
// a same-second duplicate gets a numeric suffix.
func (s *Store) claimID(reason string) (string, string, error) {
	base := s.now().UTC().Format(idTimeLayout) + "_" + slugify(reason)
	id := base
	for i := 2; ; i++ {
		dest := filepath.Join(s.dir, id)
		err := os.Mkdir(dest, 0o755)
		if err == nil {
			return id, dest, nil
		}
		if !os.IsExist(err) {
			return "", "", fault.Wrapf(fault.KindPrecondition, err, "create snapshot %s", dest)
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
}

func writeManifest(dest string, man *Manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fault.Wrap(fault.KindIntegrity, err, "encode snapshot manifest")
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dest, ManifestName), data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func validID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return fault.Newf(fault.KindPrecondition, "invalid snapshot id %q", id)
	}
	return nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// slugify folds a free-text reason into the id-safe tag.
func slugify(reason string) string {
	reason = strings.ToLower(strings.TrimSpace(reason))
	var b strings.Builder
	dash := false
	for _, r := range reason {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "manual"
	}
	if len(out) > 40 {
		out = strings.TrimSuffix(out[:40], "-")
	}
	return out
}

func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		_ = in.Close()
		return 0, err
	}
	n, copyErr := io.Copy(out, in)
	outCloseErr := out.Close()
	inCloseErr := in.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if outCloseErr != nil {
		return n, outCloseErr
	}
	if inCloseErr != nil {
		return n, inCloseErr
	}
	return n, nil
}
