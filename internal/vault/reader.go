package vault

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

// DefaultExtensions is the note-extension set used when none is configured.
var DefaultExtensions = []string{".md"}

var (
	tagPattern        = regexp.MustCompile(`(?:^|[\s(])#([A-Za-z][\w/-]*)`)
	linkPattern       = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
	attachmentPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
)

// Reader enumerates and parses notes under a vault root. The excluded
// predicate comes from the exclusion registry; hidden directories are always
// skipped regardless of it.
type Reader struct {
	root     string
	exts     map[string]bool
	excluded func(string) bool
	log      *zap.Logger
}

// NewReader returns a Reader rooted at root. excluded may be nil (nothing
// excluded); logger must not be nil (use zap.NewNop in tests).
func NewReader(root string, excluded func(string) bool, logger *zap.Logger) *Reader {
	exts := make(map[string]bool, len(DefaultExtensions))
	for _, e := range DefaultExtensions {
		exts[e] = true
	}
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	return &Reader{root: root, exts: exts, excluded: excluded, log: logger}
}

// Root returns the vault root the reader walks.
func (r *Reader) Root() string { return r.root }

// Excluded reports whether path falls under the reader's exclusion
// predicate. Hidden directories are a separate, unconditional skip.
func (r *Reader) Excluded(path string) bool { return r.excluded(path) }

// Walk enumerates notes lazily in lexical path order. Each file is read and
// parsed as it is visited; fn returning false stops the walk. Unreadable
// files are warned and skipped. Excluded subtrees are listed but never read
// unless includeExcluded is set. The walk is a single pass; callers needing
// two buffer via List.
func (r *Reader) Walk(ctx context.Context, includeExcluded bool, fn func(*Note) bool) error {
	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.log.Warn("walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == r.root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !includeExcluded && r.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.exts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if !includeExcluded && r.excluded(path) {
			return nil
		}
		note, err := r.ReadNote(path)
		if err != nil {
			r.log.Warn("skipping unreadable note", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !fn(note) {
			return filepath.SkipAll
		}
		return nil
	})
}

// List buffers a full walk into a slice.
func (r *Reader) List(ctx context.Context, includeExcluded bool) ([]*Note, error) {
	var notes []*Note
	err := r.Walk(ctx, includeExcluded, func(n *Note) bool {
		notes = append(notes, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// ReadNote reads and parses a single note file.
func (r *Reader) ReadNote(path string) (*Note, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindData, err, "resolve %s", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fault.Wrapf(fault.KindData, err, "read %s", abs)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fault.Wrapf(fault.KindData, err, "stat %s", abs)
	}

	raw := string(data)
	header, body := ParseHeader(raw)

	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		rel = filepath.Base(abs)
	}

	note := &Note{
		ID:          NoteID(abs),
		Path:        abs,
		RelPath:     filepath.ToSlash(rel),
		Name:        strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Category:    CategoryOf(r.root, abs),
		Folder:      FolderOf(r.root, abs),
		Header:      header,
		Tags:        ExtractTags(body),
		Links:       ExtractLinks(body),
		Attachments: ExtractAttachments(body),
		Body:        body,
		Raw:         raw,
		WordCount:   len(strings.Fields(body)),
		Modified:    info.ModTime(),
	}
	note.Created = createdTime(note, info.ModTime())
	return note, nil
}

// ParseHeader splits the optional leading frontmatter block from the body.
// A malformed header yields an empty map and the whole content as body.
func ParseHeader(content string) (map[string]any, string) {
	var header map[string]any
	body, err := frontmatter.Parse(strings.NewReader(content), &header)
	if err != nil {
		return map[string]any{}, content
	}
	if header == nil {
		header = map[string]any{}
	}
	return header, string(body)
}

// ExtractTags returns the sorted set of inline #tags, lowercased.
func ExtractTags(body string) []string {
	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(body, -1) {
		tag := strings.ToLower(m[1])
		seen[tag] = true
	}
	if len(seen) == 0 {
		return nil
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// ExtractLinks returns every [[wiki link]] target in occurrence order.
// Aliases and heading anchors are stripped from the target.
func ExtractLinks(body string) []string {
	var links []string
	for _, m := range linkPattern.FindAllStringSubmatch(body, -1) {
		target := m[1]
		if i := strings.IndexAny(target, "|#"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target != "" {
			links = append(links, target)
		}
	}
	return links
}

// ExtractAttachments returns every ![alt](target) reference in order.
func ExtractAttachments(body string) []string {
	var out []string
	for _, m := range attachmentPattern.FindAllStringSubmatch(body, -1) {
		target := strings.TrimSpace(m[1])
		if target != "" {
			out = append(out, target)
		}
	}
	return out
}

var createdLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

// createdTime prefers a parseable created/date header over the filesystem
// mtime, since most filesystems do not expose birth time portably.
func createdTime(n *Note, fallback time.Time) time.Time {
	for _, key := range []string{"created", "date"} {
		v := n.HeaderString(key)
		if v == "" {
			continue
		}
		for _, layout := range createdLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return fallback
}
