package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Note is one parsed file. Identity is the stable hash of the absolute path,
// so a moved note gets a new identity and the index re-keys it.
type Note struct {
	ID          string
	Path        string // absolute
	RelPath     string // slash-separated, relative to vault root
	Name        string // filename without extension
	Category    Category
	Folder      string // immediate parent under the category root, "" if none
	Header      map[string]any
	Tags        []string // inline #tags, lowercased, deduplicated
	Links       []string // [[wiki link]] targets
	Attachments []string // ![alt](target) targets
	Body        string   // content after the frontmatter block
	Raw         string
	WordCount   int
	Created     time.Time
	Modified    time.Time
}

// NoteID returns the stable identity for an absolute path.
func NoteID(absPath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(absPath)))
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the sha256 of the raw note text, used for embed
// caching and incremental reindexing.
func (n *Note) ContentHash() string {
	sum := sha256.Sum256([]byte(n.Raw))
	return hex.EncodeToString(sum[:])
}

// HeaderString returns a header value coerced to string, or "".
func (n *Note) HeaderString(key string) string {
	v, ok := n.Header[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return fmt.Sprintf("%v", t)
	case int, int64, float64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

// HeaderList returns a header value as a string slice. A scalar becomes a
// one-element slice; comma-separated scalars are split. Non-string sequence
// items are skipped.
func (n *Note) HeaderList(key string) []string {
	v, ok := n.Header[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		if strings.Contains(t, ",") {
			var out []string
			for _, part := range strings.Split(t, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
		return []string{t}
	default:
		return nil
	}
}

// Title returns the display title: header title, else first heading, else
// the filename.
func (n *Note) Title() string {
	if t := n.HeaderString("title"); t != "" {
		return t
	}
	if h := FirstHeading(n.Body); h != "" {
		return h
	}
	return n.Name
}

// FirstHeading returns the text of the first markdown heading in body, or "".
func FirstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}
