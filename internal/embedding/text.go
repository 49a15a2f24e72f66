package embedding

import (
	"strings"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

// maxNoteRunes caps the text sent to embedding backends. Oversized notes
// lose their tail; the title and tag lines always survive.
const maxNoteRunes = 12000

// NoteText builds the canonical embedding input for a note: title line,
// tag line, then the body. Indexing and query-time lookups must use the
// same shape or neighbor distances drift.
func NoteText(n *vault.Note) string {
	var b strings.Builder
	b.WriteString(n.Title())
	if len(n.Tags) > 0 {
		b.WriteString("\ntags: ")
		b.WriteString(strings.Join(n.Tags, ", "))
	}
	if body := strings.TrimSpace(n.Body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return truncateRunes(b.String(), maxNoteRunes)
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
