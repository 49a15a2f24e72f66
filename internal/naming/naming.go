// Package naming normalizes and validates the folder names the planner
// emits. Names derive from an LLM suggestion, the note's own content, or a
// category keyword, in that order.
package naming

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/parakeet-labs/parakeet/internal/feature"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Length bounds in runes after normalization.
const (
	MinLen       = 3
	MaxLen       = 50
	PreferredMin = 5
	PreferredMax = 30
)

// DailyFolder groups date-named notes under Archive.
const DailyFolder = "Daily Notes"

const hostileChars = `/\:*?"<>|`

var (
	wikiLinkPattern   = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	mdLinkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	tagTokenPattern   = regexp.MustCompile(`#[A-Za-z][\w/-]*`)
	spaceRunPattern   = regexp.MustCompile(`\s+`)
	numSuffixPattern  = regexp.MustCompile(`[ _]\d+$`)
	listMarkerPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+\.|>)\s*(?:\[[ xX]\]\s*)?`)
)

// Normalize cleans a raw candidate into a folder name: unwraps links, strips
// tags and quotes, folds whitespace to single spaces, title-cases, and strips
// trailing numeric suffixes. Returns "" when the result is too short to use.
func Normalize(raw string) string {
	s := raw

	s = wikiLinkPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := strings.Trim(m, "[]")
		if i := strings.IndexByte(inner, '|'); i >= 0 {
			return inner[i+1:]
		}
		if i := strings.IndexByte(inner, '#'); i >= 0 {
			return inner[:i]
		}
		return inner
	})
	s = mdLinkPattern.ReplaceAllString(s, "$1")
	s = tagTokenPattern.ReplaceAllString(s, "")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '_':
			b.WriteRune(' ')
		case strings.ContainsRune("\"'`*~“”‘’", r):
			// dropped
		case strings.ContainsRune(hostileChars, r) || unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	s = strings.TrimSpace(spaceRunPattern.ReplaceAllString(b.String(), " "))
	s = stripNumSuffix(s)
	s = titleCase(s)
	s = truncate(s, MaxLen)
	s = stripNumSuffix(s)

	if len([]rune(s)) < MinLen {
		return ""
	}
	return s
}

// Valid reports whether name already satisfies the naming rules: length in
// bounds, no hostile or control characters, no trailing numeric suffix.
func Valid(name string) bool {
	runes := []rune(name)
	if len(runes) < MinLen || len(runes) > MaxLen {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range runes {
		if strings.ContainsRune(hostileChars, r) || unicode.IsControl(r) {
			return false
		}
	}
	return !numSuffixPattern.MatchString(name)
}

// ValidSuggestion applies the stricter contract for LLM-proposed names:
// valid per the base rules and 2 to 4 words long.
func ValidSuggestion(name string) bool {
	if !Valid(name) {
		return false
	}
	words := len(strings.Fields(name))
	return words >= 2 && words <= 4
}

// ForNote picks the folder name for a note landing in category. suggestion
// is the LLM's proposal, already gated by the caller on category agreement;
// pass "" when there is none. The fallback chain is the note title, its
// first heading, its first content line, then a category keyword.
func ForNote(suggestion string, n *vault.Note, category vault.Category) string {
	if suggestion != "" {
		if s := Normalize(suggestion); s != "" && ValidSuggestion(s) {
			return s
		}
	}
	if category == vault.Archive && feature.IsDailyName(n.Name) {
		return DailyFolder
	}
	candidates := []string{
		n.HeaderString("title"),
		vault.FirstHeading(n.Body),
		FirstContentLine(n.Body),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if s := Normalize(c); s != "" && Valid(s) {
			return s
		}
	}
	return "New " + titleCase(category.Keyword())
}

// FirstContentLine returns the first non-empty line that is not a heading or
// a code fence, with list and quote markers stripped.
func FirstContentLine(body string) string {
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if cleaned := listMarkerPattern.ReplaceAllString(trimmed, ""); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

func stripNumSuffix(s string) string {
	for {
		next := numSuffixPattern.ReplaceAllString(s, "")
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// truncate cuts s to at most maxRunes, preferring a word boundary.
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
