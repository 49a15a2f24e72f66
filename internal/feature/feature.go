// Package feature derives the per-note signal record that the rule engine
// and decision fusion consume. Extraction is pure over note content and
// filesystem timestamps; nothing here touches the network or reads files.
package feature

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Recency buckets a note's modification age.
type Recency string

const (
	VeryRecent Recency = "very_recent" // < 7 days
	Recent     Recency = "recent"      // < 30 days
	Moderate   Recency = "moderate"    // < 90 days
	Old        Recency = "old"         // < 365 days
	VeryOld    Recency = "very_old"
)

// Content pattern names.
const (
	PatternHeaders       = "headers"
	PatternLists         = "lists"
	PatternCode          = "code"
	PatternTables        = "tables"
	PatternQuotes        = "quotes"
	PatternEmphasis      = "emphasis"
	PatternStrikethrough = "strikethrough"
	PatternFootnotes     = "footnotes"
)

// categoryDirectiveWords are the directive tokens that influence fusion
// weights when present.
var categoryDirectiveWords = map[string]bool{
	"project":  true,
	"area":     true,
	"resource": true,
	"archive":  true,
	"inbox":    true,
	"urgent":   true,
	"priority": true,
}

// Vector is the dense signal record for one note.
type Vector struct {
	NoteID string
	Name   string // filename stem, used by the daily-note rule

	WordCount          int
	NonWhitespaceChars int

	HasTodos       bool
	HasDates       bool
	HasLinks       bool
	HasAttachments bool
	TodoCount      int
	LinkCount      int

	ObsidianTags []string // inline #tags, sorted
	GenericTags  []string // header-declared tags, sorted
	Header       map[string]any

	Recency           Recency
	Patterns          []string // sorted content pattern names
	DirectiveKeywords []string // sorted category/priority words from the directive

	InfoDensity float64
}

// HasTag reports whether tag appears among the inline or header tags.
func (v *Vector) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range v.ObsidianTags {
		if t == tag {
			return true
		}
	}
	for _, t := range v.GenericTags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasPattern reports whether the named content pattern was detected.
func (v *Vector) HasPattern(name string) bool {
	for _, p := range v.Patterns {
		if p == name {
			return true
		}
	}
	return false
}

// HeaderString returns the header value for key coerced to a string.
func (v *Vector) HeaderString(key string) string {
	n := vault.Note{Header: v.Header}
	return n.HeaderString(key)
}

var (
	checkboxPattern = regexp.MustCompile(`(?m)^\s*[-*+] \[[ xX]\]`)
	todoWordPattern = regexp.MustCompile(`(?i)\bTODO:`)

	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	monthDatePattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2}(st|nd|rd|th)?,? \d{4}`)

	headerLinePattern = regexp.MustCompile(`(?m)^#{1,6} `)
	listLinePattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.) `)
	fencedCodePattern = regexp.MustCompile("(?m)^```")
	tableLinePattern  = regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`)
	quoteLinePattern  = regexp.MustCompile(`(?m)^> `)
	boldPattern       = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)
	italicPattern     = regexp.MustCompile(`\*[^*\n]+\*|\b_[^_\n]+_\b`)
	strikePattern     = regexp.MustCompile(`~~[^~\n]+~~`)
	footnotePattern   = regexp.MustCompile(`\[\^[^\]]+\]`)
	dailyNotePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	nonDirectiveChars = regexp.MustCompile(`[^a-z]+`)
)

// IsDailyName reports whether a filename stem follows the year-month-day
// daily note convention.
func IsDailyName(name string) bool {
	return dailyNotePattern.MatchString(name)
}

// RecencyOf buckets a modification age.
func RecencyOf(age time.Duration) Recency {
	switch {
	case age < 7*24*time.Hour:
		return VeryRecent
	case age < 30*24*time.Hour:
		return Recent
	case age < 90*24*time.Hour:
		return Moderate
	case age < 365*24*time.Hour:
		return Old
	default:
		return VeryOld
	}
}

// DirectiveKeywords extracts the category and priority words from a free-text
// directive, singularized and sorted. "organize my projects" yields [project].
func DirectiveKeywords(directive string) []string {
	if directive == "" {
		return nil
	}
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(directive)) {
		word := nonDirectiveChars.ReplaceAllString(tok, "")
		word = strings.TrimSuffix(word, "s")
		if categoryDirectiveWords[word] {
			seen[word] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Extractor computes feature vectors for one run. Vectors are cached by note
// id plus content hash, so re-planning an unchanged vault skips re-scanning.
// The directive is fixed for the extractor's lifetime. Safe for concurrent
// use.
type Extractor struct {
	directive []string
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]*Vector
}

// New returns an extractor for one planning run.
func New(directive string) *Extractor {
	return &Extractor{
		directive: DirectiveKeywords(directive),
		now:       time.Now,
		cache:     make(map[string]*Vector),
	}
}

// Extract computes (or returns the cached) feature vector for a note.
func (e *Extractor) Extract(n *vault.Note) *Vector {
	key := n.ID + ":" + n.ContentHash()
	e.mu.Lock()
	if v, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	v := e.compute(n)

	e.mu.Lock()
	e.cache[key] = v
	e.mu.Unlock()
	return v
}

func (e *Extractor) compute(n *vault.Note) *Vector {
	body := n.Body
	todoCount := len(checkboxPattern.FindAllString(body, -1)) +
		len(todoWordPattern.FindAllString(body, -1))
	hasDates := isoDatePattern.MatchString(body) ||
		slashDatePattern.MatchString(body) ||
		monthDatePattern.MatchString(body)

	v := &Vector{
		NoteID:             n.ID,
		Name:               n.Name,
		WordCount:          n.WordCount,
		NonWhitespaceChars: countNonWhitespace(body),
		TodoCount:          todoCount,
		LinkCount:          len(n.Links),
		HasTodos:           todoCount > 0 || hasTagIn(n.Tags, "todo"),
		HasDates:           hasDates,
		HasLinks:           len(n.Links) > 0,
		HasAttachments:     len(n.Attachments) > 0,
		ObsidianTags:       n.Tags,
		GenericTags:        headerTags(n),
		Header:             n.Header,
		Recency:            RecencyOf(e.now().Sub(n.Modified)),
		Patterns:           contentPatterns(body),
		DirectiveKeywords:  e.directive,
	}
	v.InfoDensity = float64(v.LinkCount+v.TodoCount) / float64(max(v.WordCount, 1))
	return v
}

func countNonWhitespace(s string) int {
	count := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\n\r", r) {
			count++
		}
	}
	return count
}

func hasTagIn(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// headerTags reads the header's tags key as the generic tag set, lowercased
// and sorted. Header tags keep their own set so rules can tell an explicit
// user label apart from an inline mention.
func headerTags(n *vault.Note) []string {
	raw := n.HeaderList("tags")
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t != "" {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func contentPatterns(body string) []string {
	var out []string
	add := func(name string, re *regexp.Regexp) {
		if re.MatchString(body) {
			out = append(out, name)
		}
	}
	add(PatternHeaders, headerLinePattern)
	add(PatternLists, listLinePattern)
	add(PatternCode, fencedCodePattern)
	add(PatternTables, tableLinePattern)
	add(PatternQuotes, quoteLinePattern)
	if boldPattern.MatchString(body) || italicPattern.MatchString(body) {
		out = append(out, PatternEmphasis)
	}
	add(PatternStrikethrough, strikePattern)
	add(PatternFootnotes, footnotePattern)
	sort.Strings(out)
	return out
}
