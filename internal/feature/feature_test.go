package feature

import (
	"strings"
	"testing"
	"time"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

func testNote(body string) *vault.Note {
	n := &vault.Note{
		ID:       vault.NoteID("/vault/00-Inbox/test.md"),
		Name:     "test",
		Body:     body,
		Raw:      body,
		Modified: time.Now(),
	}
	n.WordCount = len(strings.Fields(body))
	n.Tags = vault.ExtractTags(body)
	n.Links = vault.ExtractLinks(body)
	n.Attachments = vault.ExtractAttachments(body)
	return n
}

func TestTodoSignals(t *testing.T) {
	v := New("").Extract(testNote("- [ ] first\n- [x] done\nTODO: call back\nplain line\n"))
	if v.TodoCount != 3 {
		t.Errorf("todo count = %d, want 3", v.TodoCount)
	}
	if !v.HasTodos {
		t.Error("HasTodos should be true")
	}

	tagged := New("").Extract(testNote("remember #todo\n"))
	if tagged.TodoCount != 0 {
		t.Errorf("tag alone should not count as a todo item, got %d", tagged.TodoCount)
	}
	if !tagged.HasTodos {
		t.Error("a #todo tag should still set HasTodos")
	}

	none := New("").Extract(testNote("nothing to do here\n"))
	if none.HasTodos {
		t.Error("HasTodos should be false")
	}
}

func TestDateSignals(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"due 2025-03-01", true},
		{"meeting on 3/14/2025", true},
		{"ship by March 1, 2025", true},
		{"ship by mar 1 2025", true},
		{"version 1.2.3 released", false},
		{"no dates at all", false},
	}
	for _, tc := range cases {
		v := New("").Extract(testNote(tc.body))
		if v.HasDates != tc.want {
			t.Errorf("HasDates(%q) = %v, want %v", tc.body, v.HasDates, tc.want)
		}
	}
}

func TestContentPatterns(t *testing.T) {
	body := `# Title

- item one
1. ordered

` + "```go\ncode\n```" + `

| a | b |
|---|---|

> quoted

**bold** and ~~gone~~ and a footnote[^1]
`
	v := New("").Extract(testNote(body))

	for _, p := range []string{
		PatternHeaders, PatternLists, PatternCode, PatternTables,
		PatternQuotes, PatternEmphasis, PatternStrikethrough, PatternFootnotes,
	} {
		if !v.HasPattern(p) {
			t.Errorf("pattern %q not detected", p)
		}
	}

	plain := New("").Extract(testNote("just a paragraph of prose\n"))
	if len(plain.Patterns) != 0 {
		t.Errorf("plain prose should have no patterns, got %v", plain.Patterns)
	}
}

func TestRecencyBuckets(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		age  time.Duration
		want Recency
	}{
		{2 * day, VeryRecent},
		{10 * day, Recent},
		{45 * day, Moderate},
		{180 * day, Old},
		{400 * day, VeryOld},
	}
	for _, tc := range cases {
		if got := RecencyOf(tc.age); got != tc.want {
			t.Errorf("RecencyOf(%v) = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestRecencyUsesClock(t *testing.T) {
	n := testNote("x")
	n.Modified = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e := New("")
	e.now = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if v := e.Extract(n); v.Recency != VeryRecent {
		t.Errorf("recency = %v", v.Recency)
	}

	e2 := New("")
	e2.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	if v := e2.Extract(n); v.Recency != VeryOld {
		t.Errorf("recency = %v", v.Recency)
	}
}

func TestDirectiveKeywords(t *testing.T) {
	cases := []struct {
		directive string
		want      []string
	}{
		{"organize my projects quickly", []string{"project"}},
		{"URGENT: sort the inbox!", []string{"inbox", "urgent"}},
		{"tidy things up", nil},
		{"", nil},
		{"archive old resources", []string{"archive", "resource"}},
	}
	for _, tc := range cases {
		got := DirectiveKeywords(tc.directive)
		if len(got) != len(tc.want) {
			t.Errorf("DirectiveKeywords(%q) = %v, want %v", tc.directive, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("DirectiveKeywords(%q) = %v, want %v", tc.directive, got, tc.want)
				break
			}
		}
	}
}

func TestInfoDensity(t *testing.T) {
	v := New("").Extract(testNote("see [[a]] and [[b]]\n- [ ] task\n"))
	// 8 whitespace-split words, 2 links + 1 todo
	want := 3.0 / 8.0
	if diff := v.InfoDensity - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("density = %f, want %f", v.InfoDensity, want)
	}

	empty := New("").Extract(testNote(""))
	if empty.InfoDensity != 0 {
		t.Errorf("empty note density = %f", empty.InfoDensity)
	}
}

func TestHeaderTags(t *testing.T) {
	n := testNote("body")
	n.Header = map[string]any{"tags": []any{"Project", "#planning", "project"}}
	v := New("").Extract(n)
	if len(v.GenericTags) != 2 || v.GenericTags[0] != "planning" || v.GenericTags[1] != "project" {
		t.Errorf("generic tags = %v", v.GenericTags)
	}
	if !v.HasTag("planning") {
		t.Error("HasTag should see header tags")
	}
}

func TestExtractCaches(t *testing.T) {
	e := New("")
	n := testNote("stable content")
	first := e.Extract(n)
	second := e.Extract(n)
	if first != second {
		t.Error("unchanged note should hit the cache")
	}

	n.Body = "changed content"
	n.Raw = "changed content"
	third := e.Extract(n)
	if third == first {
		t.Error("content change should invalidate the cache")
	}
}

func TestIsDailyName(t *testing.T) {
	if !IsDailyName("2024-11-03") {
		t.Error("daily name not recognized")
	}
	for _, name := range []string{"2024-11-03-extra", "notes", "11-03-2024"} {
		if IsDailyName(name) {
			t.Errorf("IsDailyName(%q) should be false", name)
		}
	}
}

func TestNonWhitespaceCount(t *testing.T) {
	v := New("").Extract(testNote("ab c\n\td "))
	if v.NonWhitespaceChars != 4 {
		t.Errorf("non-whitespace = %d, want 4", v.NonWhitespaceChars)
	}
}
