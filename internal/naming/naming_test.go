package naming

import (
	"strings"
	"testing"

	"github.com/parakeet-labs/parakeet/internal/vault"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"draft app", "Draft App"},
		{"  draft   app  ", "Draft App"},
		{"draft_app", "Draft App"},
		{"\"quoted plan\"", "Quoted Plan"},
		{"plan for [[Draft App]]", "Plan For Draft App"},
		{"see [[notes/x|The Ref]]", "See The Ref"},
		{"work on #project stuff", "Work On Stuff"},
		{"a/b: c?", "A B C"},
		{"Draft App 2", "Draft App"},
		{"Draft_App_3", "Draft App"},
		{"Trip Plan 2 3", "Trip Plan"},
		{"ab", ""},
		{"", ""},
		{"**Bold Plan**", "Bold Plan"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTruncates(t *testing.T) {
	long := strings.Repeat("Word ", 30)
	got := Normalize(long)
	if got == "" {
		t.Fatal("long input should still normalize")
	}
	if n := len([]rune(got)); n > MaxLen {
		t.Errorf("normalized length = %d, over the cap", n)
	}
	if strings.HasSuffix(got, " ") || !Valid(got) {
		t.Errorf("truncated name %q should be valid", got)
	}
}

func TestValid(t *testing.T) {
	valid := []string{"Draft App", "Go Notes", "Health", "Area 51 Research"}
	for _, name := range valid {
		if !Valid(name) {
			t.Errorf("Valid(%q) = false, want true", name)
		}
	}
	invalid := []string{
		"",
		"ab",
		strings.Repeat("x", 51),
		"bad/name",
		"bad:name",
		"what?",
		"Draft App 2",
		"Draft_2",
		" Leading Space",
		"tab\tname",
	}
	for _, name := range invalid {
		if Valid(name) {
			t.Errorf("Valid(%q) = true, want false", name)
		}
	}
}

func TestValidSuggestion(t *testing.T) {
	if !ValidSuggestion("Draft App") {
		t.Error("two words should pass")
	}
	if !ValidSuggestion("Q3 Planning Review Notes") {
		t.Error("four words should pass")
	}
	if ValidSuggestion("Standalone") {
		t.Error("one word should fail the suggestion contract")
	}
	if ValidSuggestion("One Two Three Four Five") {
		t.Error("five words should fail the suggestion contract")
	}
}

func TestForNotePrefersSuggestion(t *testing.T) {
	n := &vault.Note{Name: "todo-draft-app", Body: "# My Heading\n\ntext"}
	got := ForNote("launch checklist", n, vault.Projects)
	if got != "Launch Checklist" {
		t.Errorf("ForNote = %q, want suggestion", got)
	}
}

func TestForNoteRejectsBadSuggestion(t *testing.T) {
	n := &vault.Note{Name: "x", Body: "# Quarterly Goals\n\ntext"}
	// One-word suggestion fails the 2-4 word contract; falls to heading.
	if got := ForNote("Launch", n, vault.Projects); got != "Quarterly Goals" {
		t.Errorf("ForNote = %q, want heading fallback", got)
	}
}

func TestForNoteHeaderTitle(t *testing.T) {
	n := &vault.Note{
		Name:   "x",
		Header: map[string]any{"title": "Reading List"},
		Body:   "# Different Heading\n",
	}
	if got := ForNote("", n, vault.Resources); got != "Reading List" {
		t.Errorf("ForNote = %q, want header title", got)
	}
}

func TestForNoteFirstLine(t *testing.T) {
	n := &vault.Note{Name: "x", Body: "\n- [ ] buy domain for the site\nmore\n"}
	if got := ForNote("", n, vault.Projects); got != "Buy Domain For The Site" {
		t.Errorf("ForNote = %q", got)
	}
}

func TestForNoteDailyArchive(t *testing.T) {
	n := &vault.Note{Name: "2024-11-03", Body: "hi"}
	if got := ForNote("", n, vault.Archive); got != DailyFolder {
		t.Errorf("ForNote = %q, want %q", got, DailyFolder)
	}
	// The daily grouping only applies to Archive.
	proj := &vault.Note{Name: "2024-11-03", Body: "# Sprint Plan\n"}
	if got := ForNote("", proj, vault.Projects); got != "Sprint Plan" {
		t.Errorf("ForNote = %q", got)
	}
}

func TestForNoteKeywordFallback(t *testing.T) {
	n := &vault.Note{Name: "x", Body: ""}
	if got := ForNote("", n, vault.Projects); got != "New Project" {
		t.Errorf("ForNote = %q, want 'New Project'", got)
	}
	if got := ForNote("", n, vault.Areas); got != "New Area" {
		t.Errorf("ForNote = %q, want 'New Area'", got)
	}
}

func TestFirstContentLine(t *testing.T) {
	body := "# Heading\n\n```\ncode line\n```\n\n> quoted insight\nplain after\n"
	if got := FirstContentLine(body); got != "quoted insight" {
		t.Errorf("FirstContentLine = %q", got)
	}
	if got := FirstContentLine("# Only Heading\n"); got != "" {
		t.Errorf("FirstContentLine = %q, want empty", got)
	}
}
