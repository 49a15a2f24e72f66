package llm

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxPromptWords caps how much note body reaches the model. The opening of
// a note decides its category; the tail mostly burns context window.
const maxPromptWords = 4000

const truncationMarker = "[truncated]"

const categoryGuide = `- Projects: active work toward a concrete outcome with an end in sight
- Areas: ongoing responsibilities with no end date
- Resources: reference material kept because it may be useful later`

const replyContract = `Reply with a single JSON object and no other text:
{"category": "...", "folder_name": "...", "reasoning": "..."}
category is one of Projects, Areas, Resources, Archive.
folder_name is a short descriptive grouping folder, 2-4 words.
reasoning is one sentence.`

// buildPrompt renders the system instructions for req's variant and the
// user message carrying the note. The note body is untrusted input: it is
// scanned for prompt injection and truncated before it reaches the model.
func buildPrompt(ctx context.Context, req *Request, log *zap.Logger) (system, user string) {
	n := req.Note

	var sys strings.Builder
	switch req.Variant {
	case VariantRefactor:
		sys.WriteString("You reorganize the archive of a personal knowledge vault kept in the PARA method.\n")
		sys.WriteString("Decide whether the note stays in the archive or moves back into an active category:\n")
		sys.WriteString(categoryGuide)
		sys.WriteString("\n- Archive: keep the note here\n")
		sys.WriteString("Choose Archive unless the note clearly belongs in an active category again.\n")
	default:
		sys.WriteString("You organize a personal knowledge vault kept in the PARA method.\n")
		sys.WriteString("Classify the note into exactly one category:\n")
		sys.WriteString(categoryGuide)
		sys.WriteString("\n- Archive: inactive, completed, or abandoned material\n")
		sys.WriteString("If the note is genuinely ambiguous, choose Archive rather than guessing.\n")
	}
	sys.WriteString(replyContract)

	body, truncated := truncateWords(n.Body, maxPromptWords)
	body, flagged := sanitizeBody(ctx, body)
	if flagged > 0 {
		log.Warn("note content flagged by injection scan",
			zap.String("note", n.Name),
			zap.Int("spans", flagged))
	}
	if truncated {
		body += "\n\n" + truncationMarker
	}

	var usr strings.Builder
	if d := strings.TrimSpace(req.Directive); d != "" {
		usr.WriteString("Directive from the vault owner, weigh it when choosing: ")
		usr.WriteString(d)
		usr.WriteString("\n\n")
	}
	usr.WriteString("Note name: ")
	usr.WriteString(n.Name)
	usr.WriteString("\n\nFrontmatter:\n")
	usr.WriteString(headerYAML(n.Header))
	usr.WriteString("\nContent:\n")
	usr.WriteString(body)

	return sys.String(), usr.String()
}

// headerYAML renders the frontmatter map as YAML. yaml.v3 sorts map keys,
// so the same header always renders the same prompt text.
func headerYAML(header map[string]any) string {
	if len(header) == 0 {
		return "(none)\n"
	}
	out, err := yaml.Marshal(header)
	if err != nil {
		return "(unreadable)\n"
	}
	return string(out)
}

// truncateWords cuts s after max words, preserving the original line
// structure of the kept text.
func truncateWords(s string, max int) (string, bool) {
	inWord := false
	words := 0
	for i, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			words++
			if words > max {
				return strings.TrimRight(s[:i], " \t\n"), true
			}
			inWord = true
		}
	}
	return s, false
}
