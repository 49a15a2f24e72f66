package llm

import (
	"context"
	"strings"

	"github.com/mdombrov-33/go-promptguard/detector"
)

// filterMarker replaces note text that reads like a prompt injection
// attempt before it reaches the model.
const filterMarker = "[content filtered for security]"

// guardInputCap bounds how much of one paragraph the detector sees.
// Injection phrasing front-loads; scanning 4KB per paragraph is enough.
const guardInputCap = 4096

// noteGuard is built once at import time with the pattern-matching and
// statistical detectors only, no LLM judge, so scanning stays fast enough
// to run on every paragraph of every classified note.
var noteGuard = detector.New(
	detector.WithThreshold(0.6),
	detector.WithAllDetectors(),
	detector.WithMaxInputLength(guardInputCap),
)

// injectionPatterns is a string-match fallback behind the multi-detector.
// Vault notes that quote these phrases verbatim are filtered even when the
// statistical score stays under threshold.
var injectionPatterns = []string{
	"ignore previous",
	"ignore all previous",
	"ignore above",
	"disregard previous",
	"disregard all previous",
	"you are now",
	"new instructions",
	"system prompt",
	"<system>",
	"</system>",
}

// sanitizeBody scans body paragraph by paragraph and replaces flagged ones
// with the filter marker. Notes are untrusted prompt input: any file in the
// vault can try to override the classification instructions. Returns the
// filtered text and the number of replaced paragraphs.
func sanitizeBody(ctx context.Context, body string) (string, int) {
	if strings.TrimSpace(body) == "" {
		return body, 0
	}
	paragraphs := strings.Split(body, "\n\n")
	flagged := 0
	for i, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if suspect(ctx, p) {
			paragraphs[i] = filterMarker
			flagged++
		}
	}
	if flagged == 0 {
		return body, 0
	}
	return strings.Join(paragraphs, "\n\n"), flagged
}

func suspect(ctx context.Context, text string) bool {
	head := text
	if len(head) > guardInputCap {
		head = head[:guardInputCap]
	}
	if result := noteGuard.Detect(ctx, head); !result.Safe {
		return true
	}
	lower := strings.ToLower(text)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
