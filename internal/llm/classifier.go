// Package llm asks a chat model to place one note in a PARA category and
// suggest a folder name.
//
// Supported providers, routed by chat model name:
//   - ollama (default): local generation via /api/generate in JSON mode.
//   - openai: /v1/chat/completions, or any compatible local server
//     (llama.cpp, vLLM, LM Studio) via openai_url.
//   - gemini: Google Gemini via the genai SDK.
//
// The model is held to a strict reply contract: one JSON object with exactly
// the keys category, folder_name, reasoning. A malformed reply gets one
// corrective retry; a second failure is a transient fault, so fusion can
// degrade to semantic+rule scoring instead of aborting the run.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Classification variants. They share the reply contract but frame Archive
// differently: inbox triage treats it as the safe default for ambiguous
// notes, archive refactoring treats it as "keep here".
const (
	VariantInbox    = "inbox-classify"
	VariantRefactor = "archive-refactor"
)

// Request carries one note into a classification call.
type Request struct {
	Note      *vault.Note
	Directive string // free-form user instruction, "" for none
	Variant   string // VariantInbox or VariantRefactor
}

// Result is the model's verdict for one note.
type Result struct {
	Category   vault.Category
	FolderName string
	Reasoning  string
}

// Classifier is a provider-backed note classifier.
type Classifier interface {
	// Classify returns the model's category verdict for req. Unreachable
	// or contract-breaking backends yield a transient fault after one
	// retry; callers degrade rather than abort.
	Classify(ctx context.Context, req *Request) (*Result, error)

	// Name returns the provider family: "ollama", "openai", "gemini".
	Name() string

	// Model returns the model identifier sent to the provider.
	Model() string
}

// Pinger is implemented by classifiers that can be health-checked without
// spending a generation call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewClassifier builds the classifier for cfg's chat model. Routing is by
// model name (config.ProviderFor); unknown models are assumed local Ollama.
func NewClassifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (Classifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.LLMProvider() {
	case config.ProviderOpenAI:
		return newOpenAIClassifier(cfg, log)
	case config.ProviderGemini:
		return newGeminiClassifier(ctx, cfg, log)
	default:
		return newOllamaClassifier(cfg, log)
	}
}

// One transport or contract failure gets a retry; after that the caller
// falls back to semantic+rule fusion for this note.
const (
	classifyAttempts   = 2
	classifyRetryDelay = time.Second
)

// generateFunc produces one raw completion for a system/user prompt pair.
type generateFunc func(ctx context.Context, system, user string) (string, error)

func classify(ctx context.Context, gen generateFunc, req *Request, log *zap.Logger) (*Result, error) {
	if req.Note == nil {
		return nil, fault.New(fault.KindPrecondition, "classification request has no note")
	}
	system, user := buildPrompt(ctx, req, log)

	var lastErr error
	for attempt := 0; attempt < classifyAttempts; attempt++ {
		if attempt > 0 {
			log.Warn("classification attempt failed, retrying",
				zap.String("note", req.Note.Name),
				zap.Duration("wait", classifyRetryDelay),
				zap.Error(lastErr))
			select {
			case <-time.After(classifyRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, err := gen(ctx, system, user)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var he *httpError
			if errors.As(err, &he) && !he.isRetryable() {
				return nil, fault.Wrap(fault.KindTransient, err, "llm classification")
			}
			lastErr = err
			continue
		}

		res, err := parseDecision(raw)
		if err == nil {
			return res, nil
		}
		lastErr = fmt.Errorf("reply violates contract: %w", err)
		user += "\n\nThe previous reply was not the required JSON object. Reply with exactly one JSON object with the keys category, folder_name, reasoning and nothing else."
	}
	return nil, fault.Wrapf(fault.KindTransient, lastErr, "llm classification failed after %d attempts", classifyAttempts)
}

// llmDecision is the wire contract. DisallowUnknownFields holds the model
// to exactly these keys.
type llmDecision struct {
	Category   string `json:"category"`
	FolderName string `json:"folder_name"`
	Reasoning  string `json:"reasoning"`
}

func parseDecision(raw string) (*Result, error) {
	raw = stripFences(raw)
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var d llmDecision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing content after the JSON object")
	}

	cat, ok := vault.ParseCategory(d.Category)
	if !ok || cat == vault.Inbox || cat == vault.Unknown {
		return nil, fmt.Errorf("category %q is not a PARA destination", d.Category)
	}
	return &Result{
		Category:   cat,
		FolderName: strings.TrimSpace(d.FolderName),
		Reasoning:  strings.TrimSpace(d.Reasoning),
	}, nil
}

// stripFences unwraps a markdown code fence around the reply. Models fence
// JSON even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the info string ("json") on the opening fence line.
		if first := strings.TrimSpace(s[:i]); first == "" || strings.EqualFold(first, "json") {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
