// Package embedding generates the vectors behind semantic classification.
//
// Supported providers, routed by embedding model name:
//   - ollama (default): local embeddings, no API keys, notes never leave
//     the machine. The base URL is restricted to localhost.
//   - openai: OpenAI /v1/embeddings, or any compatible local server
//     (llama.cpp, vLLM, LM Studio) via openai_url. API key optional for
//     non-default endpoints.
//   - gemini: Google Gemini embeddings via the genai SDK.
//
// All vectors in one index must come from the same model; switching
// models requires a reindex.
package embedding

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

// Purpose values for Embed. Models that distinguish stored documents from
// lookups (nomic-style prefixes, gemini task types) frame the text
// differently for each.
const (
	PurposeDocument = "document"
	PurposeQuery    = "query"
)

// Provider generates embedding vectors from note text.
type Provider interface {
	// Embed returns a vector for text. Purpose is PurposeDocument when
	// indexing and PurposeQuery for similarity lookups. Unreachable or
	// misbehaving backends yield a transient fault after one retry, so
	// callers can degrade instead of aborting the run.
	Embed(ctx context.Context, text, purpose string) ([]float32, error)

	// Name returns the provider family: "ollama", "openai", "gemini".
	Name() string

	// Model returns the model identifier sent to the provider.
	Model() string

	// Dimensions returns the vector width, fixed per model.
	Dimensions() int
}

// NewProvider builds the provider for cfg's embedding model. Routing is by
// model name (config.ProviderFor); unknown models are assumed local Ollama.
func NewProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.EmbeddingProvider() {
	case config.ProviderOpenAI:
		return newOpenAIProvider(cfg, log)
	case config.ProviderGemini:
		return newGeminiProvider(ctx, cfg, log)
	default:
		return newOllamaProvider(cfg, log)
	}
}

// validateEmbedding rejects vectors of the wrong width and all-zero
// vectors, which some backends return instead of an error.
func validateEmbedding(vec []float32, wantDims int) error {
	if wantDims > 0 && len(vec) != wantDims {
		return fault.Newf(fault.KindTransient, "embedding has %d dimensions, model should produce %d", len(vec), wantDims)
	}
	allZero := true
	for _, v := range vec {
		if math.Float32bits(v) != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return fault.New(fault.KindTransient, "embedding is all zeros")
	}
	return nil
}
