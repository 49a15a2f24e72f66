package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

// GeminiProvider generates embeddings via the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	dims   int
	log    *zap.Logger
}

func newGeminiProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (*GeminiProvider, error) {
	if cfg.GeminiKey == "" {
		return nil, fault.Newf(fault.KindPrecondition, "embedding model %q needs a Gemini API key", cfg.EmbeddingModel).
			WithHint("set PARAKEET_GEMINI_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiKey})
	if err != nil {
		return nil, fault.Wrap(fault.KindPrecondition, err, "create gemini client")
	}
	model := cfg.EmbeddingModel
	return &GeminiProvider{
		client: client,
		model:  model,
		dims:   config.EmbeddingDim(model),
		log:    log,
	}, nil
}

func (p *GeminiProvider) Name() string    { return config.ProviderGemini }
func (p *GeminiProvider) Model() string   { return p.model }
func (p *GeminiProvider) Dimensions() int { return p.dims }

// Embed returns a vector for text. Purpose maps to the Gemini retrieval
// task types, which shape the embedding the same way nomic prefixes do.
func (p *GeminiProvider) Embed(ctx context.Context, text, purpose string) ([]float32, error) {
	task := "RETRIEVAL_DOCUMENT"
	if purpose == PurposeQuery {
		task = "RETRIEVAL_QUERY"
	}

	var lastErr error
	for attempt := 0; attempt < embedAttempts; attempt++ {
		if attempt > 0 {
			p.log.Warn("embedding request failed, retrying",
				zap.String("provider", p.Name()),
				zap.Duration("wait", embedRetryDelay),
				zap.Error(lastErr))
			select {
			case <-time.After(embedRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vec, err := p.embedOnce(ctx, text, task)
		if err == nil {
			if err := validateEmbedding(vec, p.dims); err != nil {
				return nil, err
			}
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fault.Wrapf(fault.KindTransient, lastErr, "gemini embedding failed after %d attempts", embedAttempts)
}

func (p *GeminiProvider) embedOnce(ctx context.Context, text string, task string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fault.New(fault.KindTransient, "gemini returned no embeddings")
	}
	return result.Embeddings[0].Values, nil
}
