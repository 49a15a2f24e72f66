package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

// Transient failures get one retry with a short wait; after that the
// caller degrades and the note is queued for re-embedding next run.
const (
	embedAttempts   = 2
	embedRetryDelay = time.Second
)

// Texts longer than this that draw a 500 are assumed to overflow the
// model context and are halved instead of retried.
const longTextThreshold = 3000

// OllamaProvider generates embeddings via a local Ollama instance.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dims       int
	log        *zap.Logger
}

// newOllamaProvider rejects non-localhost base URLs so note content is
// never sent to a remote endpoint by accident.
func newOllamaProvider(cfg *config.Config, log *zap.Logger) (*OllamaProvider, error) {
	baseURL, err := cfg.OllamaLocalURL()
	if err != nil {
		return nil, err
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = config.EmbeddingModel
	}
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: config.EmbedTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dims:       config.EmbeddingDim(model),
		log:        log,
	}, nil
}

func (p *OllamaProvider) Name() string    { return config.ProviderOllama }
func (p *OllamaProvider) Model() string   { return p.model }
func (p *OllamaProvider) Dimensions() int { return p.dims }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// httpError separates client errors (4xx, don't retry) from server and
// network errors (retry).
type httpError struct {
	StatusCode int // 0 for network errors
	Body       string
}

func (e *httpError) Error() string {
	if e.StatusCode == 0 {
		return e.Body
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) isRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Embed returns a vector for text. Nomic-style models distinguish stored
// documents from lookups via a prompt prefix, so purpose selects it.
func (p *OllamaProvider) Embed(ctx context.Context, text, purpose string) ([]float32, error) {
	prefix := "search_document"
	if purpose == PurposeQuery {
		prefix = "search_query"
	}
	prompt := prefix + ": " + text

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

		vec, err := p.embedOnce(ctx, prompt)
		if err == nil {
			if err := validateEmbedding(vec, p.dims); err != nil {
				return nil, err
			}
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A 500 on long text usually means the model context overflowed.
		// Halving the input recovers more often than retrying as-is.
		var he *httpError
		if errors.As(err, &he) && he.StatusCode == http.StatusInternalServerError && len(text) > longTextThreshold {
			return p.Embed(ctx, text[:len(text)/2], purpose)
		}
		if errors.As(err, &he) && !he.isRetryable() {
			return nil, fault.Wrap(fault.KindTransient, err, "ollama embedding")
		}
		lastErr = err
	}
	return nil, fault.Wrapf(fault.KindTransient, lastErr, "ollama embedding failed after %d attempts", embedAttempts)
}

func (p *OllamaProvider) embedOnce(ctx context.Context, prompt string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &httpError{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return result.Embedding, nil
}
