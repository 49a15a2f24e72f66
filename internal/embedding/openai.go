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

const openaiDefaultURL = "https://api.openai.com"

// OpenAIProvider generates embeddings via the OpenAI API or any server
// exposing a compatible /v1/embeddings endpoint.
type OpenAIProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	dims       int
	log        *zap.Logger
}

// newOpenAIProvider requires an API key for the hosted endpoint. Local
// compatible servers (set via openai_url) may run keyless.
func newOpenAIProvider(cfg *config.Config, log *zap.Logger) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(cfg.OpenAIURL, "/")
	if baseURL == "" {
		baseURL = openaiDefaultURL
	}
	if cfg.OpenAIKey == "" && baseURL == openaiDefaultURL {
		return nil, fault.Newf(fault.KindPrecondition, "embedding model %q needs an OpenAI API key", cfg.EmbeddingModel).
			WithHint("set PARAKEET_OPENAI_KEY, or point openai_url at a local compatible server")
	}
	model := cfg.EmbeddingModel
	return &OpenAIProvider{
		httpClient: &http.Client{Timeout: config.EmbedTimeout},
		baseURL:    baseURL,
		model:      model,
		apiKey:     cfg.OpenAIKey,
		dims:       config.EmbeddingDim(model),
		log:        log,
	}, nil
}

func (p *OpenAIProvider) Name() string    { return config.ProviderOpenAI }
func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dims }

type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbedData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type openaiEmbedError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openaiEmbedResponse struct {
	Data  []openaiEmbedData `json:"data"`
	Error *openaiEmbedError `json:"error,omitempty"`
}

// Embed returns a vector for text. The model handles documents and
// queries identically, so purpose is ignored.
func (p *OpenAIProvider) Embed(ctx context.Context, text, _ string) ([]float32, error) {
	// Most OpenAI embedding models cap input at 8191 tokens.
	if len(text) > 30000 {
		text = text[:30000]
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

		vec, err := p.embedOnce(ctx, text)
		if err == nil {
			if err := validateEmbedding(vec, p.dims); err != nil {
				return nil, err
			}
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var he *httpError
		if errors.As(err, &he) && !he.isRetryable() {
			return nil, fault.Wrap(fault.KindTransient, err, "openai embedding")
		}
		lastErr = err
	}
	return nil, fault.Wrapf(fault.KindTransient, lastErr, "openai embedding failed after %d attempts", embedAttempts)
}

func (p *OpenAIProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	reqBody := openaiEmbedRequest{
		Input: text,
		Model: p.model,
	}
	// text-embedding-3-* models accept a requested output width.
	if p.dims > 0 && isVariableDimModel(p.model) {
		reqBody.Dimensions = p.dims
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &httpError{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai error: %s", result.Error.Message)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return result.Data[0].Embedding, nil
}

// isVariableDimModel reports whether the model accepts a custom output
// dimension in the request.
func isVariableDimModel(model string) bool {
	return model == "text-embedding-3-small" || model == "text-embedding-3-large"
}
