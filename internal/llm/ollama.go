package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

const maxResponseBytes = 10 << 20

// OllamaClassifier classifies notes via a local Ollama instance.
type OllamaClassifier struct {
	httpClient *http.Client
	baseURL    string
	model      string
	log        *zap.Logger
}

// newOllamaClassifier rejects non-localhost base URLs so note content is
// never sent to a remote endpoint by accident.
func newOllamaClassifier(cfg *config.Config, log *zap.Logger) (*OllamaClassifier, error) {
	baseURL, err := cfg.OllamaLocalURL()
	if err != nil {
		return nil, err
	}
	model := cfg.LLMModel
	if model == "" {
		model = config.LLMModel
	}
	return &OllamaClassifier{
		httpClient: &http.Client{Timeout: config.LLMTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		log:        log,
	}, nil
}

func (c *OllamaClassifier) Name() string  { return config.ProviderOllama }
func (c *OllamaClassifier) Model() string { return c.model }

// Classify asks the local model for a category verdict.
func (c *OllamaClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	return classify(ctx, c.generate, req, c.log)
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

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (c *OllamaClassifier) generate(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		System: system,
		Prompt: user,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &httpError{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

// ChatModel is one entry from the Ollama model list.
type ChatModel struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type ollamaTagsResponse struct {
	Models []ChatModel `json:"models"`
}

// embedOnlyModels are known embedding models that cannot generate text.
var embedOnlyModels = map[string]bool{
	"nomic-embed-text":        true,
	"nomic-embed-text-v2-moe": true,
	"mxbai-embed-large":       true,
	"all-minilm":              true,
	"snowflake-arctic-embed":  true,
	"snowflake-arctic-embed2": true,
	"embeddinggemma":          true,
	"qwen3-embedding":         true,
	"bge-base-en":             true,
	"bge-large-en":            true,
	"bge-m3":                  true,
}

// ListChatModels returns the chat-capable models the server has pulled,
// excluding embedding-only models.
func (c *OllamaClassifier) ListChatModels(ctx context.Context) ([]ChatModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var chat []ChatModel
	for _, m := range tags.Models {
		if embedOnlyModels[baseModelName(m.Name)] {
			continue
		}
		chat = append(chat, m)
	}
	return chat, nil
}

// preferredChatModels lists models in preference order, smallest first.
// Classification prompts are short; a 1-3B model answers in under a second.
var preferredChatModels = []string{
	"llama3.2:1b", "llama3.2:3b", "llama3.2",
	"qwen2.5:3b", "qwen2.5:7b", "qwen2.5",
	"llama3.1:8b", "mistral", "gemma2", "phi3",
}

// PickBestModel selects the best available chat model, or "" when the
// server has none pulled.
func (c *OllamaClassifier) PickBestModel(ctx context.Context) (string, error) {
	models, err := c.ListChatModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", nil
	}

	available := make(map[string]bool, len(models))
	for _, m := range models {
		available[m.Name] = true
	}
	for _, pref := range preferredChatModels {
		if available[pref] {
			return pref, nil
		}
	}
	return models[0].Name, nil
}

// Ping verifies the server answers and the configured model is pulled.
func (c *OllamaClassifier) Ping(ctx context.Context) error {
	models, err := c.ListChatModels(ctx)
	if err != nil {
		return fault.Wrap(fault.KindTransient, err, "ollama unreachable")
	}
	want := baseModelName(c.model)
	for _, m := range models {
		if m.Name == c.model || baseModelName(m.Name) == want {
			return nil
		}
	}
	return fault.Newf(fault.KindPrecondition, "model %q is not pulled", c.model).
		WithHint(fmt.Sprintf("run: ollama pull %s", c.model))
}

// baseModelName strips the tag from "name:tag".
func baseModelName(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}
