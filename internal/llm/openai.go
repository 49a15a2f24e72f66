package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

const openaiDefaultURL = "https://api.openai.com"

// OpenAIClassifier classifies notes via the OpenAI API or any server
// exposing a compatible /v1/chat/completions endpoint.
type OpenAIClassifier struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	log        *zap.Logger
}

// newOpenAIClassifier requires an API key for the hosted endpoint. Local
// compatible servers (set via openai_url) may run keyless.
func newOpenAIClassifier(cfg *config.Config, log *zap.Logger) (*OpenAIClassifier, error) {
	baseURL := strings.TrimRight(cfg.OpenAIURL, "/")
	if baseURL == "" {
		baseURL = openaiDefaultURL
	}
	if cfg.OpenAIKey == "" && baseURL == openaiDefaultURL {
		return nil, fault.Newf(fault.KindPrecondition, "chat model %q needs an OpenAI API key", cfg.LLMModel).
			WithHint("set PARAKEET_OPENAI_KEY, or point openai_url at a local compatible server")
	}
	return &OpenAIClassifier{
		httpClient: &http.Client{Timeout: config.LLMTimeout},
		baseURL:    baseURL,
		model:      cfg.LLMModel,
		apiKey:     cfg.OpenAIKey,
		log:        log,
	}, nil
}

func (c *OpenAIClassifier) Name() string  { return config.ProviderOpenAI }
func (c *OpenAIClassifier) Model() string { return c.model }

// Classify asks the chat model for a category verdict.
func (c *OpenAIClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	return classify(ctx, c.generate, req, c.log)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *chatError `json:"error,omitempty"`
}

// generate requests JSON mode via response_format. Some compatible servers
// reject the field; a 400 that names it gets one plain retry, and the reply
// contract is enforced by the parser either way.
func (c *OpenAIClassifier) generate(ctx context.Context, system, user string) (string, error) {
	raw, err := c.generateOnce(ctx, system, user, true)
	var he *httpError
	if err != nil && errors.As(err, &he) && he.StatusCode == http.StatusBadRequest &&
		strings.Contains(he.Body, "response_format") {
		c.log.Debug("server rejected response_format, retrying without it",
			zap.String("model", c.model))
		return c.generateOnce(ctx, system, user, false)
	}
	return raw, err
}

func (c *OpenAIClassifier) generateOnce(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	}
	if jsonMode {
		reqBody.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &httpError{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("openai error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("no completion returned")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// Ping verifies the endpoint answers with valid credentials.
func (c *OpenAIClassifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindTransient, err, "chat endpoint unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.Newf(fault.KindPrecondition, "chat endpoint rejected the API key (%d)", resp.StatusCode).
			WithHint("check PARAKEET_OPENAI_KEY")
	default:
		return fault.Newf(fault.KindTransient, "chat endpoint returned %d", resp.StatusCode)
	}
}
