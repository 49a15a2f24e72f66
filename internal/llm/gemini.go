package llm

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

// GeminiClassifier classifies notes via the Google Gemini API.
type GeminiClassifier struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func newGeminiClassifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (*GeminiClassifier, error) {
	if cfg.GeminiKey == "" {
		return nil, fault.Newf(fault.KindPrecondition, "chat model %q needs a Gemini API key", cfg.LLMModel).
			WithHint("set PARAKEET_GEMINI_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiKey})
	if err != nil {
		return nil, fault.Wrap(fault.KindPrecondition, err, "create gemini client")
	}
	return &GeminiClassifier{
		client: client,
		model:  cfg.LLMModel,
		log:    log,
	}, nil
}

func (c *GeminiClassifier) Name() string  { return config.ProviderGemini }
func (c *GeminiClassifier) Model() string { return c.model }

// Classify asks Gemini for a category verdict.
func (c *GeminiClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	return classify(ctx, c.generate, req, c.log)
}

func (c *GeminiClassifier) generate(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.LLMTimeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.1),
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}
