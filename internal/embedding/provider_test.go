package embedding

import (
	"context"
	"testing"

	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

func TestNewProviderRoutesOllama(t *testing.T) {
	cfg := &config.Config{EmbeddingModel: "nomic-embed-text"}
	p, err := NewProvider(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("expected ollama, got %q", p.Name())
	}
	if p.Dimensions() != 768 {
		t.Errorf("expected 768 dims, got %d", p.Dimensions())
	}
}

func TestNewProviderRoutesUnknownModelToOllama(t *testing.T) {
	cfg := &config.Config{EmbeddingModel: "my-custom-embedder"}
	p, err := NewProvider(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("expected ollama for unknown model, got %q", p.Name())
	}
}

func TestNewProviderOpenAIWithoutKey(t *testing.T) {
	cfg := &config.Config{EmbeddingModel: "text-embedding-3-large"}
	_, err := NewProvider(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error without API key")
	}
	if fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("expected precondition fault, got %v", fault.KindOf(err))
	}
}

func TestNewProviderGeminiWithoutKey(t *testing.T) {
	cfg := &config.Config{EmbeddingModel: "gemini-embedding-001"}
	_, err := NewProvider(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error without API key")
	}
	if fault.KindOf(err) != fault.KindPrecondition {
		t.Errorf("expected precondition fault, got %v", fault.KindOf(err))
	}
	if fault.HintOf(err) == "" {
		t.Error("expected a remediation hint")
	}
}

func TestNewProviderGemini(t *testing.T) {
	cfg := &config.Config{
		EmbeddingModel: "gemini-embedding-001",
		GeminiKey:      "test-key",
	}
	p, err := NewProvider(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("expected gemini, got %q", p.Name())
	}
	if p.Dimensions() != 3072 {
		t.Errorf("expected 3072 dims, got %d", p.Dimensions())
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name     string
		vec      []float32
		wantDims int
		wantErr  bool
	}{
		{"valid", []float32{0.1, 0.2, 0.3}, 3, false},
		{"width unchecked when zero", []float32{0.1, 0.2}, 0, false},
		{"wrong width", []float32{0.1, 0.2}, 3, true},
		{"all zeros", []float32{0, 0, 0}, 3, true},
		{"empty", nil, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEmbedding(tt.vec, tt.wantDims)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateEmbedding() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
