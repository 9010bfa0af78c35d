package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	BatchSize         int
	RequestsPerSecond float64 // 0 disables throttling
}

// Embedder maps text to vectors through a provider client. Calls to the
// provider are throttled by a shared limiter.
type Embedder struct {
	Config EmbedderConfig
	embeddings.Embedder
	limiter *rate.Limiter
}

var _ embeddings.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		emb, err := ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	case "openai":
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}

	return NewEmbedderWithClient(client, config)
}

// NewEmbedderWithClient builds an Embedder on top of any embedding client.
func NewEmbedderWithClient(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	e := &Embedder{Config: config}
	if config.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	throttled := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return client.CreateEmbedding(ctx, texts)
	})

	impl, err := embeddings.NewEmbedder(throttled, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	e.Embedder = impl
	return e, nil
}
