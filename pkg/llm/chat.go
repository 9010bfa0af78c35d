package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // "openai" or "ollama"
	Model       string
	APIKey      string
	BaseURL     string // OpenAI-compatible or Ollama server URL
	Temperature float64
	MaxTokens   int
}

// ChatEngine is an engine that uses an LLM to generate responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := normalizeChatConfig(config)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case "ollama":
		model, err = ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
	case "openai":
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	config, err := normalizeChatConfig(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func normalizeChatConfig(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Provider == "ollama" && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return config, nil
}

func (ce *ChatEngine) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

// Generate runs a single non-streaming completion of prompt.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	return response, nil
}

// Stream sends messages to the model and calls fn with every fragment in
// the order the model produces them. Models that do not stream deliver
// their whole answer as one fragment.
func (ce *ChatEngine) Stream(ctx context.Context, messages []llms.MessageContent, fn func(ctx context.Context, fragment string) error) error {
	streamed := false
	opts := append(ce.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		streamed = true
		return fn(ctx, string(chunk))
	}))

	response, err := ce.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return fmt.Errorf("chat error: %w", err)
	}
	if streamed {
		return nil
	}

	if response == nil || len(response.Choices) == 0 {
		return errors.New("no response from LLM")
	}
	if content := response.Choices[0].Content; content != "" {
		return fn(ctx, content)
	}
	return nil
}
