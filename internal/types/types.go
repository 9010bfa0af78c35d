package types

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/xhad/docrag/internal/models"
)

// Core interfaces
type Loader interface {
	Load(ctx context.Context, path string) ([]models.Page, error)
}

type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// Index is a vector store owned by exactly one session.
type Index interface {
	vectorstores.VectorStore
	Close(ctx context.Context) error
}

// IndexFactory builds a fresh, empty index for a session.
type IndexFactory interface {
	NewIndex(ctx context.Context, namespace string) (Index, error)
}

// Generator streams text from a language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, messages []llms.MessageContent, fn func(ctx context.Context, fragment string) error) error
}
