package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/docrag/internal/types"
)

// ChunkDelimiter separates chunks in the model's response.
const ChunkDelimiter = "<CHUNK>"

const chunkTemplate = `Divide the following document into logical semantic chunks. Keep each chunk meaningful and coherent.

Return chunks separated by: <CHUNK>

Text:
{{.text}}`

type ProcessorConfig struct {
	MaxInputChars int // longest text sent to the model in one call, in runes
	WindowOverlap int
}

// Chunker asks a language model to split text into semantic chunks.
type Chunker struct {
	config   ProcessorConfig
	gen      types.Generator
	prompt   prompts.PromptTemplate
	splitter textsplitter.RecursiveCharacter
}

var _ types.Chunker = (*Chunker)(nil)

func NewWithConfig(config ProcessorConfig, gen types.Generator) *Chunker {
	if config.MaxInputChars == 0 {
		config.MaxInputChars = 24000
	}
	if config.WindowOverlap < 0 || config.WindowOverlap >= config.MaxInputChars {
		config.WindowOverlap = 0
	}

	return &Chunker{
		config: config,
		gen:    gen,
		prompt: prompts.NewPromptTemplate(chunkTemplate, []string{"text"}),
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.MaxInputChars),
			textsplitter.WithChunkOverlap(config.WindowOverlap),
		),
	}
}

// Chunk returns the model's chunks for text in document order. Text longer
// than MaxInputChars is chunked one window at a time.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	windows, err := c.windows(text)
	if err != nil {
		return nil, err
	}

	var chunks []string
	for i, window := range windows {
		prompt, err := c.prompt.Format(map[string]any{"text": window})
		if err != nil {
			return nil, fmt.Errorf("failed to format chunk prompt: %w", err)
		}

		response, err := c.gen.Generate(ctx, prompt)
		if err != nil {
			if len(windows) > 1 {
				return nil, fmt.Errorf("failed to chunk window %d/%d: %w", i+1, len(windows), err)
			}
			return nil, fmt.Errorf("failed to chunk text: %w", err)
		}

		chunks = append(chunks, SplitChunks(response)...)
	}

	return chunks, nil
}

func (c *Chunker) windows(text string) ([]string, error) {
	if len([]rune(text)) <= c.config.MaxInputChars {
		return []string{text}, nil
	}

	windows, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	return windows, nil
}

// SplitChunks splits a model response on ChunkDelimiter, trimming each piece
// and dropping empty ones.
func SplitChunks(response string) []string {
	var chunks []string
	for _, piece := range strings.Split(response, ChunkDelimiter) {
		if piece = strings.TrimSpace(piece); piece != "" {
			chunks = append(chunks, piece)
		}
	}
	return chunks
}
