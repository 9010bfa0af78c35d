// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/docrag/internal/models"
)

// StreamingModel is an llms.Model that replays a fixed answer, streaming one
// token at a time when the caller asks for streaming.
type StreamingModel struct {
	Tokens []string
	Err    error

	mu       sync.Mutex
	calls    int
	messages [][]llms.MessageContent
}

var _ llms.Model = (*StreamingModel)(nil)

func NewStreamingModel(tokens ...string) *StreamingModel {
	return &StreamingModel{Tokens: tokens}
}

func (m *StreamingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls++
	m.messages = append(m.messages, messages)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.StreamingFunc != nil {
		for _, tok := range m.Tokens {
			if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: strings.Join(m.Tokens, "")}},
	}, nil
}

func (m *StreamingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls reports how many times the model was invoked.
func (m *StreamingModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastPrompt returns the concatenated text of the last call's messages.
func (m *StreamingModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, msg := range m.messages[len(m.messages)-1] {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

// LastMessages returns the messages of the last call.
func (m *StreamingModel) LastMessages() []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil
	}
	return m.messages[len(m.messages)-1]
}

// HashEmbedder embeds text as a normalized bag of hashed lowercase words, so
// texts sharing words land close to each other.
type HashEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	if h.Err != nil {
		return nil, h.Err
	}
	if h.Dim <= 0 {
		return nil, errors.New("dimension must be positive")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.Dim)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			f := fnv.New32a()
			_, _ = f.Write([]byte(w))
			vec[int(f.Sum32()%uint32(h.Dim))]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Calls reports how many CreateEmbedding requests were made.
func (h *HashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// TextLoader treats uploads as plain text, one page per form feed.
type TextLoader struct {
	Err error

	mu    sync.Mutex
	paths []string
}

func (l *TextLoader) Load(_ context.Context, path string) ([]models.Page, error) {
	l.mu.Lock()
	l.paths = append(l.paths, path)
	l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []models.Page
	for i, content := range strings.Split(string(data), "\f") {
		pages = append(pages, models.Page{Number: i + 1, Content: content})
	}
	return pages, nil
}

// Paths lists every file the loader was asked to read.
func (l *TextLoader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// ParagraphChunker splits text on blank lines.
type ParagraphChunker struct {
	Err error

	mu    sync.Mutex
	calls int
}

func (c *ParagraphChunker) Chunk(_ context.Context, text string) ([]string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	var chunks []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

func (c *ParagraphChunker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
