package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/xhad/docrag/internal/types"
)

var ErrClosed = errors.New("index is closed")

// MemoryIndex is an in-process vector index using brute-force cosine
// similarity. One instance backs exactly one session.
type MemoryIndex struct {
	mu       sync.RWMutex
	embedder embeddings.Embedder
	docs     []schema.Document
	vectors  [][]float32
	closed   bool
}

var _ types.Index = (*MemoryIndex)(nil)

func NewMemoryIndex(embedder embeddings.Embedder) *MemoryIndex {
	return &MemoryIndex{embedder: embedder}
}

func (m *MemoryIndex) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := getOptions(options...)
	embedder := m.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}
	if embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, errors.New("number of vectors from embedder does not match number of documents")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = strconv.Itoa(len(m.docs))
		m.docs = append(m.docs, doc)
		m.vectors = append(m.vectors, vectors[i])
	}
	return ids, nil
}

func (m *MemoryIndex) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := getOptions(options...)
	embedder := m.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}
	if embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	queryVector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	type scored struct {
		idx   int
		score float32
	}
	results := make([]scored, 0, len(m.vectors))
	for i, v := range m.vectors {
		s := cosine(queryVector, v)
		if opts.ScoreThreshold > 0 && s < opts.ScoreThreshold {
			continue
		}
		results = append(results, scored{idx: i, score: s})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if numDocuments > 0 && numDocuments < len(results) {
		results = results[:numDocuments]
	}

	docs := make([]schema.Document, len(results))
	for i, r := range results {
		doc := m.docs[r.idx]
		doc.Score = r.score
		docs[i] = doc
	}
	return docs, nil
}

// Len returns the number of indexed chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.docs = nil
	m.vectors = nil
	return nil
}

// MemoryFactory hands out a fresh MemoryIndex per session.
type MemoryFactory struct {
	Embedder embeddings.Embedder
}

var _ types.IndexFactory = MemoryFactory{}

func (f MemoryFactory) NewIndex(context.Context, string) (types.Index, error) {
	return NewMemoryIndex(f.Embedder), nil
}

func getOptions(options ...vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
