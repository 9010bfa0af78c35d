package rag_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/docrag/internal/testutil"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/llm"
	"github.com/xhad/docrag/pkg/rag"
	"github.com/xhad/docrag/pkg/session"
	"github.com/xhad/docrag/pkg/store"
	"go.uber.org/zap/zaptest"
)

// trackingFactory counts how many indexes were built and released.
type trackingFactory struct {
	inner types.IndexFactory

	mu       sync.Mutex
	created  int
	released int
}

type trackedIndex struct {
	types.Index
	f *trackingFactory
}

func (i trackedIndex) Close(ctx context.Context) error {
	i.f.mu.Lock()
	i.f.released++
	i.f.mu.Unlock()
	return i.Index.Close(ctx)
}

func (f *trackingFactory) NewIndex(ctx context.Context, namespace string) (types.Index, error) {
	idx, err := f.inner.NewIndex(ctx, namespace)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return trackedIndex{Index: idx, f: f}, nil
}

func (f *trackingFactory) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.released
}

type fixture struct {
	loader   *testutil.TextLoader
	chunker  *testutil.ParagraphChunker
	embedder *testutil.HashEmbedder
	indexes  *trackingFactory
	sessions *session.Store
	model    *testutil.StreamingModel
	ingestor *rag.Ingestor
	orch     *rag.Orchestrator
	tempDir  string
}

func newFixture(t *testing.T, tokens ...string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		loader:   &testutil.TextLoader{},
		chunker:  &testutil.ParagraphChunker{},
		embedder: testutil.NewHashEmbedder(1024),
		model:    testutil.NewStreamingModel(tokens...),
		sessions: session.New(logger),
		tempDir:  t.TempDir(),
	}

	emb, err := embeddings.NewEmbedder(f.embedder)
	require.NoError(t, err)
	f.indexes = &trackingFactory{inner: store.MemoryFactory{Embedder: emb}}

	gen, err := llm.NewWithModel(f.model, llm.ChatConfig{Temperature: 0.5})
	require.NoError(t, err)

	f.ingestor = rag.NewIngestor(rag.IngestorConfig{TopK: 2, TempDir: f.tempDir}, f.loader, f.chunker, f.indexes, f.sessions, logger)
	f.orch = rag.NewOrchestrator(rag.OrchestratorConfig{MaxInputChars: 200}, f.sessions, gen, logger)
	return f
}

func (f *fixture) ingest(t *testing.T, text string) string {
	t.Helper()
	res, err := f.ingestor.Ingest(context.Background(), strings.NewReader(text), "doc.pdf")
	require.NoError(t, err)
	return res.SessionID
}

func collect(t *testing.T, run func(fn func(string) error) error) []string {
	t.Helper()
	var fragments []string
	require.NoError(t, run(func(s string) error {
		fragments = append(fragments, s)
		return nil
	}))
	return fragments
}

var errUpstream = errors.New("upstream unavailable")

const sampleDoc = "Invoices are due within thirty days.\n\nLate invoices incur a five percent fee.\f" +
	"The warranty covers parts for two years.\n\nLabor is not covered by the warranty."
