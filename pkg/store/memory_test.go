package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/xhad/docrag/internal/testutil"
	"github.com/xhad/docrag/pkg/store"
)

func newEmbedder(t *testing.T) embeddings.Embedder {
	t.Helper()
	emb, err := embeddings.NewEmbedder(testutil.NewHashEmbedder(1024))
	require.NoError(t, err)
	return emb
}

func chunkDocs(chunks ...string) []schema.Document {
	docs := make([]schema.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = schema.Document{PageContent: c, Metadata: map[string]any{"chunk": i}}
	}
	return docs
}

func TestMemoryIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(newEmbedder(t))

	ids, err := idx.AddDocuments(ctx, chunkDocs(
		"The invoice total is 42 dollars.",
		"Cats sleep most of the day.",
		"Payment of the invoice is due in March.",
	))
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, 3, idx.Len())

	results, err := idx.SimilaritySearch(ctx, "invoice total", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "The invoice total is 42 dollars.", results[0].PageContent)
	assert.Contains(t, results[1].PageContent, "invoice")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, 0, results[0].Metadata["chunk"])
}

func TestMemoryIndexFewerThanK(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(newEmbedder(t))

	_, err := idx.AddDocuments(ctx, chunkDocs("only chunk"))
	require.NoError(t, err)

	results, err := idx.SimilaritySearch(ctx, "anything", 4)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryIndexScoreThreshold(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(newEmbedder(t))

	_, err := idx.AddDocuments(ctx, chunkDocs("alpha beta", "gamma delta"))
	require.NoError(t, err)

	results, err := idx.SimilaritySearch(ctx, "alpha beta", 4, vectorstores.WithScoreThreshold(0.9))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha beta", results[0].PageContent)
}

func TestMemoryIndexEmbedderError(t *testing.T) {
	client := testutil.NewHashEmbedder(8)
	client.Err = errors.New("quota exceeded")
	emb, err := embeddings.NewEmbedder(client)
	require.NoError(t, err)

	idx := store.NewMemoryIndex(emb)
	_, err = idx.AddDocuments(context.Background(), chunkDocs("x"))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMemoryIndexClose(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(newEmbedder(t))

	_, err := idx.AddDocuments(ctx, chunkDocs("a b c"))
	require.NoError(t, err)
	require.NoError(t, idx.Close(ctx))

	assert.Equal(t, 0, idx.Len())
	_, err = idx.SimilaritySearch(ctx, "a", 1)
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = idx.AddDocuments(ctx, chunkDocs("d"))
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestMemoryFactoryIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	f := store.MemoryFactory{Embedder: newEmbedder(t)}

	a, err := f.NewIndex(ctx, "a")
	require.NoError(t, err)
	b, err := f.NewIndex(ctx, "b")
	require.NoError(t, err)

	_, err = a.AddDocuments(ctx, chunkDocs("document A content"))
	require.NoError(t, err)
	_, err = b.AddDocuments(ctx, chunkDocs("document B content"))
	require.NoError(t, err)

	results, err := a.SimilaritySearch(ctx, "document", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "document A content", results[0].PageContent)
}

func TestMemoryIndexAsRetriever(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(newEmbedder(t))

	_, err := idx.AddDocuments(ctx, chunkDocs("one", "two", "three", "four", "five"))
	require.NoError(t, err)

	docs, err := vectorstores.ToRetriever(idx, 4).GetRelevantDocuments(ctx, "two")
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, "two", docs[0].PageContent)
}
