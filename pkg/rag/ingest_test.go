package rag_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docrag/pkg/rag"
)

func TestIngest(t *testing.T) {
	f := newFixture(t)

	res, err := f.ingestor.Ingest(context.Background(), strings.NewReader(sampleDoc), "contract.pdf")
	require.NoError(t, err)

	assert.Equal(t, rag.StatusProcessed, res.Status)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Chunks)

	sess, ok := f.sessions.Get(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, "contract.pdf", sess.Filename)
	assert.Equal(t, strings.ReplaceAll(sampleDoc, "\f", "\n"), sess.FullText)

	docs, err := sess.Retriever.GetRelevantDocuments(context.Background(), "warranty labor")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].PageContent, "Labor")
	assert.Equal(t, "contract.pdf", docs[0].Metadata["source"])
}

func TestIngestRemovesTempFile(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, sampleDoc)

	paths := f.loader.Paths()
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], ".pdf"))
	_, err := os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestSameUploadTwice(t *testing.T) {
	f := newFixture(t)

	a := f.ingest(t, sampleDoc)
	b := f.ingest(t, sampleDoc)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, f.sessions.Len())
}

func TestIngestFailures(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		setup   func(f *fixture)
		wantErr error
		wantMsg string
		indexed bool
	}{
		{
			name:    "loader error",
			text:    sampleDoc,
			setup:   func(f *fixture) { f.loader.Err = errors.New("malformed xref") },
			wantMsg: "malformed xref",
		},
		{
			name:    "empty text",
			text:    " \n\f\n ",
			wantErr: rag.ErrEmptyDocument,
		},
		{
			name:    "chunker error",
			text:    sampleDoc,
			setup:   func(f *fixture) { f.chunker.Err = errUpstream },
			wantErr: errUpstream,
		},
		{
			name:    "embedding error",
			text:    sampleDoc,
			setup:   func(f *fixture) { f.embedder.Err = errUpstream },
			wantErr: errUpstream,
			indexed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.ingestor.Ingest(context.Background(), strings.NewReader(tt.text), "doc.pdf")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.ErrorContains(t, err, tt.wantMsg)
			}

			assert.Equal(t, 0, f.sessions.Len())

			created, released := f.indexes.counts()
			assert.Equal(t, created, released)
			if tt.indexed {
				assert.Equal(t, 1, created)
			}

			entries, err := os.ReadDir(f.tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestIngestEmptyTextSkipsChunker(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingestor.Ingest(context.Background(), strings.NewReader("   "), "blank.pdf")
	assert.ErrorIs(t, err, rag.ErrEmptyDocument)
	assert.Equal(t, 0, f.chunker.Calls())
}

func TestConcurrentIngestion(t *testing.T) {
	f := newFixture(t, "ok")

	texts := []string{
		"Apples grow on trees in the orchard.",
		"Submarines travel deep under the ocean.",
	}
	ids := make([]string, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			res, err := f.ingestor.Ingest(context.Background(), strings.NewReader(text), "doc.pdf")
			assert.NoError(t, err)
			ids[i] = res.SessionID
		}(i, text)
	}
	wg.Wait()

	require.NotEqual(t, ids[0], ids[1])
	for i, id := range ids {
		sess, ok := f.sessions.Get(id)
		require.True(t, ok)
		assert.Equal(t, texts[i], sess.FullText)

		docs, err := sess.Retriever.GetRelevantDocuments(context.Background(), "anything")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, texts[i], docs[0].PageContent)
	}
}

func TestClosingSessionReleasesIndex(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, sampleDoc)

	require.True(t, f.sessions.Close(id))
	require.NoError(t, f.sessions.Shutdown(context.Background()))

	created, released := f.indexes.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, released)
}
