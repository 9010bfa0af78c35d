package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/loader"
	"github.com/xhad/docrag/pkg/session"
	"go.uber.org/zap"
)

const StatusProcessed = "PDF Processed Successfully ✅"

var (
	ErrEmptyDocument = errors.New("no text could be extracted from the document")
	ErrNoChunks      = errors.New("document produced no chunks")
)

type IngestorConfig struct {
	TopK    int
	TempDir string // defaults to os.TempDir()
}

// IngestResult is reported back to the uploader.
type IngestResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
}

// Ingestor turns an uploaded PDF into a registered session.
type Ingestor struct {
	config   IngestorConfig
	loader   types.Loader
	chunker  types.Chunker
	indexes  types.IndexFactory
	sessions *session.Store
	logger   *zap.Logger
}

func NewIngestor(config IngestorConfig, l types.Loader, c types.Chunker, indexes types.IndexFactory, sessions *session.Store, logger *zap.Logger) *Ingestor {
	if config.TopK == 0 {
		config.TopK = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		config:   config,
		loader:   l,
		chunker:  c,
		indexes:  indexes,
		sessions: sessions,
		logger:   logger,
	}
}

// Ingest runs the whole pipeline for one upload. Nothing is registered
// unless every step succeeds.
func (in *Ingestor) Ingest(ctx context.Context, r io.Reader, filename string) (IngestResult, error) {
	path, err := in.persist(r, filename)
	if err != nil {
		return IngestResult{}, err
	}
	defer os.Remove(path)

	doc, err := in.process(ctx, path, filename)
	if err != nil {
		return IngestResult{}, err
	}

	index, err := in.indexes.NewIndex(ctx, uuid.NewString())
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to create index: %w", err)
	}

	docs := make([]schema.Document, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		docs[i] = schema.Document{
			PageContent: chunk,
			Metadata: map[string]any{
				"source":      filename,
				"chunk_index": i,
			},
		}
	}

	if _, err := index.AddDocuments(ctx, docs); err != nil {
		if cerr := index.Close(context.WithoutCancel(ctx)); cerr != nil {
			in.logger.Warn("Failed to release partial index", zap.Error(cerr))
		}
		return IngestResult{}, fmt.Errorf("failed to index chunks: %w", err)
	}

	id := in.sessions.Create(
		vectorstores.ToRetriever(index, in.config.TopK),
		doc.FullText,
		session.Meta{
			Filename: filename,
			Pages:    len(doc.Pages),
			Chunks:   len(doc.Chunks),
			Release:  index.Close,
		},
	)

	return IngestResult{
		Status:    StatusProcessed,
		SessionID: id,
		Pages:     len(doc.Pages),
		Chunks:    len(doc.Chunks),
	}, nil
}

func (in *Ingestor) persist(r io.Reader, filename string) (string, error) {
	suffix := strings.ToLower(filepath.Ext(filename))
	if suffix == "" {
		suffix = ".pdf"
	}

	f, err := os.CreateTemp(in.config.TempDir, "docrag-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return f.Name(), nil
}

func (in *Ingestor) process(ctx context.Context, path, filename string) (models.ProcessedDocument, error) {
	pages, err := in.loader.Load(ctx, path)
	if err != nil {
		return models.ProcessedDocument{}, fmt.Errorf("failed to load document: %w", err)
	}

	fullText := loader.JoinPages(pages)
	if strings.TrimSpace(fullText) == "" {
		return models.ProcessedDocument{}, ErrEmptyDocument
	}

	chunks, err := in.chunker.Chunk(ctx, fullText)
	if err != nil {
		return models.ProcessedDocument{}, fmt.Errorf("failed to chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return models.ProcessedDocument{}, ErrNoChunks
	}

	in.logger.Debug("Document processed",
		zap.String("filename", filename),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
	)

	return models.ProcessedDocument{
		Filename: filename,
		Pages:    pages,
		FullText: fullText,
		Chunks:   chunks,
	}, nil
}
