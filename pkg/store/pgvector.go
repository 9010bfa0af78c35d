package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/xhad/docrag/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorFactory owns the connection pool and the chunk table. Every
// session gets a PGVectorIndex scoped to its own rows.
type PGVectorFactory struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

var _ types.IndexFactory = (*PGVectorFactory)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder embeddings.Embedder) (*PGVectorFactory, error) {
	config, err := normalizeConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	f := &PGVectorFactory{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := f.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return f, nil
}

func normalizeConfig(config VectorStoreConfig) (VectorStoreConfig, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return config, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	return config, nil
}

func (f *PGVectorFactory) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := f.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB
		)`, f.config.TableName, f.config.VectorDim)

	if _, err = f.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id)`,
		f.config.TableName, f.config.TableName)

	if _, err = f.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (f *PGVectorFactory) NewIndex(_ context.Context, namespace string) (types.Index, error) {
	if namespace == "" {
		return nil, errors.New("namespace is required")
	}
	return &PGVectorIndex{factory: f, namespace: namespace}, nil
}

func (f *PGVectorFactory) Close() {
	if f.pool != nil {
		f.pool.Close()
	}
}

// PGVectorIndex is the slice of the chunk table that belongs to one session.
type PGVectorIndex struct {
	factory   *PGVectorFactory
	namespace string
}

var _ types.Index = (*PGVectorIndex)(nil)

func (idx *PGVectorIndex) embedder(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if idx.factory.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	return idx.factory.embedder, nil
}

func (idx *PGVectorIndex) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	emb, err := idx.embedder(getOptions(options...))
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = sanitizeUTF8(doc.PageContent)
	}

	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, errors.New("number of vectors from embedder does not match number of documents")
	}

	tx, err := idx.factory.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		idx.factory.config.TableName)

	ids := make([]string, len(docs))
	batch := &pgx.Batch{}
	for i, doc := range docs {
		ids[i] = fmt.Sprintf("%s_%d", idx.namespace, i)
		batch.Queue(stmt,
			ids[i],
			idx.namespace,
			i,
			texts[i],
			pgvector.NewVector(vectors[i]),
			doc.Metadata,
		)

		if batch.Len() >= idx.factory.config.BatchSize || i == len(docs)-1 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return nil, fmt.Errorf("failed to insert chunks: %w", err)
			}
			batch = &pgx.Batch{}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ids, nil
}

func (idx *PGVectorIndex) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := getOptions(options...)
	emb, err := idx.embedder(opts)
	if err != nil {
		return nil, err
	}

	queryVector, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE session_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		idx.factory.config.TableName)

	rows, err := idx.factory.pool.Query(ctx, sql, pgvector.NewVector(queryVector), idx.namespace, numDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var doc schema.Document
		var score float64
		if err := rows.Scan(&doc.PageContent, &doc.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Score = float32(score)
		if opts.ScoreThreshold > 0 && doc.Score < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Close deletes the session's rows.
func (idx *PGVectorIndex) Close(ctx context.Context) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, idx.factory.config.TableName)
	if _, err := idx.factory.pool.Exec(ctx, sql, idx.namespace); err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return nil
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}
