// Package session keeps ingested documents addressable by an opaque id.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/docrag/internal/models"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("session not found")

const releaseTimeout = 30 * time.Second

type StoreConfig struct {
	Capacity int           // most sessions kept before the least recently used is evicted
	TTL      time.Duration // lifetime from creation, negative disables expiry
}

// Meta describes the document behind a session. Release, when set, runs once
// the session leaves the store for any reason.
type Meta struct {
	Filename string
	Pages    int
	Chunks   int
	Release  func(ctx context.Context) error
}

type entry struct {
	session models.Session
	release func(ctx context.Context) error
}

// Store is a bounded, concurrency-safe session registry.
type Store struct {
	config StoreConfig
	cache  *expirable.LRU[string, *entry]
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewWithConfig(config StoreConfig, logger *zap.Logger) *Store {
	if config.Capacity <= 0 {
		config.Capacity = 100
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{config: config, logger: logger}
	ttl := config.TTL
	if ttl < 0 {
		ttl = 0
	}
	s.cache = expirable.NewLRU[string, *entry](config.Capacity, s.onEvict, ttl)
	return s
}

func New(logger *zap.Logger) *Store {
	return NewWithConfig(StoreConfig{}, logger)
}

// Create registers a new session and returns its id.
func (s *Store) Create(retriever schema.Retriever, fullText string, meta Meta) string {
	id := uuid.NewString()
	s.cache.Add(id, &entry{
		session: models.Session{
			ID:        id,
			Retriever: retriever,
			FullText:  fullText,
			Filename:  meta.Filename,
			Pages:     meta.Pages,
			Chunks:    meta.Chunks,
			CreatedAt: time.Now(),
		},
		release: meta.Release,
	})

	s.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("filename", meta.Filename),
		zap.Int("chunks", meta.Chunks),
	)
	return id
}

// Get looks up a session. A missing or expired id is reported with ok false.
func (s *Store) Get(id string) (models.Session, bool) {
	e, ok := s.cache.Get(id)
	if !ok {
		return models.Session{}, false
	}
	return e.session, true
}

// Lookup is Get with ErrNotFound for absent ids.
func (s *Store) Lookup(id string) (models.Session, error) {
	sess, ok := s.Get(id)
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return sess, nil
}

// Close removes a session and releases its index. It reports whether the
// session existed.
func (s *Store) Close(id string) bool {
	if _, ok := s.cache.Peek(id); !ok {
		return false
	}
	return s.cache.Remove(id)
}

func (s *Store) Len() int {
	return s.cache.Len()
}

// Shutdown drops every session and waits for their releases to finish.
func (s *Store) Shutdown(ctx context.Context) error {
	s.cache.Purge()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onEvict runs under the cache lock, so releases happen in the background.
func (s *Store) onEvict(id string, e *entry) {
	s.logger.Debug("Session removed", zap.String("session_id", id))
	if e.release == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := e.release(ctx); err != nil {
			s.logger.Warn("Failed to release session index", zap.String("session_id", id), zap.Error(err))
		}
	}()
}
