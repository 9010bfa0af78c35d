package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docrag/pkg/session"
	"go.uber.org/zap/zaptest"
)

func TestCreateReturnsDistinctIDs(t *testing.T) {
	s := session.New(zaptest.NewLogger(t))

	a := s.Create(nil, "same text", session.Meta{Filename: "a.pdf"})
	b := s.Create(nil, "same text", session.Meta{Filename: "a.pdf"})

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Len())

	sess, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, a, sess.ID)
	assert.Equal(t, "same text", sess.FullText)
	assert.Equal(t, "a.pdf", sess.Filename)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestGetUnknownID(t *testing.T) {
	s := session.New(nil)

	_, ok := s.Get("does-not-exist")
	assert.False(t, ok)

	_, err := s.Lookup("does-not-exist")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCloseReleasesIndex(t *testing.T) {
	s := session.New(nil)

	var released atomic.Int32
	id := s.Create(nil, "text", session.Meta{Release: func(context.Context) error {
		released.Add(1)
		return nil
	}})

	assert.True(t, s.Close(id))
	assert.False(t, s.Close(id))

	_, ok := s.Get(id)
	assert.False(t, ok)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, int32(1), released.Load())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	s := session.NewWithConfig(session.StoreConfig{Capacity: 2}, nil)

	var mu sync.Mutex
	var released []string
	release := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			released = append(released, name)
			return nil
		}
	}

	first := s.Create(nil, "one", session.Meta{Release: release("one")})
	second := s.Create(nil, "two", session.Meta{Release: release("two")})

	// Touch the first so the second becomes least recently used.
	_, ok := s.Get(first)
	require.True(t, ok)

	third := s.Create(nil, "three", session.Meta{Release: release("three")})

	assert.Equal(t, 2, s.Len())
	_, ok = s.Get(second)
	assert.False(t, ok)
	_, ok = s.Get(first)
	assert.True(t, ok)
	_, ok = s.Get(third)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1 && released[0] == "two"
	}, time.Second, 10*time.Millisecond)
}

func TestTTLExpiresSessions(t *testing.T) {
	s := session.NewWithConfig(session.StoreConfig{TTL: 50 * time.Millisecond}, nil)

	var released atomic.Int32
	id := s.Create(nil, "text", session.Meta{Release: func(context.Context) error {
		released.Add(1)
		return nil
	}})

	_, ok := s.Get(id)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := s.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return released.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNegativeTTLNeverExpires(t *testing.T) {
	s := session.NewWithConfig(session.StoreConfig{TTL: -1}, nil)

	id := s.Create(nil, "text", session.Meta{})
	time.Sleep(20 * time.Millisecond)

	_, ok := s.Get(id)
	assert.True(t, ok)
}

func TestReleaseErrorIsNotFatal(t *testing.T) {
	s := session.New(zaptest.NewLogger(t))

	id := s.Create(nil, "text", session.Meta{Release: func(context.Context) error {
		return errors.New("database gone")
	}})

	assert.True(t, s.Close(id))
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestConcurrentCreate(t *testing.T) {
	s := session.NewWithConfig(session.StoreConfig{Capacity: 1000}, nil)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.Create(nil, "text", session.Meta{})
			_, ok := s.Get(ids[i])
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, n, s.Len())
}
