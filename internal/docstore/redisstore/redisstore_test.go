package redisstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/docstore/storetest"
)

// setupTestStore connects a store to a fresh miniredis instance.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	s, err := New(&redis.Options{Addr: mr.Addr()}, "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestNew(t *testing.T) {
	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := New(&redis.Options{Addr: "localhost:6379"}, "", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("open parses url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := Open(context.Background(), "redis://"+mr.Addr()+"/0", "test", nil)
		require.NoError(t, err)
		defer s.Close()
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("open rejects bad url", func(t *testing.T) {
		_, err := Open(context.Background(), "not a url", "test", nil)
		assert.Error(t, err)
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := setupTestStore(t)
	id, err := s.Insert(context.Background(), "boards", docstore.Document{"name": "x"})
	require.NoError(t, err)

	assert.True(t, mr.Exists(docKey("test", "boards", id)))
	members, err := mr.Members(idsKey("test", "boards"))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members)
	assert.Equal(t, "1", mr.HGet(docKey("test", "boards", id), fieldVersion))
}

func TestNamespacesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(&redis.Options{Addr: mr.Addr()}, "a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := New(&redis.Options{Addr: mr.Addr()}, "b", nil)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	_, err = a.Insert(ctx, "boards", docstore.Document{"name": "only in a"})
	require.NoError(t, err)

	got, err := b.Query(ctx, "boards")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChangesCrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	writer, err := New(&redis.Options{Addr: mr.Addr()}, "shared", nil)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New(&redis.Options{Addr: mr.Addr()}, "shared", nil)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()
	sub, err := docstore.SubscribeQuery(ctx, reader, "cards", nil,
		func(snaps []docstore.Snapshot) (int, error) { return len(snaps), nil })
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 0, <-sub.Updates())

	_, err = writer.Insert(ctx, "cards", docstore.Document{"text": "hello"})
	require.NoError(t, err)

	select {
	case n := <-sub.Updates():
		assert.Equal(t, 1, n)
	case <-time.After(3 * time.Second):
		t.Fatal("reader never saw the writer's insert")
	}
}

func TestConcurrentUpdatesAllLand(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	id, err := s.Insert(ctx, "boards", docstore.Document{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, "boards", id, docstore.Document{fmt.Sprintf("f%d", i): i}))
		}(i)
	}
	wg.Wait()

	snap, err := s.Get(ctx, "boards", id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Version)
	for i := 0; i < 3; i++ {
		assert.Contains(t, snap.Data, fmt.Sprintf("f%d", i))
	}
}

func setupIndexedStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s, err := New(&redis.Options{Addr: mr.Addr()}, "test", nil, WithIndexes("boardId", "laneId"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestIndexedConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		s, _ := setupIndexedStore(t)
		return s
	})
}

func TestIndexSetsFollowWrites(t *testing.T) {
	s, mr := setupIndexedStore(t)
	ctx := context.Background()

	a, err := s.Insert(ctx, "cards", docstore.Document{"boardId": "b1", "laneId": "l1"})
	require.NoError(t, err)
	b, err := s.Insert(ctx, "cards", docstore.Document{"boardId": "b1", "laneId": "l2"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "cards", docstore.Document{"boardId": "b2", "laneId": "l1", "text": "elsewhere"})
	require.NoError(t, err)

	members, err := mr.Members(indexKey("test", "cards", "boardId", "b1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, members)

	got, err := s.Query(ctx, "cards", docstore.Where("boardId", "b1"), docstore.Where("laneId", "l1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].ID)

	// Moving a card swaps its lane index entry.
	require.NoError(t, s.Update(ctx, "cards", a, docstore.Document{"laneId": "l2"}))
	assert.False(t, contains(t, mr, indexKey("test", "cards", "laneId", "l1"), a))
	assert.True(t, contains(t, mr, indexKey("test", "cards", "laneId", "l2"), a))
	got, err = s.Query(ctx, "cards", docstore.Where("boardId", "b1"), docstore.Where("laneId", "l2"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.Delete(ctx, "cards", b))
	assert.False(t, contains(t, mr, indexKey("test", "cards", "boardId", "b1"), b))
	assert.False(t, contains(t, mr, indexKey("test", "cards", "laneId", "l2"), b))
	got, err = s.Query(ctx, "cards", docstore.Where("boardId", "b1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].ID)

	// Unindexed filters still apply on top of the intersection.
	got, err = s.Query(ctx, "cards", docstore.Where("laneId", "l1"), docstore.Where("text", "elsewhere"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func contains(t *testing.T, mr *miniredis.Miniredis, key, id string) bool {
	t.Helper()
	if !mr.Exists(key) {
		return false
	}
	members, err := mr.Members(key)
	require.NoError(t, err)
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}
