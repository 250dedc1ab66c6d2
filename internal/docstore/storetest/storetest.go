// Package storetest is a conformance suite every docstore backend runs from
// its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) docstore.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("QueryFilters", func(t *testing.T) { testQueryFilters(t, newStore(t)) })
	t.Run("UpdateMerges", func(t *testing.T) { testUpdateMerges(t, newStore(t)) })
	t.Run("UpdateIfVersion", func(t *testing.T) { testUpdateIfVersion(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, newStore(t)) })
	t.Run("WatchDelivers", func(t *testing.T) { testWatchDelivers(t, newStore(t)) })
	t.Run("SubscribeQuery", func(t *testing.T) { testSubscribeQuery(t, newStore(t)) })
	t.Run("SubscribeDocument", func(t *testing.T) { testSubscribeDocument(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	before := s.Now().Add(-time.Second)

	id, err := s.Insert(ctx, "boards", docstore.Document{
		"name":      "Sprint 1",
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("Insert returned empty id")
	}

	snap, err := s.Get(ctx, "boards", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.ID != id || snap.Version != 1 {
		t.Errorf("snapshot = %s v%d", snap.ID, snap.Version)
	}
	var got struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := snap.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != id || got.Name != "Sprint 1" {
		t.Errorf("decoded = %+v", got)
	}
	if got.CreatedAt.Before(before) {
		t.Errorf("createdAt = %v, want server time after %v", got.CreatedAt, before)
	}
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), "boards", "nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func testQueryFilters(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b1", "laneId": "1", "n": 1})
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b1", "laneId": "2", "n": 2})
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b2", "laneId": "1", "n": 3})
	mustInsert(t, s, "boards", docstore.Document{"boardId": "b1"})

	all, err := s.Query(ctx, "cards")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered = %d, want 3", len(all))
	}

	b1, err := s.Query(ctx, "cards", docstore.Where("boardId", "b1"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(b1) != 2 {
		t.Errorf("boardId=b1 = %d, want 2", len(b1))
	}

	both, err := s.Query(ctx, "cards", docstore.Where("boardId", "b1"), docstore.Where("laneId", "1"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(both) != 1 {
		t.Errorf("boardId=b1,laneId=1 = %d, want 1", len(both))
	}

	numeric, err := s.Query(ctx, "cards", docstore.Where("n", 3))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(numeric) != 1 {
		t.Errorf("n=3 = %d, want 1", len(numeric))
	}

	none, err := s.Query(ctx, "cards", docstore.Where("boardId", "zzz"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("no match = %v, want empty non-nil", none)
	}
}

func testUpdateMerges(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, "boards", docstore.Document{"name": "a", "cardsVisible": false})

	if err := s.Update(ctx, "boards", id, docstore.Document{"cardsVisible": true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap, err := s.Get(ctx, "boards", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("version = %d, want 2", snap.Version)
	}
	if snap.Data["name"] != "a" || snap.Data["cardsVisible"] != true {
		t.Errorf("data = %v", snap.Data)
	}
}

func testUpdateIfVersion(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, "boards", docstore.Document{"name": "a"})

	if err := s.Update(ctx, "boards", id, docstore.Document{"name": "b"}, docstore.IfVersion(1)); err != nil {
		t.Fatalf("Update at current version: %v", err)
	}
	err := s.Update(ctx, "boards", id, docstore.Document{"name": "c"}, docstore.IfVersion(1))
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale update err = %v, want conflict", err)
	}
	snap, _ := s.Get(ctx, "boards", id)
	if snap.Data["name"] != "b" {
		t.Errorf("name = %v, want b", snap.Data["name"])
	}
}

func testUpdateMissing(t *testing.T, s docstore.Store) {
	err := s.Update(context.Background(), "boards", "nope", docstore.Document{"name": "x"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func testDeleteIdempotent(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, "cards", docstore.Document{"text": "x"})
	if err := s.Delete(ctx, "cards", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "cards", id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if err := s.Delete(ctx, "cards", id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	left, _ := s.Query(ctx, "cards")
	if len(left) != 0 {
		t.Errorf("query after delete = %d", len(left))
	}
}

func testWatchDelivers(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, "cards")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	mustInsert(t, s, "boards", docstore.Document{"name": "other collection"})
	id := mustInsert(t, s, "cards", docstore.Document{"text": "x"})

	select {
	case c := <-changes:
		if c.Collection != "cards" || c.ID != id || c.Op != docstore.OpInsert {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	cancel()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}

func testSubscribeQuery(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b1", "text": "first"})

	count := func(snaps []docstore.Snapshot) (int, error) { return len(snaps), nil }
	sub, err := docstore.SubscribeQuery(ctx, s, "cards", []docstore.Filter{docstore.Where("boardId", "b1")}, count)
	if err != nil {
		t.Fatalf("SubscribeQuery: %v", err)
	}
	defer sub.Close()

	if n := next(t, sub); n != 1 {
		t.Fatalf("initial = %d, want 1", n)
	}

	// A change to a non-matching document does not alter the result.
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b2", "text": "elsewhere"})
	mustInsert(t, s, "cards", docstore.Document{"boardId": "b1", "text": "second"})
	waitFor(t, sub, 2)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Updates(); ok {
		// A value may still be buffered; the channel must close after it.
		if _, ok := <-sub.Updates(); ok {
			t.Error("updates not closed after Close")
		}
	}
}

func testSubscribeDocument(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id := mustInsert(t, s, "boards", docstore.Document{"name": "a"})

	name := func(snap *docstore.Snapshot) (string, error) {
		if snap == nil {
			return "<absent>", nil
		}
		v, _ := snap.Data["name"].(string)
		return v, nil
	}
	sub, err := docstore.SubscribeDocument(ctx, s, "boards", id, name)
	if err != nil {
		t.Fatalf("SubscribeDocument: %v", err)
	}
	defer sub.Close()

	if got := next(t, sub); got != "a" {
		t.Fatalf("initial = %q", got)
	}
	if err := s.Update(ctx, "boards", id, docstore.Document{"name": "b"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, sub, "b")

	if err := s.Delete(ctx, "boards", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, sub, "<absent>")

	missing, err := docstore.SubscribeDocument(ctx, s, "boards", "never", name)
	if err != nil {
		t.Fatalf("SubscribeDocument missing: %v", err)
	}
	defer missing.Close()
	if got := next(t, missing); got != "<absent>" {
		t.Errorf("missing initial = %q", got)
	}
}

func mustInsert(t *testing.T, s docstore.Store, collection string, doc docstore.Document) string {
	t.Helper()
	id, err := s.Insert(context.Background(), collection, doc)
	if err != nil {
		t.Fatalf("Insert %s: %v", collection, err)
	}
	return id
}

func next[T any](t *testing.T, sub *docstore.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Updates():
		if !ok {
			t.Fatal("subscription closed")
		}
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for subscription value")
	}
	var zero T
	return zero
}

func waitFor[T comparable](t *testing.T, sub *docstore.Subscription[T], want T) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription closed before %v", want)
			}
			if v == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", want)
		}
	}
}
