// Package memstore is an in-memory docstore.Store. It backs tests and the
// "memory" driver; state is lost when the process exits.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
)

type record struct {
	version int64
	data    []byte
}

// Store keeps JSON-encoded documents per collection.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]record
	feed        *docstore.Feed
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]record),
		feed:        docstore.NewFeed(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstore.Store = (*Store)(nil)

// Now implements docstore.Store.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get implements docstore.Store.
func (s *Store) Get(_ context.Context, collection, id string) (docstore.Snapshot, error) {
	s.mu.RLock()
	rec, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return docstore.Snapshot{}, fmt.Errorf("memstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	return snapshot(id, rec)
}

// Query implements docstore.Store.
func (s *Store) Query(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []docstore.Snapshot{}
	for id, rec := range s.collections[collection] {
		snap, err := snapshot(id, rec)
		if err != nil {
			return nil, err
		}
		if docstore.Matches(snap.Data, filters) {
			out = append(out, snap)
		}
	}
	docstore.SortSnapshots(out)
	return out, nil
}

// Insert implements docstore.Store.
func (s *Store) Insert(_ context.Context, collection string, doc docstore.Document) (string, error) {
	raw, err := docstore.Encode(doc, s.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]record)
		s.collections[collection] = docs
	}
	docs[id] = record{version: 1, data: raw}
	s.mu.Unlock()

	s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpInsert})
	return id, nil
}

// Update implements docstore.Store.
func (s *Store) Update(_ context.Context, collection, id string, partial docstore.Document, opts ...docstore.WriteOption) error {
	o := docstore.ApplyWriteOptions(opts)

	s.mu.Lock()
	rec, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: update %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if o.IfVersion != 0 && o.IfVersion != rec.version {
		s.mu.Unlock()
		return fmt.Errorf("memstore: update %s/%s at version %d, stored %d: %w",
			collection, id, o.IfVersion, rec.version, apperr.ErrConflict)
	}
	merged, err := docstore.Merge(rec.data, partial, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.collections[collection][id] = record{version: rec.version + 1, data: merged}
	s.mu.Unlock()

	s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpUpdate})
	return nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	_, ok := s.collections[collection][id]
	if ok {
		delete(s.collections[collection], id)
	}
	s.mu.Unlock()

	if ok {
		s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpDelete})
	}
	return nil
}

// Watch implements docstore.Store.
func (s *Store) Watch(ctx context.Context, collection string) (<-chan docstore.Change, error) {
	return s.feed.Watch(ctx, collection), nil
}

// Close stops the change feed.
func (s *Store) Close() error {
	s.feed.Close()
	return nil
}

func snapshot(id string, rec record) (docstore.Snapshot, error) {
	data, err := docstore.Decode(rec.data)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{ID: id, Version: rec.version, Data: data}, nil
}
