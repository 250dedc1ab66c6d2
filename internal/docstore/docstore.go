// Package docstore defines the schemaless document store the board is built
// on, plus the live subscription and authorization layers that sit on top of
// any backend.
//
// A backend only has to offer point reads and writes, equality queries and a
// raw per-collection change feed. SubscribeQuery and SubscribeDocument turn
// that feed into push subscriptions that re-emit the full current result on
// every relevant change. Guard wraps a backend with declarative access rules.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Document is a schemaless JSON object. Values must be JSON-marshalable.
type Document map[string]any

// Snapshot is a document as read from the store.
type Snapshot struct {
	ID      string
	Version int64
	Data    Document
}

// Decode unmarshals the snapshot into v, exposing the document id under the
// "id" field.
func (s Snapshot) Decode(v any) error {
	withID := make(Document, len(s.Data)+1)
	for k, val := range s.Data {
		withID[k] = val
	}
	withID["id"] = s.ID
	raw, err := json.Marshal(withID)
	if err != nil {
		return fmt.Errorf("docstore: encode snapshot %s: %w", s.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode snapshot %s: %w", s.ID, err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Where is shorthand for an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// ChangeOp names the kind of write that produced a Change.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	// OpResync tells a watcher that changes were dropped and it must
	// re-read everything it follows. It carries no ID.
	OpResync ChangeOp = "resync"
)

// Change is one entry of a collection's raw change feed.
type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Op         ChangeOp `json:"op"`
}

type serverTimestamp struct{}

// MarshalJSON keeps an unresolved sentinel from silently encoding as {}.
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("docstore: unresolved server timestamp")
}

// ServerTimestamp is a field value the store replaces with its own clock at
// write time.
var ServerTimestamp any = serverTimestamp{}

// WriteOption tunes a single Update call.
type WriteOption func(*WriteOptions)

// WriteOptions is the resolved form of a set of WriteOption values.
type WriteOptions struct {
	// IfVersion, when non-zero, makes the write fail with apperr.ErrConflict
	// unless the stored document is at exactly this version.
	IfVersion int64
}

// IfVersion makes an Update conditional on the stored version.
func IfVersion(v int64) WriteOption {
	return func(o *WriteOptions) { o.IfVersion = v }
}

// ApplyWriteOptions folds opts into a WriteOptions value.
func ApplyWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the capability set every backend provides.
//
// Get returns apperr.ErrNotFound for a missing document. Update merges the
// top-level fields of partial into the stored document and fails with
// apperr.ErrNotFound when it does not exist. Delete of a missing document is
// not an error. Every successful write bumps the document version, which
// starts at 1.
//
// Watch returns the raw change feed of a collection. The channel is closed
// once ctx is done or the store is closed. Deliveries are at-most-once: a
// consumer that cannot keep up loses changes, which is why subscribers
// re-read state rather than apply changes.
type Store interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Update(ctx context.Context, collection, id string, partial Document, opts ...WriteOption) error
	Delete(ctx context.Context, collection, id string) error
	Watch(ctx context.Context, collection string) (<-chan Change, error)
	Now() time.Time
	Close() error
}
