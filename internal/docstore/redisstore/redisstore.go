// Package redisstore is a docstore backend on Redis.
//
// Each document is a hash holding its JSON body and version, and each
// collection keeps a set of its ids. Fields named with WithIndexes also get
// one set of ids per string value, which Query intersects. Writes publish a change on the
// collection's Pub/Sub channel, so every process connected to the same
// server observes them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
)

const (
	fieldData    = "data"
	fieldVersion = "version"
	txRetries    = 5
)

// Store is a Redis-backed docstore.Store. Safe for concurrent use.
type Store struct {
	rdb       *redis.Client
	namespace string
	logger    *slog.Logger
	indexes   map[string]bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithIndexes keeps a set of ids per value of each named field. Only string
// values are indexed.
func WithIndexes(fields ...string) Option {
	return func(s *Store) {
		for _, f := range fields {
			s.indexes[f] = true
		}
	}
}

// New connects to Redis with opts. namespace must not be empty.
func New(opts *redis.Options, namespace string, logger *slog.Logger, options ...Option) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("redisstore: namespace cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		logger:    logger,
		indexes:   map[string]bool{},
		done:      make(chan struct{}),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Open parses a redis:// URL and connects, verifying the server answers.
func Open(ctx context.Context, url, namespace string, logger *slog.Logger, options ...Option) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	s, err := New(opts, namespace, logger, options...)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}

// Now is the Redis server clock, falling back to local UTC when the server
// cannot be asked.
func (s *Store) Now() time.Time {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.now(ctx)
}

func (s *Store) now(ctx context.Context) time.Time {
	if t, err := s.rdb.Time(ctx).Result(); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	vals, err := s.rdb.HMGet(ctx, docKey(s.namespace, collection, id), fieldData, fieldVersion).Result()
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("redisstore: get %s/%s: %w", collection, id, err)
	}
	snap, ok, err := toSnapshot(id, vals)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("redisstore: get %s/%s: %w", collection, id, err)
	}
	if !ok {
		return docstore.Snapshot{}, fmt.Errorf("redisstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	return snap, nil
}

// Query narrows candidates through the index sets of any indexed filters and
// checks every filter against the stored body.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	var keys []string
	for _, f := range filters {
		if v, ok := f.Value.(string); ok && s.indexes[f.Field] {
			keys = append(keys, indexKey(s.namespace, collection, f.Field, v))
		}
	}
	var (
		ids []string
		err error
	)
	if len(keys) > 0 {
		ids, err = s.rdb.SInter(ctx, keys...).Result()
	} else {
		ids, err = s.rdb.SMembers(ctx, idsKey(s.namespace, collection)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: query %s: %w", collection, err)
	}
	out := []docstore.Snapshot{}
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, docKey(s.namespace, collection, id), fieldData, fieldVersion)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: query %s: %w", collection, err)
	}

	for i, cmd := range cmds {
		snap, ok, err := toSnapshot(ids[i], cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("redisstore: query %s: %w", collection, err)
		}
		// A member whose hash is gone was deleted between the two reads.
		if !ok || !docstore.Matches(snap.Data, filters) {
			continue
		}
		out = append(out, snap)
	}
	docstore.SortSnapshots(out)
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	raw, err := docstore.Encode(doc, s.now(ctx))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, docKey(s.namespace, collection, id), fieldData, string(raw), fieldVersion, 1)
		p.SAdd(ctx, idsKey(s.namespace, collection), id)
		s.reindex(ctx, p, collection, id, nil, raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redisstore: insert %s: %w", collection, err)
	}
	s.publish(ctx, docstore.Change{Collection: collection, ID: id, Op: docstore.OpInsert})
	return id, nil
}

// Update runs an optimistic WATCH/MULTI transaction on the document key.
func (s *Store) Update(ctx context.Context, collection, id string, partial docstore.Document, opts ...docstore.WriteOption) error {
	o := docstore.ApplyWriteOptions(opts)
	key := docKey(s.namespace, collection, id)
	now := s.now(ctx)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, key, fieldData, fieldVersion).Result()
		if err != nil {
			return err
		}
		snap, ok, err := toSnapshot(id, vals)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		if o.IfVersion != 0 && o.IfVersion != snap.Version {
			return fmt.Errorf("at v%d, stored v%d: %w", o.IfVersion, snap.Version, apperr.ErrConflict)
		}
		stored, err := docstore.Encode(snap.Data, now)
		if err != nil {
			return err
		}
		merged, err := docstore.Merge(stored, partial, now)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, fieldData, string(merged), fieldVersion, snap.Version+1)
			s.reindex(ctx, p, collection, id, snap.Data, merged)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		if o.IfVersion != 0 {
			err = fmt.Errorf("concurrent write: %w", apperr.ErrConflict)
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		err = fmt.Errorf("retries exhausted: %w", apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("redisstore: update %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, docstore.Change{Collection: collection, ID: id, Op: docstore.OpUpdate})
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	key := docKey(s.namespace, collection, id)
	var deleted bool
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, key, fieldData, fieldVersion).Result()
		if err != nil {
			return err
		}
		snap, ok, err := toSnapshot(id, vals)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			p.SRem(ctx, idsKey(s.namespace, collection), id)
			if ok {
				s.reindex(ctx, p, collection, id, snap.Data, nil)
			}
			return nil
		})
		deleted = ok && err == nil
		return err
	}

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		if err = s.rdb.Watch(ctx, txf, key); !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redisstore: delete %s/%s: %w", collection, id, err)
	}
	if deleted {
		s.publish(ctx, docstore.Change{Collection: collection, ID: id, Op: docstore.OpDelete})
	}
	return nil
}

// reindex moves id between index sets for every indexed field whose value
// differs between old and the encoded body next. A nil side means absent.
func (s *Store) reindex(ctx context.Context, p redis.Pipeliner, collection, id string, old docstore.Document, next []byte) {
	if len(s.indexes) == 0 {
		return
	}
	var doc docstore.Document
	if next != nil {
		// Bodies are produced by Encode or Merge, so they always decode.
		doc, _ = docstore.Decode(next)
	}
	for field := range s.indexes {
		was, hadOld := old[field].(string)
		now, hasNew := doc[field].(string)
		if hadOld == hasNew && was == now {
			continue
		}
		if hadOld {
			p.SRem(ctx, indexKey(s.namespace, collection, field, was), id)
		}
		if hasNew {
			p.SAdd(ctx, indexKey(s.namespace, collection, field, now), id)
		}
	}
}

// Watch subscribes to the collection's change channel. It returns once the
// server has confirmed the subscription. A consumer that falls behind gets
// an OpResync marker in place of the changes it missed.
func (s *Store) Watch(ctx context.Context, collection string) (<-chan docstore.Change, error) {
	pubsub := s.rdb.Subscribe(ctx, changesChannel(s.namespace, collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redisstore: subscribe %s: %w", collection, err)
	}

	out := make(chan docstore.Change, 64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c docstore.Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn("redisstore: bad change message",
						slog.String("channel", msg.Channel), slog.String("error", err.Error()))
					continue
				}
				docstore.Offer(out, c)
			}
		}
	}()
	return out, nil
}

// Close ends every watch and closes the connection pool.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.rdb.Close()
	})
	return err
}

// publish is best effort: the write has already committed, and subscribers
// converge on their next notification.
func (s *Store) publish(ctx context.Context, c docstore.Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, changesChannel(s.namespace, c.Collection), payload).Err(); err != nil {
		s.logger.Warn("redisstore: publish change",
			slog.String("collection", c.Collection), slog.String("id", c.ID), slog.String("error", err.Error()))
	}
}

func toSnapshot(id string, vals []any) (docstore.Snapshot, bool, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return docstore.Snapshot{}, false, nil
	}
	raw, _ := vals[0].(string)
	vs, _ := vals[1].(string)
	version, err := strconv.ParseInt(vs, 10, 64)
	if err != nil {
		return docstore.Snapshot{}, false, fmt.Errorf("bad version %q: %w", vs, err)
	}
	doc, err := docstore.Decode([]byte(raw))
	if err != nil {
		return docstore.Snapshot{}, false, err
	}
	return docstore.Snapshot{ID: id, Version: version, Data: doc}, true, nil
}

var _ docstore.Store = (*Store)(nil)
