package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/starford/retroboard/internal/apperr"
)

// Subscription is a cancelable push stream of the current value of a query
// or document.
//
// The first value is available on Updates as soon as the subscribe call
// returns. Later values are delivered whenever the underlying result changes.
// Values coalesce: a consumer that falls behind receives the latest result,
// never a stale intermediate one. Both channels are closed after Close, or
// once the context passed at subscribe time is done.
type Subscription[T any] struct {
	updates chan T
	errors  chan error
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Updates returns the channel of values.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Errors returns non-fatal read failures. The subscription keeps running and
// retries on the next change; errors are dropped when nobody is listening.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close cancels the subscription and waits for its goroutine to exit.
// Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// SubscribeQuery streams the result of an equality query on collection,
// projected through project.
func SubscribeQuery[T any](ctx context.Context, store Store, collection string, filters []Filter, project func([]Snapshot) (T, error)) (*Subscription[T], error) {
	read := func(ctx context.Context) ([]Snapshot, error) {
		snaps, err := store.Query(ctx, collection, filters...)
		if err != nil {
			return nil, err
		}
		SortSnapshots(snaps)
		return snaps, nil
	}
	relevant := func(Change) bool { return true }
	return subscribe(ctx, store, collection, read, relevant, project)
}

// SubscribeDocument streams one document, projected through project. A
// missing document is passed to project as nil rather than reported as an
// error, and the stream keeps running.
func SubscribeDocument[T any](ctx context.Context, store Store, collection, id string, project func(*Snapshot) (T, error)) (*Subscription[T], error) {
	read := func(ctx context.Context) ([]Snapshot, error) {
		snap, err := store.Get(ctx, collection, id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []Snapshot{snap}, nil
	}
	relevant := func(c Change) bool { return c.ID == id }
	projectOne := func(snaps []Snapshot) (T, error) {
		if len(snaps) == 0 {
			return project(nil)
		}
		return project(&snaps[0])
	}
	return subscribe(ctx, store, collection, read, relevant, projectOne)
}

func subscribe[T any](
	parent context.Context,
	store Store,
	collection string,
	read func(context.Context) ([]Snapshot, error),
	relevant func(Change) bool,
	project func([]Snapshot) (T, error),
) (*Subscription[T], error) {
	ctx, cancel := context.WithCancel(parent)

	// Watch before the first read so no change between the two is missed.
	changes, err := store.Watch(ctx, collection)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("docstore: watch %s: %w", collection, err)
	}

	snaps, err := read(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	first, err := project(snaps)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Subscription[T]{
		updates: make(chan T, 1),
		errors:  make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.updates <- first

	// A resync marker means changes were dropped, so it concerns everyone.
	wanted := func(c Change) bool { return c.Op == OpResync || relevant(c) }
	go s.loop(ctx, changes, fingerprint(snaps), read, wanted, project)
	return s, nil
}

func (s *Subscription[T]) loop(
	ctx context.Context,
	changes <-chan Change,
	last string,
	read func(context.Context) ([]Snapshot, error),
	relevant func(Change) bool,
	project func([]Snapshot) (T, error),
) {
	defer close(s.done)
	defer close(s.updates)
	defer close(s.errors)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			dirty := relevant(c)
			// Fold anything already queued into a single re-read.
		drain:
			for {
				select {
				case more, ok := <-changes:
					if !ok {
						return
					}
					dirty = dirty || relevant(more)
				default:
					break drain
				}
			}
			if !dirty {
				continue
			}

			snaps, err := read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.report(err)
				continue
			}
			fp := fingerprint(snaps)
			if fp == last {
				continue
			}
			v, err := project(snaps)
			if err != nil {
				s.report(err)
				continue
			}
			last = fp
			s.publish(v)
		}
	}
}

// publish replaces any value the consumer has not taken yet.
func (s *Subscription[T]) publish(v T) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *Subscription[T]) report(err error) {
	select {
	case s.errors <- err:
	default:
	}
}
