package docstore

import (
	"context"
	"sync/atomic"
)

type feedSub struct {
	collection string
	ch         chan Change
}

// Feed is an in-process change hub that fans changes out to watchers of a
// collection.
//
// Concurrency model: a single internal event loop owns the subscriber set.
// Public methods talk to it through channels, so no mutexes are required.
// A watcher whose buffer is full never blocks the loop: see Offer.
type Feed struct {
	subscribeCh   chan feedSub
	unsubscribeCh chan chan Change
	publishCh     chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewFeed starts a change hub.
func NewFeed() *Feed {
	f := &Feed{
		subscribeCh:   make(chan feedSub),
		unsubscribeCh: make(chan chan Change),
		publishCh:     make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Feed) run() {
	defer close(f.stopped)

	subs := make(map[chan Change]string)

	for {
		select {
		case <-f.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-f.subscribeCh:
			subs[s.ch] = s.collection

		case ch := <-f.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case c := <-f.publishCh:
			for ch, collection := range subs {
				if collection != c.Collection {
					continue
				}
				Offer(ch, c)
			}

		case resp := <-f.countReqCh:
			resp <- len(subs)
		}
	}
}

// Offer delivers c on ch without blocking. When ch is full its oldest entry
// is evicted and an OpResync marker queued instead, so the watcher learns it
// missed something. The caller must be the only sender on ch.
func Offer(ch chan Change, c Change) {
	select {
	case ch <- c:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- Change{Collection: c.Collection, Op: OpResync}:
	default:
	}
}

// Close stops the loop and closes every watcher channel.
func (f *Feed) Close() {
	if f.closed.CompareAndSwap(false, true) {
		close(f.stopCh)
	}
	<-f.stopped
}

// Subscribe registers a watcher for collection and returns its channel.
func (f *Feed) Subscribe(collection string) chan Change {
	ch := make(chan Change, 64)
	if f.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case f.subscribeCh <- feedSub{collection: collection, ch: ch}:
	case <-f.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a watcher and closes its channel.
func (f *Feed) Unsubscribe(ch chan Change) {
	if f.closed.Load() {
		return
	}
	select {
	case f.unsubscribeCh <- ch:
	case <-f.stopped:
	}
}

// Publish delivers c to every watcher of its collection.
func (f *Feed) Publish(c Change) {
	if f.closed.Load() {
		return
	}
	select {
	case f.publishCh <- c:
	case <-f.stopped:
	}
}

// Watch subscribes to collection for as long as ctx lives.
func (f *Feed) Watch(ctx context.Context, collection string) <-chan Change {
	ch := f.Subscribe(collection)
	go func() {
		select {
		case <-ctx.Done():
			f.Unsubscribe(ch)
		case <-f.stopped:
		}
	}()
	return ch
}

// WatcherCount returns the number of registered watchers.
func (f *Feed) WatcherCount() int {
	if f.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case f.countReqCh <- resp:
	case <-f.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-f.stopped:
		return 0
	}
}
