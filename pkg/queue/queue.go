// Package queue provides the shared query queue: many producers, one
// consumer, strict FIFO across all producers.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed.
var ErrClosed = errors.New("queue: closed")

// Query is one unit of user input.
type Query struct {
	Text       string
	Seq        uint64 // global arrival order, starting at 1
	Source     string // terminal, voice, web
	ReceivedAt time.Time
}

// Queue is an unbounded FIFO. Enqueue never blocks; Dequeue blocks the
// consumer until an item arrives, the queue closes, or the context ends.
//
// Once closed, remaining items are not delivered; use Drain to collect them.
type Queue struct {
	mu     sync.Mutex
	items  []Query
	seq    uint64
	closed bool

	// notify has capacity 1 so a producer never blocks on it.
	notify chan struct{}
	done   chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends text and returns the stored Query.
func (q *Queue) Enqueue(text, source string) (Query, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Query{}, ErrClosed
	}
	q.seq++
	item := Query{
		Text:       text,
		Seq:        q.seq,
		Source:     source,
		ReceivedAt: time.Now(),
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item, nil
}

// Dequeue removes and returns the oldest item.
func (q *Queue) Dequeue(ctx context.Context) (Query, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Query{}, ErrClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = Query{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
			return Query{}, ErrClosed
		case <-ctx.Done():
			return Query{}, ctx.Err()
		}
	}
}

// Close marks the queue closed and wakes the consumer. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every pending item, in order.
func (q *Queue) Drain() []Query {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
