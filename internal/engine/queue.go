package engine

import (
	"context"
	"sync"
)

type queueItem struct {
	req *Request
	ch  chan Event
}

// Queue is the hand-off point between callers and the single generation
// worker. Any number of goroutines may Submit; only the worker calls
// TakeNext. Requests are served strictly in submission order.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	limit  int // 0 means unbounded
	closed bool
}

// NewQueue creates a queue. limit bounds the number of waiting requests;
// 0 keeps the queue unbounded, which mirrors the historical behavior but can
// exhaust memory under sustained overload.
func NewQueue(limit int) *Queue {
	q := &Queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit enqueues a request and returns its private response channel. The
// channel is buffered to hold every event the request can produce, so the
// worker never blocks writing to it and the caller may abandon it safely.
// Submit never blocks beyond lock contention; a full bounded queue fails
// fast with ErrQueueFull.
func (q *Queue) Submit(req *Request) (<-chan Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return nil, ErrQueueFull
	}
	ch := make(chan Event, req.eventCapacity())
	q.items = append(q.items, queueItem{req: req, ch: ch})
	q.cond.Signal()
	return ch, nil
}

// TakeNext blocks until a request is available, the context is cancelled, or
// the queue is closed. Used exclusively by the worker.
func (q *Queue) TakeNext(ctx context.Context) (*Request, chan<- Event, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		q.cond.Wait()
	}
	item := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	return item.req, item.ch, nil
}

// Len reports the number of requests waiting to be claimed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further submissions and wakes the worker. Requests already
// queued but never claimed receive an error terminal event so their callers
// do not hang until the poll timeout.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, item := range q.items {
		item.ch <- Event{Kind: EventError, Message: "generation queue shut down"}
	}
	q.items = nil
	q.cond.Broadcast()
}
