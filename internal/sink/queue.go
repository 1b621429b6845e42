package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// batch is one delivery for one point, stamped on arrival.
type batch struct {
	pointID string
	values  []protocol.Record
	at      time.Time
}

// queue is a bounded FIFO with a single consumer and an atomic depth gauge
// readable without locking. Producers block while it is full.
type queue struct {
	mu     sync.RWMutex
	closed bool

	ch       chan batch
	depth    atomic.Int64
	capacity int
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{
		ch:       make(chan batch, capacity),
		capacity: capacity,
	}
}

// enqueue blocks until b is accepted. Returns false once the queue is closed.
func (q *queue) enqueue(b batch) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	q.depth.Add(1)
	q.ch <- b
	return true
}

// close stops accepting batches. Pending batches stay readable from ch.
// Waits for producers already blocked in enqueue, so the consumer must
// keep draining while close runs.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *queue) markDequeued() { q.depth.Add(-1) }

func (q *queue) Depth() int { return int(q.depth.Load()) }

func (q *queue) Capacity() int { return q.capacity }
