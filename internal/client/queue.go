package client

import "time"

// QueuedMessage is an outbound event held while the transport is not open.
type QueuedMessage struct {
	Event      string
	Payload    interface{}
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO that evicts its oldest entry to admit a new one
// when full. It is not safe for concurrent use; the supervisor guards it.
type Queue struct {
	buf  []QueuedMessage
	head int
	size int
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{buf: make([]QueuedMessage, capacity)}
}

// Enqueue appends m, evicting the oldest message if the queue is full.
// It reports whether an eviction happened.
func (q *Queue) Enqueue(m QueuedMessage) bool {
	evicted := false
	if q.size == len(q.buf) {
		q.buf[q.head] = QueuedMessage{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		evicted = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = m
	q.size++
	return evicted
}

// Drain removes and returns every message in enqueue order.
func (q *Queue) Drain() []QueuedMessage {
	out := q.Snapshot()
	q.Clear()
	return out
}

// Snapshot returns the queued messages in enqueue order without removing them.
func (q *Queue) Snapshot() []QueuedMessage {
	out := make([]QueuedMessage, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

// Clear drops everything.
func (q *Queue) Clear() {
	for i := range q.buf {
		q.buf[i] = QueuedMessage{}
	}
	q.head = 0
	q.size = 0
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return q.size }

// Cap returns the capacity.
func (q *Queue) Cap() int { return len(q.buf) }
