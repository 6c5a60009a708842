package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	for _, name := range []string{"A", "B", "C"} {
		assert.False(t, q.Enqueue(QueuedMessage{Event: name}))
	}

	got := q.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Event)
	assert.Equal(t, "B", got[1].Event)
	assert.Equal(t, "C", got[2].Event)
	assert.Zero(t, q.Len())
}

func TestQueue_DropOldest(t *testing.T) {
	q := NewQueue(100)
	evictions := 0
	for i := 1; i <= 150; i++ {
		if q.Enqueue(QueuedMessage{Event: fmt.Sprintf("msg-%d", i)}) {
			evictions++
		}
	}

	assert.Equal(t, 50, evictions)
	require.Equal(t, 100, q.Len())
	got := q.Snapshot()
	assert.Equal(t, "msg-51", got[0].Event)
	assert.Equal(t, "msg-150", got[99].Event)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+51), m.Event)
	}
}

func TestQueue_WrapAroundAfterDrain(t *testing.T) {
	q := NewQueue(3)
	q.Enqueue(QueuedMessage{Event: "1"})
	q.Enqueue(QueuedMessage{Event: "2"})
	q.Drain()

	q.Enqueue(QueuedMessage{Event: "3"})
	q.Enqueue(QueuedMessage{Event: "4"})
	q.Enqueue(QueuedMessage{Event: "5"})
	q.Enqueue(QueuedMessage{Event: "6"})

	got := q.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"4", "5", "6"}, []string{got[0].Event, got[1].Event, got[2].Event})
}

func TestQueue_ClearAndZeroCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Cap())
	q.Enqueue(QueuedMessage{Event: "a"})
	assert.True(t, q.Enqueue(QueuedMessage{Event: "b"}))
	assert.Equal(t, "b", q.Snapshot()[0].Event)

	q.Clear()
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}
