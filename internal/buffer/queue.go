// Package buffer holds captured frames between the capture callback and the
// application drain loop.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/framecast/internal/frame"
)

// ErrInvalidCapacity is returned when a queue is created with capacity < 1.
var ErrInvalidCapacity = errors.New("queue capacity must be at least 1")

// Queue is a bounded FIFO of frames for one channel.
//
// Push never blocks beyond the internal mutex. When the queue is full the
// oldest frames are evicted so the most recent capacity frames are kept.
// DrainAll hands the whole backlog to the caller in arrival order.
type Queue struct {
	capacity int

	mu     sync.Mutex
	frames []frame.Frame

	pushed  atomic.Uint64
	evicted atomic.Uint64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Queue{
		capacity: capacity,
		frames:   make([]frame.Frame, 0, capacity),
	}, nil
}

// Push appends f and returns the number of frames evicted to stay within
// capacity.
func (q *Queue) Push(f frame.Frame) int {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	evict := len(q.frames) - q.capacity
	if evict > 0 {
		// Zero the dropped slots so their payloads can be collected.
		clear(q.frames[:evict])
		q.frames = q.frames[evict:]
	} else {
		evict = 0
	}
	q.mu.Unlock()

	q.pushed.Add(1)
	if evict > 0 {
		q.evicted.Add(uint64(evict))
	}
	return evict
}

// DrainAll removes and returns every queued frame in arrival order.
// It returns nil when the queue is empty.
func (q *Queue) DrainAll() []frame.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil
	}
	out := q.frames
	q.frames = make([]frame.Frame, 0, q.capacity)
	return out
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Pushed returns the number of frames ever pushed.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of frames evicted by the drop-oldest policy.
func (q *Queue) Dropped() uint64 {
	return q.evicted.Load()
}
