package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/frame"
)

func numbered(ch frame.Channel, n uint64) frame.Frame {
	return frame.Frame{
		Metadata: frame.Metadata{Channel: ch, FrameNumber: n},
		Data:     []byte{byte(n)},
	}
}

func frameNumbers(frames []frame.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Metadata.FrameNumber
	}
	return out
}

func TestNewQueue_InvalidCapacity(t *testing.T) {
	_, err := NewQueue(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = NewQueue(-3)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestQueue_DropOldest(t *testing.T) {
	const capacity = 20
	q, err := NewQueue(capacity)
	require.NoError(t, err)

	for i := uint64(1); i <= 25; i++ {
		q.Push(numbered(frame.Left, i))
		assert.LessOrEqual(t, q.Len(), capacity)
	}

	drained := q.DrainAll()
	require.Len(t, drained, capacity)
	want := make([]uint64, 0, capacity)
	for i := uint64(6); i <= 25; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, frameNumbers(drained))
	assert.Equal(t, uint64(5), q.Dropped())
	assert.Equal(t, uint64(25), q.Pushed())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PushReportsEvictions(t *testing.T) {
	q, err := NewQueue(2)
	require.NoError(t, err)

	assert.Equal(t, 0, q.Push(numbered(frame.Left, 1)))
	assert.Equal(t, 0, q.Push(numbered(frame.Left, 2)))
	assert.Equal(t, 1, q.Push(numbered(frame.Left, 3)))
	assert.Equal(t, []uint64{2, 3}, frameNumbers(q.DrainAll()))
}

func TestQueue_DrainEmpty(t *testing.T) {
	q, err := NewQueue(4)
	require.NoError(t, err)
	assert.Nil(t, q.DrainAll())
	assert.Equal(t, 4, q.Capacity())
}

func TestQueue_DrainReturnsArrivalOrder(t *testing.T) {
	q, err := NewQueue(8)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		q.Push(numbered(frame.Right, i))
	}
	assert.Equal(t, []uint64{1, 2, 3}, frameNumbers(q.DrainAll()))

	q.Push(numbered(frame.Right, 4))
	assert.Equal(t, []uint64{4}, frameNumbers(q.DrainAll()))
}

// Concurrent pushes racing with drains must deliver every frame exactly
// once when the queue never overflows.
func TestQueue_DrainExclusivity(t *testing.T) {
	const producers = 4
	const perProducer = 500
	q, err := NewQueue(producers * perProducer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(numbered(frame.Left, uint64(p*perProducer+i)))
			}
		}(p)
	}

	seen := make(map[uint64]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		for _, f := range q.DrainAll() {
			seen[f.Metadata.FrameNumber]++
		}
	}
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			collect()
		}
	}
	collect()

	assert.Len(t, seen, producers*perProducer)
	for n, count := range seen {
		if count != 1 {
			t.Fatalf("frame %d delivered %d times", n, count)
		}
	}
	assert.Zero(t, q.Dropped())
}

// Per-producer ordering survives draining.
func TestQueue_ConcurrentOrderPerProducer(t *testing.T) {
	q, err := NewQueue(10000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, ch := range []frame.Channel{frame.Left, frame.Right} {
		wg.Add(1)
		go func(ch frame.Channel) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				q.Push(numbered(ch, i))
			}
		}(ch)
	}
	wg.Wait()

	last := map[frame.Channel]int64{frame.Left: -1, frame.Right: -1}
	for _, f := range q.DrainAll() {
		n := int64(f.Metadata.FrameNumber)
		require.Greater(t, n, last[f.Metadata.Channel])
		last[f.Metadata.Channel] = n
	}
}
