package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/frame"
)

type recordingObserver struct {
	mu         sync.Mutex
	queued     map[frame.Channel]int
	evicted    map[frame.Channel]int
	mismatched []frame.Channel
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		queued:  make(map[frame.Channel]int),
		evicted: make(map[frame.Channel]int),
	}
}

func (o *recordingObserver) FrameQueued(ch frame.Channel) {
	o.mu.Lock()
	o.queued[ch]++
	o.mu.Unlock()
}

func (o *recordingObserver) FramesEvicted(ch frame.Channel, n int) {
	o.mu.Lock()
	o.evicted[ch] += n
	o.mu.Unlock()
}

func (o *recordingObserver) ChannelMismatch(ch frame.Channel) {
	o.mu.Lock()
	o.mismatched = append(o.mismatched, ch)
	o.mu.Unlock()
}

func TestRouter_RoutesByChannel(t *testing.T) {
	obs := newRecordingObserver()
	r, err := NewRouter([]frame.Channel{frame.Left, frame.Right}, 4, WithObserver(obs))
	require.NoError(t, err)

	require.NoError(t, r.OnFrameReceived(numbered(frame.Left, 1)))
	require.NoError(t, r.OnFrameReceived(numbered(frame.Right, 2)))
	require.NoError(t, r.OnFrameReceived(numbered(frame.Left, 3)))

	left, err := r.Drain(frame.Left)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, frameNumbers(left))

	right, err := r.Drain(frame.Right)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, frameNumbers(right))

	assert.Equal(t, 2, obs.queued[frame.Left])
	assert.Equal(t, 1, obs.queued[frame.Right])
	assert.Equal(t, []frame.Channel{frame.Left, frame.Right}, r.Channels())
}

func TestRouter_UnknownChannelIsReported(t *testing.T) {
	obs := newRecordingObserver()
	r, err := NewRouter([]frame.Channel{frame.Left}, 4, WithObserver(obs))
	require.NoError(t, err)

	err = r.OnFrameReceived(numbered(frame.Right, 1))
	require.ErrorIs(t, err, frame.ErrUnknownChannel)
	assert.Equal(t, uint64(1), r.Mismatched())
	assert.Equal(t, []frame.Channel{frame.Right}, obs.mismatched)

	_, err = r.Drain(frame.Right)
	assert.ErrorIs(t, err, frame.ErrUnknownChannel)
	assert.Nil(t, r.Queue(frame.Right))
}

func TestRouter_EvictionsObserved(t *testing.T) {
	obs := newRecordingObserver()
	r, err := NewRouter([]frame.Channel{frame.Left}, 20, WithObserver(obs))
	require.NoError(t, err)

	for i := uint64(1); i <= 25; i++ {
		require.NoError(t, r.OnFrameReceived(numbered(frame.Left, i)))
	}
	assert.Equal(t, 5, obs.evicted[frame.Left])

	drained, err := r.Drain(frame.Left)
	require.NoError(t, err)
	assert.Len(t, drained, 20)
	assert.Equal(t, uint64(6), drained[0].Metadata.FrameNumber)
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(nil, 4)
	assert.Error(t, err)

	_, err = NewRouter([]frame.Channel{frame.Left, frame.Left}, 4)
	assert.Error(t, err)

	_, err = NewRouter([]frame.Channel{frame.Left}, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
