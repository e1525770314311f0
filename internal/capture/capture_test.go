package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/frame"
)

var smallNV12 = StreamConfig{
	Geometry:  frame.Geometry{Width: 8, Height: 4, RowStride: 12},
	Format:    frame.NV12,
	FrameRate: 500,
	Channels:  []frame.Channel{frame.Left, frame.Right},
}

type collector struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *collector) add(f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) snapshot() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.frames...)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestStreamConfig(t *testing.T) {
	require.NoError(t, smallNV12.Validate())
	assert.Equal(t, 2*time.Millisecond, smallNV12.Interval())

	bad := smallNV12
	bad.FrameRate = 0
	assert.Error(t, bad.Validate())

	bad = smallNV12
	bad.Channels = nil
	assert.Error(t, bad.Validate())

	bad = smallNV12
	bad.Geometry.RowStride = 4
	assert.ErrorIs(t, bad.Validate(), frame.ErrInvalidGeometry)

	bad = smallNV12
	bad.Format = frame.PixelFormat(7)
	assert.ErrorIs(t, bad.Validate(), frame.ErrUnknownFormat)
}

func TestPattern_PaddingIsStripped(t *testing.T) {
	g := smallNV12.Geometry
	size, err := frame.PaddedSize(g, frame.NV12)
	require.NoError(t, err)

	f := Pattern(frame.Right, 0, 1, g, frame.NV12, size)
	require.NoError(t, f.Validate())
	assert.Equal(t, frame.Right, f.Metadata.Channel)
	assert.Equal(t, size, f.Metadata.ByteSize)
	assert.Equal(t, byte(PaddingByte), f.Data[g.Width])

	tight, err := frame.Normalize(f.Data, g, frame.NV12)
	require.NoError(t, err)
	assert.Len(t, tight, 8*4+8*2)
	assert.NotContains(t, string(tight), string([]byte{PaddingByte}))
	assert.Equal(t, []byte{96, 160, 96, 160}, tight[32:36])
}

func TestPattern_Gray(t *testing.T) {
	g := frame.Geometry{Width: 3, Height: 2, RowStride: 5}
	size, err := frame.PaddedSize(g, frame.Gray8)
	require.NoError(t, err)

	f := Pattern(frame.Left, 2, 0, g, frame.Gray8, size)
	assert.Equal(t, []byte{2, 3, 4, PaddingByte, PaddingByte, 3, 4, 5}, f.Data)
}

func TestSyntheticSource_StartStop(t *testing.T) {
	src, err := NewSynthetic(smallNV12, nil)
	require.NoError(t, err)
	assert.Equal(t, smallNV12, src.Config())

	var c collector
	require.NoError(t, src.Start(context.Background(), c.add))
	assert.ErrorIs(t, src.Start(context.Background(), c.add), ErrAlreadyStarted)

	assert.Eventually(t, func() bool { return c.len() >= 10 }, 2*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	count := c.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, c.len(), "no frames after stop")

	next := map[frame.Channel]uint64{}
	for _, f := range c.snapshot() {
		ch := f.Metadata.Channel
		assert.Equal(t, next[ch], f.Metadata.FrameNumber)
		next[ch]++
	}
	assert.InDelta(t, next[frame.Left], next[frame.Right], 1)
}

func TestSyntheticSource_ContextCancel(t *testing.T) {
	src, err := NewSynthetic(smallNV12, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, src.Start(ctx, c.add))
	assert.Eventually(t, func() bool { return c.len() > 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, src.Stop())

	// A stopped source can be started again.
	require.NoError(t, src.Start(context.Background(), c.add))
	require.NoError(t, src.Stop())
}

func TestSyntheticSource_CallbackErrors(t *testing.T) {
	cfg := smallNV12
	cfg.Channels = []frame.Channel{frame.Left}
	src, err := NewSynthetic(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, src.Start(context.Background(), func(frame.Frame) error {
		return errors.New("queue full")
	}))
	assert.Eventually(t, func() bool { return src.CallbackErrors() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
}

func TestDumpAndReplay(t *testing.T) {
	dir := t.TempDir()
	g := smallNV12.Geometry
	size, err := frame.PaddedSize(g, frame.NV12)
	require.NoError(t, err)

	dump, err := NewDump(dir)
	require.NoError(t, err)
	assert.Error(t, dump.Consume(Pattern(frame.Left, 0, 0, g, frame.NV12, size)))

	require.NoError(t, dump.Open(context.Background()))
	var recorded []frame.Frame
	for n := uint64(0); n < 3; n++ {
		for _, ch := range []frame.Channel{frame.Left, frame.Right} {
			f := Pattern(ch, n*10, int64(n), g, frame.NV12, size)
			require.NoError(t, dump.Consume(f))
			if ch == frame.Left {
				recorded = append(recorded, f)
			}
		}
	}
	require.NoError(t, dump.Close())
	assert.Equal(t, 3, dump.Count(frame.Left))

	replay, err := NewReplay(dir, 500, []frame.Channel{frame.Left, frame.Right}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, replay.Len(frame.Left))
	assert.Equal(t, g, replay.Config().Geometry)
	assert.Equal(t, frame.NV12, replay.Config().Format)

	var c collector
	require.NoError(t, replay.Start(context.Background(), c.add))
	assert.Eventually(t, func() bool { return c.len() >= 14 }, 2*time.Second, time.Millisecond)
	require.NoError(t, replay.Stop())

	var left []frame.Frame
	for _, f := range c.snapshot() {
		if f.Metadata.Channel == frame.Left {
			left = append(left, f)
		}
	}
	require.GreaterOrEqual(t, len(left), 7)
	for i, f := range left[:7] {
		assert.Equal(t, uint64(i), f.Metadata.FrameNumber)
		assert.True(t, bytes.Equal(recorded[i%3].Data, f.Data), "frame %d replays recording %d", i, i%3)
	}
}

func TestDump_ContinuesAfterEarlierSessions(t *testing.T) {
	dir := t.TempDir()
	g := smallNV12.Geometry
	size, err := frame.PaddedSize(g, frame.NV12)
	require.NoError(t, err)

	record := func(fill byte) {
		dump, err := NewDump(dir)
		require.NoError(t, err)
		require.NoError(t, dump.Open(context.Background()))
		f := Pattern(frame.Left, 0, 0, g, frame.NV12, size)
		f.Data = bytes.Repeat([]byte{fill}, size)
		require.NoError(t, dump.Consume(f))
		require.NoError(t, dump.Close())
		assert.Equal(t, 1, dump.Count(frame.Left))
	}
	record(1)
	record(2)

	first, err := os.ReadFile(filepath.Join(dir, RecordingName(frame.Left, 0)+".bin"))
	require.NoError(t, err)
	assert.Equal(t, byte(1), first[0])
	second, err := os.ReadFile(filepath.Join(dir, RecordingName(frame.Left, 1)+".bin"))
	require.NoError(t, err)
	assert.Equal(t, byte(2), second[0])

	replay, err := NewReplay(dir, 500, []frame.Channel{frame.Left}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, replay.Len(frame.Left))
}

func TestReplay_Errors(t *testing.T) {
	_, err := NewReplay(t.TempDir(), 30, []frame.Channel{frame.Left}, nil)
	assert.ErrorIs(t, err, ErrNoFrames)

	_, err = NewDump("")
	assert.Error(t, err)
}

func TestReplay_RejectsMixedGeometry(t *testing.T) {
	dir := t.TempDir()
	dump, err := NewDump(dir)
	require.NoError(t, err)
	require.NoError(t, dump.Open(context.Background()))

	wide := frame.Geometry{Width: 16, Height: 4, RowStride: 16}
	for _, tc := range []struct {
		ch frame.Channel
		g  frame.Geometry
	}{
		{frame.Left, smallNV12.Geometry},
		{frame.Right, wide},
	} {
		size, err := frame.PaddedSize(tc.g, frame.NV12)
		require.NoError(t, err)
		require.NoError(t, dump.Consume(Pattern(tc.ch, 0, 0, tc.g, frame.NV12, size)))
	}
	require.NoError(t, dump.Close())

	_, err = NewReplay(dir, 30, []frame.Channel{frame.Left, frame.Right}, nil)
	assert.ErrorIs(t, err, ErrMixedStream)

	replay, err := NewReplay(dir, 30, []frame.Channel{frame.Right}, nil)
	require.NoError(t, err)
	assert.Equal(t, wide, replay.Config().Geometry)
}
