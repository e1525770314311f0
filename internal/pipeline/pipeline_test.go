package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/catalog"
	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/video"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (p *fakePipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.buf.Write(b)
}

func (p *fakePipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePipe) PID() int { return 4242 }

func (p *fakePipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

type fakeLauncher struct {
	mu       sync.Mutex
	commands []*ffmpeg.Command
	pipes    []*fakePipe
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, cmd *ffmpeg.Command) (video.Pipe, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)
	if l.err != nil {
		return nil, l.err
	}
	p := &fakePipe{}
	l.pipes = append(l.pipes, p)
	return p, nil
}

func (l *fakeLauncher) snapshot() ([]*ffmpeg.Command, []*fakePipe) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ffmpeg.Command(nil), l.commands...), append([]*fakePipe(nil), l.pipes...)
}

type fakeStore struct {
	mu       sync.Mutex
	begun    []*catalog.Session
	finished map[catalog.ULID][]catalog.Output
	runErrs  []error
	beginErr error
}

func (s *fakeStore) BeginSession(_ context.Context, session *catalog.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return s.beginErr
	}
	session.ID = catalog.NewULID()
	s.begun = append(s.begun, session)
	return nil
}

func (s *fakeStore) FinishSession(_ context.Context, id catalog.ULID, outputs []catalog.Output, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		s.finished = make(map[catalog.ULID][]catalog.Output)
	}
	s.finished[id] = outputs
	s.runErrs = append(s.runErrs, runErr)
	return nil
}

// testConfig returns a small padded NV12 stream writing into t.TempDir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Capture.Width = 64
	cfg.Capture.Height = 48
	cfg.Capture.RowStride = 80
	cfg.Capture.FrameRate = 200
	cfg.Capture.PollInterval = time.Millisecond
	cfg.Capture.MaxDuration = 150 * time.Millisecond
	cfg.Writer.OutputDir = filepath.Join(dir, "out")
	cfg.Snapshot.Dir = filepath.Join(dir, "snapshots")
	cfg.Dump.Dir = filepath.Join(dir, "dump")
	return cfg
}

func newTestFactory(t *testing.T, cfg *config.Config, l *fakeLauncher) *Factory {
	t.Helper()
	f, err := NewFactory(&Dependencies{Config: cfg, Logger: quietLogger(), Launcher: l})
	require.NoError(t, err)
	return f
}

func TestNewFactory_ReportsEveryInvalidSelector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Channels = []string{"left", "center"}
	cfg.Writer.Codec = "vp9"
	cfg.Writer.Container = "avi"
	cfg.Metadata.Discipline = "eventual"
	cfg.Writer.ExtraArgs = "-f mp4 | nc host 1234"

	_, err := NewFactory(&Dependencies{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	for _, field := range []string{"capture.channels", "writer.codec", "writer.container", "metadata.discipline", "writer.extra_args"} {
		assert.ErrorContains(t, err, field)
	}
}

func TestNewFactory_IgnoresDisabledSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Discipline = "eventual"
	cfg.Previewer.Channel = "center"

	_, err := NewFactory(&Dependencies{Config: cfg, Logger: quietLogger()})
	assert.NoError(t, err)
}

func TestNewFactory_NoConfig(t *testing.T) {
	_, err := NewFactory(nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestFactory_StreamConfig(t *testing.T) {
	cfg := testConfig(t)
	f := newTestFactory(t, cfg, &fakeLauncher{})

	stream := f.StreamConfig()
	assert.Equal(t, frame.Geometry{Width: 64, Height: 48, RowStride: 80}, stream.Geometry)
	assert.Equal(t, []frame.Channel{frame.Left, frame.Right}, stream.Channels)

	cfg.Capture.Padded = false
	stream = newTestFactory(t, cfg, &fakeLauncher{}).StreamConfig()
	assert.Equal(t, 64, stream.Geometry.RowStride)
}

func TestFactory_SourceSelection(t *testing.T) {
	cfg := testConfig(t)
	src, err := newTestFactory(t, cfg, &fakeLauncher{}).Source()
	require.NoError(t, err)
	assert.Equal(t, 64, src.Config().Geometry.Width)

	cfg.Capture.Source = "camera"
	_, err = newTestFactory(t, cfg, &fakeLauncher{}).Source()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg.Capture.Source = "replay"
	cfg.Capture.ReplayDir = filepath.Join(t.TempDir(), "missing")
	_, err = newTestFactory(t, cfg, &fakeLauncher{}).Source()
	assert.Error(t, err)
}

func TestFactory_Build(t *testing.T) {
	cfg := testConfig(t)
	cfg.Previewer.Enabled = true
	cfg.Previewer.Channel = "right"
	cfg.Snapshot.Enabled = true
	cfg.Dump.Enabled = true
	cfg.Writer.Labels = map[string]string{"rig": "bench", "operator": "qa"}
	f := newTestFactory(t, cfg, &fakeLauncher{})

	plan, err := f.Build(f.StreamConfig())
	require.NoError(t, err)
	require.Len(t, plan.Dispatchers, 2)

	kinds := map[frame.Channel][]string{}
	for _, o := range plan.Outputs {
		kinds[o.Channel] = append(kinds[o.Channel], o.Kind)
		assert.NotEmpty(t, o.EntryID)
	}
	assert.Equal(t, []string{KindWriter, KindMetadata, KindSnapshot, KindDump}, kinds[frame.Left])
	assert.Equal(t, []string{KindWriter, KindPreview, KindMetadata, KindSnapshot, KindDump}, kinds[frame.Right])

	for _, o := range plan.Outputs {
		switch o.Kind {
		case KindWriter:
			assert.Equal(t, filepath.Join(cfg.Writer.OutputDir, "vst_"+o.Channel.String()+".mp4"), o.Path())
			assert.Equal(t, "async", o.Discipline)
		case KindMetadata:
			assert.Equal(t, filepath.Join(cfg.Writer.OutputDir, "vst_"+o.Channel.String()+".csv"), o.Path())
			assert.Equal(t, "sync", o.Discipline)
		case KindPreview:
			assert.Empty(t, o.Path())
		case KindDump:
			assert.Equal(t, cfg.Dump.Dir, o.Path())
		}
	}

	entries := plan.Dispatchers[frame.Left].Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, KindWriter, entries[0].Name)
	assert.Equal(t, "left/writer", entries[0].Stats.Name)

	assert.DirExists(t, cfg.Writer.OutputDir)
	assert.Equal(t, []string{"-metadata", "operator=qa", "-metadata", "rig=bench"}, f.writer.extraArgs)
}

func TestFactory_BuildAvoidsExistingRecordings(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Writer.OutputDir, 0o750))
	existing := filepath.Join(cfg.Writer.OutputDir, "vst_left.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	f := newTestFactory(t, cfg, &fakeLauncher{})
	plan, err := f.Build(f.StreamConfig())
	require.NoError(t, err)

	for _, o := range plan.Outputs {
		if o.Kind == KindWriter && o.Channel == frame.Left {
			assert.Equal(t, filepath.Join(cfg.Writer.OutputDir, "vst_left_1.mp4"), o.Path())
		}
	}
}

func TestRunner_Run(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{}
	store := &fakeStore{}
	runner := NewRunner(newTestFactory(t, cfg, l), WithSessionStore(store))

	assert.Nil(t, runner.Stats())
	require.NoError(t, runner.Run(context.Background()))

	commands, pipes := l.snapshot()
	require.Len(t, commands, 2)
	for _, p := range pipes {
		assert.Positive(t, p.Len())
		// Normalized NV12 frames are width*height*3/2 bytes.
		assert.Zero(t, p.Len()%(64*48*3/2))
	}

	st := runner.Stats()
	require.NotNil(t, st)
	assert.False(t, st.Running)
	assert.Positive(t, st.Frames)
	assert.Equal(t, st.Frames*uint64(80*72), st.Bytes)
	assert.Len(t, st.Queues, 2)
	assert.Equal(t, 20, st.Queues["left"].Capacity)
	require.Len(t, st.Outputs, 4)
	for _, o := range st.Outputs {
		assert.Equal(t, o.Stats.Submitted, o.Stats.Consumed+o.Stats.Dropped, o.Stats.Name)
		assert.Zero(t, o.Stats.Failed)
	}

	require.Len(t, store.begun, 1)
	session := store.begun[0]
	assert.Equal(t, "left,right", session.Channels)
	assert.Equal(t, 80, session.RowStride)
	assert.Equal(t, session.ID.String(), st.SessionID)
	outputs := store.finished[session.ID]
	require.Len(t, outputs, 4)
	assert.Equal(t, session.ID, outputs[0].SessionID)
	assert.NoError(t, store.runErrs[0])

	data, err := os.ReadFile(filepath.Join(cfg.Writer.OutputDir, "vst_left.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Greater(t, len(lines), 1)
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.MaxDuration = 0
	runner := NewRunner(newTestFactory(t, cfg, &fakeLauncher{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := runner.Stats()
		return st != nil && st.Frames > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, runner.Stats().Running)
	assert.ErrorIs(t, runner.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunner_LaunchFailureDoesNotStopOtherSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Channels = []string{"left"}
	l := &fakeLauncher{err: errors.New("exec: ffmpeg not found")}
	store := &fakeStore{}
	runner := NewRunner(newTestFactory(t, cfg, l), WithSessionStore(store))

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "ffmpeg not found")

	st := runner.Stats()
	require.Len(t, st.Outputs, 2)
	for _, o := range st.Outputs {
		switch o.Kind {
		case KindWriter:
			assert.False(t, o.Open)
			assert.Zero(t, o.Stats.Consumed)
		case KindMetadata:
			assert.Positive(t, o.Stats.Consumed)
		}
	}
	require.Len(t, store.runErrs, 1)
	assert.Error(t, store.runErrs[0])
}

func TestRunner_SessionStoreFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.Enabled = false
	store := &fakeStore{beginErr: errors.New("database is locked")}
	runner := NewRunner(newTestFactory(t, cfg, &fakeLauncher{}), WithSessionStore(store))

	require.NoError(t, runner.Run(context.Background()))
	assert.Empty(t, runner.Stats().SessionID)
	assert.Empty(t, store.finished)
}
