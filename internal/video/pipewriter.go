package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/sink"
)

// stderrTailLines is how many trailing stderr lines are logged when the
// process exits with an error.
const stderrTailLines = 10

// Errors returned while consuming frames.
var (
	ErrNotOpen          = errors.New("pipe is not open")
	ErrGeometryMismatch = errors.New("frame geometry does not match the stream")
)

// WriteStats counts what has been written to the subprocess.
type WriteStats struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
	// Process is the last resource sample of the subprocess, if available.
	Process *ffmpeg.ProcessStats `json:"process,omitempty"`
}

// Option configures an Encoder or Previewer.
type Option func(*pipeWriter)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(w *pipeWriter) {
		if l != nil {
			w.launcher = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *pipeWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// pipeWriter is the consumption step shared by the encoder and previewer:
// launch a command on Open, write each frame's tight bytes to its stdin and
// close the pipe on Close.
type pipeWriter struct {
	kind      string
	geometry  frame.Geometry
	format    frame.PixelFormat
	padded    bool
	tightSize int
	bufSize   int
	flushEach bool
	build     func() (*ffmpeg.Command, error)
	launcher  Launcher
	logger    *slog.Logger

	mu       sync.Mutex
	pipe     Pipe
	w        *bufio.Writer
	scratch  []byte
	command  string
	openedAt time.Time
	last     *ffmpeg.ProcessStats

	frames atomic.Uint64
	bytes  atomic.Uint64
}

func (w *pipeWriter) init(kind string, g frame.Geometry, format frame.PixelFormat, padded bool, bufSize int, opts []Option) error {
	tight, err := frame.TightSize(g, format)
	if err != nil {
		return err
	}

	w.kind = kind
	w.geometry = g
	w.format = format
	w.padded = padded
	w.tightSize = tight
	w.bufSize = bufSize
	if w.bufSize <= 0 {
		w.bufSize = tight
	}
	w.launcher = ExecLauncher{}
	w.logger = slog.Default()
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", kind))
	return nil
}

// Open builds the command and launches the process. A launch failure leaves
// the writer closed.
func (w *pipeWriter) Open(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipe != nil {
		return fmt.Errorf("%s: %w", w.kind, sink.ErrAlreadyOpen)
	}

	cmd, err := w.build()
	if err != nil {
		return err
	}

	pipe, err := w.launcher.Launch(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLaunch, cmd.Binary, err)
	}

	w.pipe = pipe
	w.w = bufio.NewWriterSize(pipe, w.bufSize)
	w.command = cmd.String()
	w.openedAt = time.Now()
	w.last = nil
	if w.padded && w.scratch == nil {
		w.scratch = make([]byte, w.tightSize)
	}

	w.logger.Info("subprocess started",
		slog.Int("pid", pipe.PID()),
		slog.String("command", w.command),
		slog.String("geometry", w.geometry.String()),
		slog.Bool("padded", w.padded),
	)
	return nil
}

// Consume writes the tightly packed payload of f to the process. Short
// writes are reported and not retried.
func (w *pipeWriter) Consume(f frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipe == nil {
		return ErrNotOpen
	}

	md := f.Metadata
	if md.Geometry.Width != 0 && (md.Geometry.Width != w.geometry.Width || md.Geometry.Height != w.geometry.Height || md.Format != w.format) {
		return fmt.Errorf("%w: got %s %s, want %s %s",
			ErrGeometryMismatch, md.Geometry, md.Format, w.geometry, w.format)
	}

	var data []byte
	if w.padded {
		if err := frame.NormalizeInto(w.scratch, f.Data, w.geometry, w.format); err != nil {
			return fmt.Errorf("normalizing frame %d: %w", md.FrameNumber, err)
		}
		data = w.scratch
	} else {
		if len(f.Data) < w.tightSize {
			return fmt.Errorf("%w: frame %d is %d bytes, need %d",
				frame.ErrShortBuffer, md.FrameNumber, len(f.Data), w.tightSize)
		}
		data = f.Data[:w.tightSize]
	}

	n, err := w.w.Write(data)
	w.bytes.Add(uint64(n)) //nolint:gosec // n is never negative
	if err != nil {
		return fmt.Errorf("writing frame %d (%d of %d bytes): %w", md.FrameNumber, n, len(data), err)
	}
	if w.flushEach {
		if err := w.w.Flush(); err != nil {
			return fmt.Errorf("flushing frame %d: %w", md.FrameNumber, err)
		}
	}
	w.frames.Add(1)
	return nil
}

// Close flushes buffered bytes and closes the pipe, which waits for the
// process to exit. The exit status is logged, not returned.
func (w *pipeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipe == nil {
		return nil
	}

	flushErr := w.w.Flush()
	closeErr := w.pipe.Close()

	attrs := []any{
		slog.Int("pid", w.pipe.PID()),
		slog.Uint64("frames", w.frames.Load()),
		slog.Uint64("bytes", w.bytes.Load()),
		slog.Duration("duration", time.Since(w.openedAt)),
	}
	if ps, ok := w.pipe.(processStatser); ok {
		if stats := ps.ProcessStats(); stats != nil {
			w.last = stats
			attrs = append(attrs,
				slog.Float64("cpu_percent", stats.CPUPercent),
				slog.Uint64("rss_bytes", stats.MemoryRSSBytes),
				slog.Float64("write_rate_mbps", stats.WriteRateMbps),
			)
		}
	}
	if closeErr != nil {
		attrs = append(attrs, slog.String("error", closeErr.Error()))
		if st, ok := w.pipe.(stderrTailer); ok {
			if lines := st.StderrLines(); len(lines) > 0 {
				attrs = append(attrs, slog.Any("stderr", lines[max(0, len(lines)-stderrTailLines):]))
			}
		}
		w.logger.Warn("subprocess exited with error", attrs...)
	} else {
		w.logger.Info("subprocess exited", attrs...)
	}

	w.pipe = nil
	w.w = nil

	if flushErr != nil {
		return fmt.Errorf("flushing %s pipe: %w", w.kind, flushErr)
	}
	return nil
}

// Command returns the last launched command line.
func (w *pipeWriter) Command() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.command
}

// Stats returns write counters.
func (w *pipeWriter) Stats() WriteStats {
	w.mu.Lock()
	last := w.last
	if ps, ok := w.pipe.(processStatser); ok {
		last = ps.ProcessStats()
	}
	w.mu.Unlock()

	return WriteStats{
		Frames:  w.frames.Load(),
		Bytes:   w.bytes.Load(),
		Process: last,
	}
}
