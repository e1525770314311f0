// Package capture provides frame sources that stand in for a camera capture
// session: a synthetic test pattern and a replay of recorded frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/framecast/internal/frame"
)

// Sentinel errors.
var (
	ErrAlreadyStarted = errors.New("source already started")
	ErrNoFrames       = errors.New("no recorded frames found")
	ErrMixedStream    = errors.New("recorded frames disagree on geometry or format")
)

// Callback receives every captured frame on the source goroutine. It must
// return quickly.
type Callback func(f frame.Frame) error

// StreamConfig describes the frames a source produces.
type StreamConfig struct {
	Geometry  frame.Geometry
	Format    frame.PixelFormat
	FrameRate float64
	Channels  []frame.Channel
}

// Validate checks the stream description.
func (c StreamConfig) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if _, err := frame.TightSize(c.Geometry, c.Format); err != nil {
		return err
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %v", c.FrameRate)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("stream has no channels")
	}
	return nil
}

// Interval returns the time between two frames.
func (c StreamConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// Source produces frames until stopped.
type Source interface {
	Config() StreamConfig
	// Start begins delivering frames to cb. It returns once the producer is
	// running.
	Start(ctx context.Context, cb Callback) error
	// Stop halts delivery and waits for the producer to exit.
	Stop() error
}

// ticker drives a produce function at a fixed interval on its own goroutine.
type ticker struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	errors uint64
}

func (t *ticker) start(ctx context.Context, interval time.Duration, produce func(tick uint64) []frame.Frame, cb Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		tk := time.NewTicker(interval)
		defer tk.Stop()

		var n uint64
		for {
			for _, f := range produce(n) {
				if err := cb(f); err != nil {
					t.mu.Lock()
					t.errors++
					count := t.errors
					t.mu.Unlock()
					if count == 1 || count%100 == 0 {
						t.logger.Warn("frame callback failed",
							slog.String("channel", f.Metadata.Channel.String()),
							slog.Uint64("frame_number", f.Metadata.FrameNumber),
							slog.Uint64("failures", count),
							slog.String("error", err.Error()),
						)
					}
				}
			}
			n++

			select {
			case <-ctx.Done():
				return
			case <-tk.C:
			}
		}
	}()
	return nil
}

func (t *ticker) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.cancel = nil
	t.mu.Unlock()
}

// callbackErrors returns how many callback invocations failed.
func (t *ticker) callbackErrors() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors
}
