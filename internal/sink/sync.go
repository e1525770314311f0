package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/framecast/internal/frame"
)

// SyncSink consumes frames on the submitting goroutine. A slow consumer slows
// the caller. Concurrent submitters are serialized so writes never interleave.
type SyncSink struct {
	core

	mu   sync.Mutex
	open atomic.Bool
}

// NewSync creates a synchronous sink.
func NewSync(name string, consumer Consumer, opts ...Option) *SyncSink {
	s := &SyncSink{}
	s.init(name, consumer, opts)
	return s
}

// Name returns the sink name.
func (s *SyncSink) Name() string { return s.name }

// Open opens the consumer. Opening an open sink returns ErrAlreadyOpen.
func (s *SyncSink) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open.Load() {
		return fmt.Errorf("%s: %w", s.name, ErrAlreadyOpen)
	}
	if err := s.consumer.Open(ctx); err != nil {
		return fmt.Errorf("opening sink %s: %w", s.name, err)
	}
	s.open.Store(true)
	s.opts.logger.Debug("sink opened", slog.String("sink", s.name), slog.String("discipline", "sync"))
	return nil
}

// Submit consumes f before returning.
func (s *SyncSink) Submit(f frame.Frame) {
	s.submitted.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open.Load() {
		s.rejected.Add(1)
		return
	}
	s.consume(f)
}

// SubmitBatch consumes frames in order.
func (s *SyncSink) SubmitBatch(frames []frame.Frame) {
	if len(frames) == 0 {
		return
	}
	s.submitted.Add(uint64(len(frames)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open.Load() {
		s.rejected.Add(uint64(len(frames)))
		return
	}
	for _, f := range frames {
		s.consume(f)
	}
}

// Close closes the consumer. Closing a closed sink is a no-op.
func (s *SyncSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open.Load() {
		return nil
	}
	s.open.Store(false)
	if err := s.consumer.Close(); err != nil {
		return fmt.Errorf("closing sink %s: %w", s.name, err)
	}
	s.opts.logger.Debug("sink closed", slog.String("sink", s.name))
	return nil
}

// Stats returns a snapshot of the sink counters.
func (s *SyncSink) Stats() Stats {
	st := s.snapshot(Sync)
	st.Open = s.open.Load()
	return st
}
