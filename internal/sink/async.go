package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/framecast/internal/frame"
)

// AsyncSink hands frames to a single worker goroutine. Submit only appends
// to an in-memory queue and signals the worker, so the caller never waits on
// the consumer. The queue is unbounded; bounding happens upstream in the
// channel queues.
//
// The worker waits for "queue non-empty or stop", swaps the whole queue out
// and consumes it without holding the lock. Frames are consumed in
// submission order. Close stops and joins the worker after every queued frame
// has been consumed, then closes the consumer.
type AsyncSink struct {
	core

	// lifecycle serializes Open and Close. It is never taken on the
	// submit path. Lock order is lifecycle then mu, and mu is never held
	// while calling the consumer.
	lifecycle sync.Mutex

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []frame.Frame
	open       bool
	stopping   bool
	maxPending int
	done       chan struct{}
}

// NewAsync creates an asynchronous sink.
func NewAsync(name string, consumer Consumer, opts ...Option) *AsyncSink {
	s := &AsyncSink{}
	s.init(name, consumer, opts)
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Name returns the sink name.
func (s *AsyncSink) Name() string { return s.name }

// Policy returns the backlog policy.
func (s *AsyncSink) Policy() Policy { return s.opts.policy }

// Open opens the consumer and starts the worker. If the consumer fails to
// open no worker is started and the sink stays closed.
func (s *AsyncSink) Open(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	isOpen := s.open
	s.mu.Unlock()
	if isOpen {
		return fmt.Errorf("%s: %w", s.name, ErrAlreadyOpen)
	}

	if err := s.consumer.Open(ctx); err != nil {
		return fmt.Errorf("opening sink %s: %w", s.name, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.queue = nil
	s.stopping = false
	s.maxPending = 0
	s.open = true
	s.done = done
	s.mu.Unlock()

	go s.run(done)

	s.opts.logger.Debug("sink opened",
		slog.String("sink", s.name),
		slog.String("discipline", "async"),
		slog.String("policy", s.opts.policy.String()),
	)
	return nil
}

// Submit enqueues f and wakes the worker.
func (s *AsyncSink) Submit(f frame.Frame) {
	s.submitted.Add(1)

	s.mu.Lock()
	if !s.open || s.stopping {
		s.mu.Unlock()
		s.rejected.Add(1)
		return
	}
	s.queue = append(s.queue, f)
	depth := len(s.queue)
	s.maxPending = max(s.maxPending, depth)
	s.cond.Signal()
	s.mu.Unlock()

	s.opts.observer.QueueDepth(s.name, depth)
}

// SubmitBatch enqueues frames in order under a single lock acquisition.
func (s *AsyncSink) SubmitBatch(frames []frame.Frame) {
	if len(frames) == 0 {
		return
	}
	s.submitted.Add(uint64(len(frames)))

	s.mu.Lock()
	if !s.open || s.stopping {
		s.mu.Unlock()
		s.rejected.Add(uint64(len(frames)))
		return
	}
	s.queue = append(s.queue, frames...)
	depth := len(s.queue)
	s.maxPending = max(s.maxPending, depth)
	s.cond.Signal()
	s.mu.Unlock()

	s.opts.observer.QueueDepth(s.name, depth)
}

func (s *AsyncSink) run(done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopping {
			s.cond.Wait()
		}
		batch := s.queue
		s.queue = nil
		stopping := s.stopping
		s.mu.Unlock()

		if len(batch) == 0 {
			if stopping {
				return
			}
			continue
		}
		s.opts.observer.QueueDepth(s.name, 0)
		s.process(batch)
	}
}

func (s *AsyncSink) process(batch []frame.Frame) {
	if s.opts.policy == LatestOnly && len(batch) > 1 {
		skipped := len(batch) - 1
		s.dropped.Add(uint64(skipped))
		s.opts.observer.FramesDropped(s.name, skipped)
		batch = batch[skipped:]
	}
	for _, f := range batch {
		s.consume(f)
	}
}

// Close stops the worker, waits for it to consume everything already queued
// and then closes the consumer. Closing a closed sink is a no-op. A consumer
// that blocks forever makes Close block forever.
func (s *AsyncSink) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.cond.Broadcast()
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.open = false
	s.stopping = false
	s.done = nil
	s.mu.Unlock()

	if err := s.consumer.Close(); err != nil {
		return fmt.Errorf("closing sink %s: %w", s.name, err)
	}
	s.opts.logger.Debug("sink closed",
		slog.String("sink", s.name),
		slog.Uint64("consumed", s.consumed.Load()),
		slog.Uint64("dropped", s.dropped.Load()),
	)
	return nil
}

// Stats returns a snapshot of the sink counters.
func (s *AsyncSink) Stats() Stats {
	st := s.snapshot(Async)
	s.mu.Lock()
	st.Open = s.open
	st.Pending = len(s.queue)
	st.MaxPending = s.maxPending
	s.mu.Unlock()
	return st
}
