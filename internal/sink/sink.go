// Package sink provides the frame consumer abstraction and its two delivery
// disciplines.
//
// A Consumer implements one "consume one frame" step (write to a pipe, append
// a CSV row, save a still). A Sink wraps a Consumer with a discipline:
// SyncSink runs the step on the submitting goroutine, AsyncSink hands frames
// to a private worker goroutine and returns immediately.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/framecast/internal/frame"
)

// Sentinel errors.
var (
	ErrAlreadyOpen       = errors.New("sink already open")
	ErrInvalidDiscipline = errors.New("invalid sink discipline")
)

// Consumer performs the per-frame work of a sink.
type Consumer interface {
	// Open acquires the consumer's resources.
	Open(ctx context.Context) error
	// Consume processes a single frame.
	Consume(f frame.Frame) error
	// Close flushes and releases resources. It is only called after a
	// successful Open.
	Close() error
}

// Sink accepts frames for delivery to a consumer.
type Sink interface {
	Name() string
	Open(ctx context.Context) error
	// Submit delivers one frame. Consumer failures are recorded in Stats and
	// never returned to the caller.
	Submit(f frame.Frame)
	SubmitBatch(frames []frame.Frame)
	Close() error
	Stats() Stats
}

// Discipline selects where the consumption step runs.
type Discipline int

const (
	// Sync consumes on the submitting goroutine.
	Sync Discipline = iota
	// Async consumes on a dedicated worker goroutine.
	Async
)

func (d Discipline) String() string {
	switch d {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("discipline(%d)", int(d))
	}
}

// ParseDiscipline parses a discipline selector. "serial" and "parallel" are
// accepted as aliases.
func ParseDiscipline(s string) (Discipline, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sync", "synchronous", "serial":
		return Sync, nil
	case "async", "asynchronous", "parallel":
		return Async, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDiscipline, s)
	}
}

// Policy controls what an AsyncSink does with a backlog.
type Policy int

const (
	// DeliverAll consumes every submitted frame in order.
	DeliverAll Policy = iota
	// LatestOnly consumes only the newest frame of each backlog and counts
	// the rest as dropped.
	LatestOnly
)

func (p Policy) String() string {
	if p == LatestOnly {
		return "latest_only"
	}
	return "deliver_all"
}

// Observer receives per-sink events, typically for metrics.
type Observer interface {
	FrameConsumed(sink string, bytes int, elapsed time.Duration)
	FrameFailed(sink string)
	FramesDropped(sink string, n int)
	QueueDepth(sink string, depth int)
}

type nopObserver struct{}

func (nopObserver) FrameConsumed(string, int, time.Duration) {}
func (nopObserver) FrameFailed(string)                       {}
func (nopObserver) FramesDropped(string, int)                {}
func (nopObserver) QueueDepth(string, int)                   {}

type options struct {
	logger   *slog.Logger
	observer Observer
	policy   Policy
}

// Option configures a sink.
type Option func(*options)

// WithLogger sets the sink logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver attaches an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithPolicy sets the backlog policy. Only AsyncSink honours it.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		observer: nopObserver{},
		policy:   DeliverAll,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New wraps consumer in the sink for discipline d.
func New(d Discipline, name string, consumer Consumer, opts ...Option) (Sink, error) {
	if consumer == nil {
		return nil, fmt.Errorf("sink %s: nil consumer", name)
	}
	switch d {
	case Sync:
		return NewSync(name, consumer, opts...), nil
	case Async:
		return NewAsync(name, consumer, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiscipline, d)
	}
}

// ConsumerFunc adapts a function to a Consumer with no resources.
type ConsumerFunc func(f frame.Frame) error

// Open implements Consumer.
func (fn ConsumerFunc) Open(context.Context) error { return nil }

// Consume implements Consumer.
func (fn ConsumerFunc) Consume(f frame.Frame) error { return fn(f) }

// Close implements Consumer.
func (fn ConsumerFunc) Close() error { return nil }
