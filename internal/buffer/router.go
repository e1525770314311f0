package buffer

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/framecast/internal/frame"
)

// Observer receives queue events. Implementations must be cheap and safe for
// concurrent use since they run on the capture goroutine.
type Observer interface {
	FrameQueued(ch frame.Channel)
	FramesEvicted(ch frame.Channel, n int)
	ChannelMismatch(ch frame.Channel)
}

type nopObserver struct{}

func (nopObserver) FrameQueued(frame.Channel)        {}
func (nopObserver) FramesEvicted(frame.Channel, int) {}
func (nopObserver) ChannelMismatch(frame.Channel)    {}

// Router owns one Queue per configured channel and is the target of the
// capture callback.
type Router struct {
	queues     map[frame.Channel]*Queue
	channels   []frame.Channel
	observer   Observer
	logger     *slog.Logger
	mismatched atomic.Uint64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithObserver attaches an Observer.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the logger used for channel mismatch reports.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router with one queue of the given capacity per channel.
func NewRouter(channels []frame.Channel, capacity int, opts ...RouterOption) (*Router, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("router needs at least one channel")
	}
	r := &Router{
		queues:   make(map[frame.Channel]*Queue, len(channels)),
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, ch := range channels {
		if _, dup := r.queues[ch]; dup {
			return nil, fmt.Errorf("duplicate channel %s", ch)
		}
		q, err := NewQueue(capacity)
		if err != nil {
			return nil, err
		}
		r.queues[ch] = q
		r.channels = append(r.channels, ch)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// OnFrameReceived pushes f onto its channel queue. A frame tagged with an
// unconfigured channel is reported and returned as an error.
func (r *Router) OnFrameReceived(f frame.Frame) error {
	ch := f.Metadata.Channel
	q, ok := r.queues[ch]
	if !ok {
		r.mismatched.Add(1)
		r.observer.ChannelMismatch(ch)
		r.logger.Error("frame received for unknown channel",
			slog.String("channel", ch.String()),
			slog.Uint64("frame_number", f.Metadata.FrameNumber),
		)
		return fmt.Errorf("%w: %s", frame.ErrUnknownChannel, ch)
	}

	evicted := q.Push(f)
	r.observer.FrameQueued(ch)
	if evicted > 0 {
		r.observer.FramesEvicted(ch, evicted)
	}
	return nil
}

// Drain returns the backlog of one channel.
func (r *Router) Drain(ch frame.Channel) ([]frame.Frame, error) {
	q, ok := r.queues[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", frame.ErrUnknownChannel, ch)
	}
	return q.DrainAll(), nil
}

// Queue returns the queue of a channel, or nil.
func (r *Router) Queue(ch frame.Channel) *Queue {
	return r.queues[ch]
}

// Channels returns the configured channels in configuration order.
func (r *Router) Channels() []frame.Channel {
	return append([]frame.Channel(nil), r.channels...)
}

// Mismatched returns how many frames arrived on an unknown channel.
func (r *Router) Mismatched() uint64 {
	return r.mismatched.Load()
}
