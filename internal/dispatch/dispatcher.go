// Package dispatch fans frames out to an ordered set of sinks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/sink"
)

type entry struct {
	id     string
	name   string
	sink   sink.Sink
	open   bool
	panics atomic.Uint64
}

// EntryInfo describes one registered sink.
type EntryInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Open   bool       `json:"open"`
	Panics uint64     `json:"panics"`
	Stats  sink.Stats `json:"stats"`
}

// Dispatcher delivers every submitted frame to each registered sink in
// registration order. Sinks are independent: a sink that failed to open is
// skipped and a panicking sink is logged and skipped for that frame only.
//
// Sinks can only be added while the dispatcher is closed. Sinks are always
// called without mu held, so a sink may call back into the dispatcher.
type Dispatcher struct {
	name   string
	logger *slog.Logger

	// lifecycle serializes Add, Open and Close. Lock order is lifecycle
	// then mu.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	entries []*entry
	// live holds the open entries in order. It is replaced, never
	// modified, so Submit can iterate it after releasing mu.
	live []*entry
	open bool

	submitted atomic.Uint64
	rejected  atomic.Uint64
}

var _ sink.Sink = (*Dispatcher)(nil)

// New creates an empty dispatcher.
func New(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		name:   name,
		logger: logger.With(slog.String("component", "dispatcher"), slog.String("dispatcher", name)),
	}
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// Add appends a sink and returns its entry ID.
func (d *Dispatcher) Add(name string, s sink.Sink) (string, error) {
	if s == nil {
		return "", fmt.Errorf("adding sink %s: nil sink", name)
	}

	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return "", fmt.Errorf("adding sink %s: %w", name, ErrStreaming)
	}
	for _, e := range d.entries {
		if e.name == name {
			return "", fmt.Errorf("%w: %s", ErrDuplicateSink, name)
		}
	}

	e := &entry{id: uuid.NewString(), name: name, sink: s}
	d.entries = append(d.entries, e)

	d.logger.Debug("sink registered",
		slog.String("sink", name),
		slog.String("sink_id", e.id),
		slog.Int("position", len(d.entries)-1),
	)
	return e.id, nil
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Open opens every sink in order. Sinks that fail to open are skipped while
// streaming and their errors are joined into the result; the others stay
// open. The dispatcher is open afterwards even when some sinks failed.
func (d *Dispatcher) Open(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.RLock()
	isOpen := d.open
	entries := d.entries
	d.mu.RUnlock()
	if isOpen {
		return fmt.Errorf("dispatcher %s: %w", d.name, sink.ErrAlreadyOpen)
	}

	var errs []error
	live := make([]*entry, 0, len(entries))
	for _, e := range entries {
		if err := e.sink.Open(ctx); err != nil {
			errs = append(errs, &SinkError{SinkID: e.id, SinkName: e.name, Op: "open", Err: err})
			d.logger.Error("sink failed to open",
				slog.String("sink", e.name),
				slog.String("sink_id", e.id),
				slog.String("error", err.Error()),
			)
			continue
		}
		live = append(live, e)
	}

	d.mu.Lock()
	for _, e := range live {
		e.open = true
	}
	d.live = live
	d.open = true
	d.mu.Unlock()

	d.logger.Info("dispatcher opened",
		slog.Int("sinks", len(entries)),
		slog.Int("opened", len(live)),
	)
	return errors.Join(errs...)
}

// Submit delivers f to every open sink.
func (d *Dispatcher) Submit(f frame.Frame) {
	d.submitted.Add(1)

	live, ok := d.liveEntries()
	if !ok {
		d.rejected.Add(1)
		return
	}
	for _, e := range live {
		d.deliver(e, func() { e.sink.Submit(f) }, f.Metadata.FrameNumber)
	}
}

// SubmitBatch delivers frames to every open sink, one batch per sink.
func (d *Dispatcher) SubmitBatch(frames []frame.Frame) {
	if len(frames) == 0 {
		return
	}
	d.submitted.Add(uint64(len(frames)))

	live, ok := d.liveEntries()
	if !ok {
		d.rejected.Add(uint64(len(frames)))
		return
	}
	for _, e := range live {
		d.deliver(e, func() { e.sink.SubmitBatch(frames) }, frames[0].Metadata.FrameNumber)
	}
}

func (d *Dispatcher) liveEntries() ([]*entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.live, d.open
}

// deliver runs fn inside a recover boundary.
func (d *Dispatcher) deliver(e *entry, fn func(), frameNumber uint64) {
	defer func() {
		if r := recover(); r != nil {
			n := e.panics.Add(1)
			d.logger.Error("sink panicked",
				slog.String("sink", e.name),
				slog.String("sink_id", e.id),
				slog.Uint64("frame_number", frameNumber),
				slog.Uint64("panics", n),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

// Close closes every open sink in reverse order. Every sink is closed even
// when an earlier one fails; failures are joined. Closing a closed
// dispatcher is a no-op. A frame submitted concurrently with Close may
// still reach a sink, which rejects it once closed.
func (d *Dispatcher) Close() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	live := d.live
	d.live = nil
	d.open = false
	d.mu.Unlock()

	var errs []error
	for i := len(live) - 1; i >= 0; i-- {
		e := live[i]
		if err := e.sink.Close(); err != nil {
			errs = append(errs, &SinkError{SinkID: e.id, SinkName: e.name, Op: "close", Err: err})
			d.logger.Error("sink failed to close",
				slog.String("sink", e.name),
				slog.String("sink_id", e.id),
				slog.String("error", err.Error()),
			)
		}
		d.mu.Lock()
		e.open = false
		d.mu.Unlock()
	}

	d.logger.Info("dispatcher closed", slog.Uint64("submitted", d.submitted.Load()))
	return errors.Join(errs...)
}

// Stats returns the dispatcher totals: frame counters of the dispatcher
// itself plus the summed sink outcomes.
func (d *Dispatcher) Stats() sink.Stats {
	st := sink.Stats{
		Name:       d.name,
		Discipline: "fanout",
	}

	d.mu.RLock()
	st.Open = d.open
	entries := d.entries
	d.mu.RUnlock()

	for _, e := range entries {
		es := e.sink.Stats()
		st.Consumed += es.Consumed
		st.Failed += es.Failed + e.panics.Load()
		st.Dropped += es.Dropped
		st.Pending += es.Pending
		st.MaxPending = max(st.MaxPending, es.MaxPending)
	}

	st.Submitted = d.submitted.Load()
	st.Rejected = d.rejected.Load()
	return st
}

// Entries returns the registered sinks with their stats, in order.
func (d *Dispatcher) Entries() []EntryInfo {
	d.mu.RLock()
	out := make([]EntryInfo, 0, len(d.entries))
	sinks := make([]sink.Sink, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, EntryInfo{
			ID:     e.id,
			Name:   e.name,
			Open:   e.open,
			Panics: e.panics.Load(),
		})
		sinks = append(sinks, e.sink)
	}
	d.mu.RUnlock()

	for i, s := range sinks {
		out[i].Stats = s.Stats()
	}
	return out
}
