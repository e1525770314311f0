package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/framecast/internal/buffer"
	"github.com/jmylchreest/framecast/internal/capture"
	"github.com/jmylchreest/framecast/internal/catalog"
	"github.com/jmylchreest/framecast/internal/dispatch"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/sink"
	"github.com/jmylchreest/framecast/pkg/bytesize"
)

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("pipeline already running")

// SessionStore records sessions. *catalog.Catalog implements it.
type SessionStore interface {
	BeginSession(ctx context.Context, s *catalog.Session) error
	FinishSession(ctx context.Context, id catalog.ULID, outputs []catalog.Output, runErr error) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSessionStore records every run in store.
func WithSessionStore(store SessionStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// Runner drives one source through the queues into the dispatchers.
type Runner struct {
	factory *Factory
	logger  *slog.Logger
	store   SessionStore

	running atomic.Bool

	mu    sync.RWMutex
	state *runState
}

// runState is what Stats reports about the current or last run.
type runState struct {
	sessionID string
	started   time.Time
	stopped   time.Time
	router    *buffer.Router
	plan      *Plan
	frames    atomic.Uint64
	bytes     atomic.Uint64
}

// NewRunner creates a runner for the pipelines built by factory.
func NewRunner(factory *Factory, opts ...RunnerOption) *Runner {
	r := &Runner{
		factory: factory,
		logger:  factory.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run captures until ctx is done or the configured maximum duration
// elapses. Cancellation is the normal way to stop and is not an error. The
// returned error joins every open and close failure of the sinks.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	capCfg := r.factory.cfg.Capture
	if capCfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, capCfg.MaxDuration)
		defer cancel()
	}

	src, err := r.factory.Source()
	if err != nil {
		return err
	}
	stream := src.Config()

	plan, err := r.factory.Build(stream)
	if err != nil {
		return err
	}

	routerOpts := []buffer.RouterOption{buffer.WithLogger(observability.WithComponent(r.factory.deps.Logger, "router"))}
	if r.factory.deps.RouterObserver != nil {
		routerOpts = append(routerOpts, buffer.WithObserver(r.factory.deps.RouterObserver))
	}
	router, err := buffer.NewRouter(stream.Channels, capCfg.QueueCapacity, routerOpts...)
	if err != nil {
		return err
	}

	state := &runState{router: router, plan: plan, started: time.Now()}
	logger := r.logger
	session := r.beginSession(ctx, stream)
	if session != nil {
		state.sessionID = session.ID.String()
		logger = observability.WithSession(logger, state.sessionID)
	}
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	logger.InfoContext(ctx, "pipeline starting",
		slog.String("source", capCfg.Source),
		slog.String("geometry", stream.Geometry.String()),
		slog.String("format", stream.Format.String()),
		slog.Float64("frame_rate", stream.FrameRate),
		slog.Int("channels", len(stream.Channels)),
		slog.Int("sinks", len(plan.Outputs)),
	)

	var openErrs []error
	for _, ch := range stream.Channels {
		if err := plan.Dispatchers[ch].Open(ctx); err != nil {
			openErrs = append(openErrs, err)
		}
	}
	openErr := errors.Join(openErrs...)
	if openErr != nil {
		logger.WarnContext(ctx, "some sinks failed to open", slog.String("error", openErr.Error()))
	}

	var runErr error
	if err := src.Start(ctx, router.OnFrameReceived); err != nil {
		runErr = fmt.Errorf("starting source: %w", err)
	} else {
		r.poll(ctx, state, capCfg.PollInterval)
		if err := src.Stop(); err != nil {
			logger.WarnContext(ctx, "stopping source", slog.String("error", err.Error()))
		}
		r.drainAll(state)
	}

	var closeErrs []error
	for _, ch := range stream.Channels {
		if err := plan.Dispatchers[ch].Close(); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	r.mu.Lock()
	state.stopped = time.Now()
	r.mu.Unlock()
	err = errors.Join(runErr, openErr, errors.Join(closeErrs...))
	r.finishSession(context.WithoutCancel(ctx), session, state, err)

	elapsed := state.stopped.Sub(state.started)
	logger.InfoContext(ctx, "pipeline stopped",
		slog.Duration("duration", elapsed),
		slog.Uint64("frames", state.frames.Load()),
		slog.String("throughput", bytesize.Rate(state.bytes.Load(), elapsed)),
		slog.Uint64("mismatched", router.Mismatched()),
	)
	return err
}

// poll drains the queues every interval until ctx is done.
func (r *Runner) poll(ctx context.Context, state *runState, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			r.drainAll(state)
		}
	}
}

func (r *Runner) drainAll(state *runState) {
	for _, ch := range state.router.Channels() {
		frames, err := state.router.Drain(ch)
		if err != nil || len(frames) == 0 {
			continue
		}
		var n uint64
		for _, f := range frames {
			n += uint64(len(f.Data))
		}
		state.frames.Add(uint64(len(frames)))
		state.bytes.Add(n)
		state.plan.Dispatchers[ch].SubmitBatch(frames)
	}
}

func (r *Runner) beginSession(ctx context.Context, stream capture.StreamConfig) *catalog.Session {
	if r.store == nil {
		return nil
	}
	names := make([]string, 0, len(stream.Channels))
	for _, ch := range stream.Channels {
		names = append(names, ch.String())
	}
	session := &catalog.Session{
		Source:    r.factory.cfg.Capture.Source,
		Width:     stream.Geometry.Width,
		Height:    stream.Geometry.Height,
		RowStride: stream.Geometry.RowStride,
		Format:    stream.Format.String(),
		FrameRate: stream.FrameRate,
		Channels:  strings.Join(names, ","),
	}
	if err := r.store.BeginSession(ctx, session); err != nil {
		r.logger.WarnContext(ctx, "recording session start failed", slog.String("error", err.Error()))
		return nil
	}
	return session
}

func (r *Runner) finishSession(ctx context.Context, session *catalog.Session, state *runState, runErr error) {
	if session == nil {
		return
	}
	outputs := make([]catalog.Output, 0, len(state.plan.Outputs))
	for _, info := range r.outputStatus(state) {
		outputs = append(outputs, catalog.Output{
			SessionID:  session.ID,
			Channel:    info.Channel,
			Sink:       info.Kind,
			Discipline: info.Stats.Discipline,
			Path:       info.Path,
			Submitted:  info.Stats.Submitted,
			Consumed:   info.Stats.Consumed,
			Failed:     info.Stats.Failed,
			Dropped:    info.Stats.Dropped,
			Rejected:   info.Stats.Rejected,
		})
	}
	if err := r.store.FinishSession(ctx, session.ID, outputs, runErr); err != nil {
		r.logger.WarnContext(ctx, "recording session end failed",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// QueueStatus describes one channel queue.
type QueueStatus struct {
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
}

// OutputStatus describes one sink.
type OutputStatus struct {
	ID      string     `json:"id"`
	Channel string     `json:"channel"`
	Kind    string     `json:"kind"`
	Path    string     `json:"path,omitempty"`
	Open    bool       `json:"open"`
	Panics  uint64     `json:"panics"`
	Stats   sink.Stats `json:"stats"`
}

// Status is a snapshot of the current or most recent run.
type Status struct {
	Running    bool                   `json:"running"`
	SessionID  string                 `json:"session_id,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   string                 `json:"duration"`
	Frames     uint64                 `json:"frames"`
	Bytes      uint64                 `json:"bytes"`
	Throughput string                 `json:"throughput"`
	Mismatched uint64                 `json:"mismatched"`
	Queues     map[string]QueueStatus `json:"queues"`
	Outputs    []OutputStatus         `json:"outputs"`
}

// Stats returns a snapshot of the current or most recent run, or nil when
// nothing has run yet.
func (r *Runner) Stats() *Status {
	r.mu.RLock()
	state := r.state
	var stopped time.Time
	if state != nil {
		stopped = state.stopped
	}
	r.mu.RUnlock()
	if state == nil {
		return nil
	}

	running := stopped.IsZero()
	end := stopped
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(state.started)

	st := &Status{
		Running:    running,
		SessionID:  state.sessionID,
		StartedAt:  state.started,
		Duration:   elapsed.Round(time.Millisecond).String(),
		Frames:     state.frames.Load(),
		Bytes:      state.bytes.Load(),
		Throughput: bytesize.Rate(state.bytes.Load(), elapsed),
		Mismatched: state.router.Mismatched(),
		Queues:     make(map[string]QueueStatus),
		Outputs:    r.outputStatus(state),
	}
	for _, ch := range state.router.Channels() {
		q := state.router.Queue(ch)
		st.Queues[ch.String()] = QueueStatus{
			Length:   q.Len(),
			Capacity: q.Capacity(),
			Pushed:   q.Pushed(),
			Dropped:  q.Dropped(),
		}
	}
	return st
}

// outputStatus joins the planned outputs with the live dispatcher entries.
func (r *Runner) outputStatus(state *runState) []OutputStatus {
	entries := make(map[string]dispatch.EntryInfo)
	for _, d := range state.plan.Dispatchers {
		for _, e := range d.Entries() {
			entries[e.ID] = e
		}
	}

	out := make([]OutputStatus, 0, len(state.plan.Outputs))
	for _, o := range state.plan.Outputs {
		e := entries[o.EntryID]
		out = append(out, OutputStatus{
			ID:      o.EntryID,
			Channel: o.Channel.String(),
			Kind:    o.Kind,
			Path:    o.Path(),
			Open:    e.Open,
			Panics:  e.Panics,
			Stats:   e.Stats,
		})
	}
	return out
}
