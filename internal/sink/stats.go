package sink

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/framecast/internal/frame"
)

// Stats is a point-in-time snapshot of sink counters. Counters are
// cumulative across open/close cycles.
type Stats struct {
	Name       string `json:"name"`
	Discipline string `json:"discipline"`
	Open       bool   `json:"open"`
	Submitted  uint64 `json:"submitted"`
	Consumed   uint64 `json:"consumed"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
	Pending    int    `json:"pending"`
	MaxPending int    `json:"max_pending"`
}

// Add accumulates the counters of other into s.
func (s *Stats) Add(other Stats) {
	s.Submitted += other.Submitted
	s.Consumed += other.Consumed
	s.Failed += other.Failed
	s.Dropped += other.Dropped
	s.Rejected += other.Rejected
	s.Pending += other.Pending
	s.MaxPending = max(s.MaxPending, other.MaxPending)
}

// core holds what both disciplines share: the consumer, counters and the
// per-frame error boundary.
type core struct {
	name     string
	consumer Consumer
	opts     options

	submitted atomic.Uint64
	consumed  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

func (c *core) init(name string, consumer Consumer, opts []Option) {
	c.name = name
	c.consumer = consumer
	c.opts = buildOptions(opts)
}

// consume runs the consumer on f. Errors and panics are counted and logged
// so a failing consumer never unwinds the caller.
func (c *core) consume(f frame.Frame) {
	start := time.Now()
	err := c.safeConsume(f)
	if err != nil {
		n := c.failed.Add(1)
		c.opts.observer.FrameFailed(c.name)
		// Log the first failure and every 100th after it.
		if n == 1 || n%100 == 0 {
			c.opts.logger.Warn("sink consume failed",
				slog.String("sink", c.name),
				slog.Uint64("frame_number", f.Metadata.FrameNumber),
				slog.Uint64("failures", n),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	c.consumed.Add(1)
	c.opts.observer.FrameConsumed(c.name, len(f.Data), time.Since(start))
}

func (c *core) safeConsume(f frame.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
		}
	}()
	return c.consumer.Consume(f)
}

func (c *core) snapshot(d Discipline) Stats {
	return Stats{
		Name:       c.name,
		Discipline: d.String(),
		Submitted:  c.submitted.Load(),
		Consumed:   c.consumed.Load(),
		Failed:     c.failed.Load(),
		Dropped:    c.dropped.Load(),
		Rejected:   c.rejected.Load(),
	}
}
