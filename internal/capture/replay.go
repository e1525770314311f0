package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/framecast/internal/frame"
)

// RecordingName returns the base file name of the n-th recorded frame of a
// channel. The payload is stored as name+".bin" and its metadata as
// name+".json".
func RecordingName(ch frame.Channel, n int) string {
	return fmt.Sprintf("%s_%d", ch, n)
}

type recorded struct {
	md   frame.Metadata
	data []byte
}

// ReplaySource loads a directory of recorded frames and replays them in a
// loop at the configured frame rate. Frame numbers and timestamps are
// rewritten so the replayed stream is monotonic.
type ReplaySource struct {
	cfg    StreamConfig
	frames map[frame.Channel][]recorded
	ticker ticker
}

// NewReplay loads the recordings of every channel from dir. Each channel
// needs at least one frame, numbered contiguously from 0.
func NewReplay(dir string, frameRate float64, channels []frame.Channel, logger *slog.Logger) (*ReplaySource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "replay_source"))

	s := &ReplaySource{frames: make(map[frame.Channel][]recorded, len(channels))}
	for _, ch := range channels {
		recs, err := loadChannel(dir, ch)
		if err != nil {
			return nil, err
		}
		s.frames[ch] = recs
		logger.Info("loaded recorded frames",
			slog.String("channel", ch.String()),
			slog.Int("frames", len(recs)),
			slog.String("dir", dir),
		)
	}

	var first frame.Metadata
	if len(channels) > 0 {
		first = s.frames[channels[0]][0].md
	}
	s.cfg = StreamConfig{
		Geometry:  first.Geometry,
		Format:    first.Format,
		FrameRate: frameRate,
		Channels:  append([]frame.Channel(nil), channels...),
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("replay %s: %w", dir, err)
	}
	for _, ch := range channels {
		for n, rec := range s.frames[ch] {
			if rec.md.Geometry != first.Geometry || rec.md.Format != first.Format {
				return nil, fmt.Errorf("%w: %s in %s is %s %s, stream is %s %s", ErrMixedStream,
					RecordingName(ch, n), dir, rec.md.Geometry, rec.md.Format, first.Geometry, first.Format)
			}
		}
	}
	s.ticker.logger = logger
	return s, nil
}

func loadChannel(dir string, ch frame.Channel) ([]recorded, error) {
	var recs []recorded
	for n := 0; ; n++ {
		base := filepath.Join(dir, RecordingName(ch, n))

		raw, err := os.ReadFile(base + ".json")
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading metadata: %w", err)
		}

		var md frame.Metadata
		if err := json.Unmarshal(raw, &md); err != nil {
			return nil, fmt.Errorf("parsing %s.json: %w", base, err)
		}

		data, err := os.ReadFile(base + ".bin")
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}

		md.Channel = ch
		f := frame.Frame{Metadata: md, Data: data}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("recorded frame %s: %w", base, err)
		}
		recs = append(recs, recorded{md: md, data: data})
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: channel %s in %s", ErrNoFrames, ch, dir)
	}
	return recs, nil
}

// Config implements Source.
func (s *ReplaySource) Config() StreamConfig { return s.cfg }

// Len returns the number of recorded frames of a channel.
func (s *ReplaySource) Len(ch frame.Channel) int { return len(s.frames[ch]) }

// Start implements Source.
func (s *ReplaySource) Start(ctx context.Context, cb Callback) error {
	return s.ticker.start(ctx, s.cfg.Interval(), s.next, cb)
}

// Stop implements Source.
func (s *ReplaySource) Stop() error {
	s.ticker.stop()
	return nil
}

func (s *ReplaySource) next(n uint64) []frame.Frame {
	now := time.Now().UnixNano()
	out := make([]frame.Frame, 0, len(s.cfg.Channels))
	for _, ch := range s.cfg.Channels {
		recs := s.frames[ch]
		rec := recs[n%uint64(len(recs))]

		md := rec.md
		md.FrameNumber = n
		md.Timestamp = now
		out = append(out, frame.Frame{Metadata: md, Data: rec.data})
	}
	return out
}
