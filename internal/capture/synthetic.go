package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/framecast/internal/frame"
)

// PaddingByte fills the row padding of synthetic frames.
const PaddingByte = 0xEE

// SyntheticSource generates a moving gradient on every configured channel.
// Row padding carries PaddingByte so a missing normalization is visible.
type SyntheticSource struct {
	cfg    StreamConfig
	size   int
	ticker ticker
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg StreamConfig, logger *slog.Logger) (*SyntheticSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size, err := frame.PaddedSize(cfg.Geometry, cfg.Format)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SyntheticSource{cfg: cfg, size: size}
	s.ticker.logger = logger.With(slog.String("component", "synthetic_source"))
	return s, nil
}

// Config implements Source.
func (s *SyntheticSource) Config() StreamConfig { return s.cfg }

// Start implements Source.
func (s *SyntheticSource) Start(ctx context.Context, cb Callback) error {
	return s.ticker.start(ctx, s.cfg.Interval(), s.frames, cb)
}

// Stop implements Source.
func (s *SyntheticSource) Stop() error {
	s.ticker.stop()
	return nil
}

// CallbackErrors returns how many frames the callback rejected.
func (s *SyntheticSource) CallbackErrors() uint64 {
	return s.ticker.callbackErrors()
}

func (s *SyntheticSource) frames(n uint64) []frame.Frame {
	now := time.Now().UnixNano()
	out := make([]frame.Frame, 0, len(s.cfg.Channels))
	for _, ch := range s.cfg.Channels {
		out = append(out, Pattern(ch, n, now, s.cfg.Geometry, s.cfg.Format, s.size))
	}
	return out
}

// Pattern renders frame n of a channel. Luma is a diagonal gradient shifted
// by n, chroma is constant per channel, padding is PaddingByte.
func Pattern(ch frame.Channel, n uint64, ts int64, g frame.Geometry, format frame.PixelFormat, size int) frame.Frame {
	data := make([]byte, size)
	shift := int(n % 256)

	for row := 0; row < g.Height; row++ {
		line := data[row*g.RowStride:]
		for col := 0; col < g.Width; col++ {
			line[col] = byte(row + col + shift)
		}
		fillPadding(line, g)
	}

	if format == frame.NV12 {
		base := g.RowStride * g.Height
		u, v := byte(128), byte(128)
		if ch == frame.Right {
			u, v = 96, 160
		}
		chroma := g.Height / 2
		for row := 0; row < chroma; row++ {
			line := data[base+row*g.RowStride:]
			for col := 0; col+1 < g.Width; col += 2 {
				line[col] = u
				line[col+1] = v
			}
			fillPadding(line, g)
		}
	}

	return frame.Frame{
		Metadata: frame.Metadata{
			Channel:     ch,
			FrameNumber: n,
			Timestamp:   ts,
			Geometry:    g,
			Format:      format,
			ByteSize:    size,
		},
		Data: data,
	}
}

// fillPadding marks the padding of one row. The last row of a buffer may be
// shorter than the stride.
func fillPadding(line []byte, g frame.Geometry) {
	end := min(g.RowStride, len(line))
	for i := g.Width; i < end; i++ {
		line[i] = PaddingByte
	}
}
