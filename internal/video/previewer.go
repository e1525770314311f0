package video

import (
	"fmt"

	"github.com/jmylchreest/framecast/internal/encode"
	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/sink"
)

// PreviewerConfig configures a Previewer.
type PreviewerConfig struct {
	Geometry       frame.Geometry
	Format         frame.PixelFormat
	FrameRate      float64
	Padded         bool
	FFplayPath     string
	WindowTitle    string
	LogLevel       string
	PipeBufferSize int
	StderrLogPath  string
}

func (c PreviewerConfig) params() encode.PreviewParams {
	return encode.PreviewParams{
		FFplayPath:    c.FFplayPath,
		Geometry:      c.Geometry,
		Format:        c.Format,
		FrameRate:     c.FrameRate,
		WindowTitle:   c.WindowTitle,
		LogLevel:      c.LogLevel,
		StderrLogPath: c.StderrLogPath,
	}
}

// Previewer displays frames in an ffplay window. Each frame is flushed to the
// pipe immediately.
type Previewer struct {
	pipeWriter
	cfg PreviewerConfig
}

// NewPreviewer validates cfg and returns a closed previewer.
func NewPreviewer(cfg PreviewerConfig, opts ...Option) (*Previewer, error) {
	if _, err := encode.BuildPreviewCommand(cfg.params()); err != nil {
		return nil, fmt.Errorf("invalid previewer configuration: %w", err)
	}

	p := &Previewer{cfg: cfg}
	if err := p.init("previewer", cfg.Geometry, cfg.Format, cfg.Padded, cfg.PipeBufferSize, opts); err != nil {
		return nil, err
	}
	p.flushEach = true
	p.build = func() (*ffmpeg.Command, error) {
		return encode.BuildPreviewCommand(p.cfg.params())
	}
	return p, nil
}

// NewPreviewSink wraps p in an asynchronous sink that displays only the
// newest frame of each backlog.
func NewPreviewSink(name string, p *Previewer, opts ...sink.Option) *sink.AsyncSink {
	opts = append(opts, sink.WithPolicy(sink.LatestOnly))
	return sink.NewAsync(name, p, opts...)
}
