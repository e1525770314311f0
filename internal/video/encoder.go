package video

import (
	"fmt"

	"github.com/jmylchreest/framecast/internal/encode"
	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
)

// EncoderConfig configures an Encoder.
type EncoderConfig struct {
	Geometry  frame.Geometry
	Format    frame.PixelFormat
	FrameRate float64
	// Padded declares that payloads carry row padding and must be
	// normalized before writing.
	Padded     bool
	Container  encode.Container
	Options    encode.Options
	OutputPath string
	FFmpegPath string
	LogLevel   string
	ExtraArgs  []string
	// PipeBufferSize is the bufio size in front of the pipe. Zero means
	// one tight frame.
	PipeBufferSize int
	StderrLogPath  string
}

func (c EncoderConfig) params() encode.EncoderParams {
	return encode.EncoderParams{
		FFmpegPath:    c.FFmpegPath,
		Geometry:      c.Geometry,
		Format:        c.Format,
		FrameRate:     c.FrameRate,
		Container:     c.Container,
		Options:       c.Options,
		OutputPath:    c.OutputPath,
		LogLevel:      c.LogLevel,
		ExtraArgs:     c.ExtraArgs,
		StderrLogPath: c.StderrLogPath,
	}
}

// Encoder writes every frame it consumes to an ffmpeg process that encodes
// to a file. It implements sink.Consumer.
type Encoder struct {
	pipeWriter
	cfg EncoderConfig
}

// NewEncoder validates cfg and returns a closed encoder. Invalid geometry or
// options are reported here rather than on Open.
func NewEncoder(cfg EncoderConfig, opts ...Option) (*Encoder, error) {
	if _, err := encode.BuildEncoderCommand(cfg.params()); err != nil {
		return nil, fmt.Errorf("invalid encoder configuration: %w", err)
	}

	e := &Encoder{cfg: cfg}
	if err := e.init("encoder", cfg.Geometry, cfg.Format, cfg.Padded, cfg.PipeBufferSize, opts); err != nil {
		return nil, err
	}
	e.build = func() (*ffmpeg.Command, error) {
		return encode.BuildEncoderCommand(e.cfg.params())
	}
	return e, nil
}

// OutputPath returns the file the encoder writes.
func (e *Encoder) OutputPath() string {
	return e.cfg.OutputPath
}

// Options returns the codec options.
func (e *Encoder) Options() encode.Options {
	return e.cfg.Options
}
