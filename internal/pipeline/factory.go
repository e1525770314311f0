// Package pipeline wires a frame source, the per-channel queues and one
// dispatcher per channel into a running recording session.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/jmylchreest/framecast/internal/buffer"
	"github.com/jmylchreest/framecast/internal/capture"
	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/internal/dispatch"
	"github.com/jmylchreest/framecast/internal/encode"
	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/metadata"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/sink"
	"github.com/jmylchreest/framecast/internal/snapshot"
	"github.com/jmylchreest/framecast/internal/video"
)

// Sink kinds, used in sink names and catalog records.
const (
	KindWriter   = "writer"
	KindPreview  = "preview"
	KindMetadata = "metadata"
	KindSnapshot = "snapshot"
	KindDump     = "dump"
)

// ErrInvalidConfiguration wraps every selector the factory cannot resolve.
var ErrInvalidConfiguration = errors.New("invalid pipeline configuration")

// Dependencies bundles what the factory wires into every component.
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	// SinkObserver receives sink events. Nil disables reporting.
	SinkObserver sink.Observer
	// RouterObserver receives queue events. Nil disables reporting.
	RouterObserver buffer.Observer
	// Launcher starts ffmpeg and ffplay. Nil uses os/exec.
	Launcher video.Launcher
}

// Output describes one sink the factory placed on a channel.
type Output struct {
	Channel    frame.Channel
	Kind       string
	EntryID    string
	Discipline string
	path       func() string
}

// Path returns the file or directory the sink writes, if any.
func (o Output) Path() string {
	if o.path == nil {
		return ""
	}
	return o.path()
}

// Plan is the set of dispatchers for one session.
type Plan struct {
	Stream      capture.StreamConfig
	Dispatchers map[frame.Channel]*dispatch.Dispatcher
	Outputs     []Output
}

// writerSpec holds the parsed writer selectors.
type writerSpec struct {
	discipline sink.Discipline
	options    encode.Options
	container  encode.Container
	extraArgs  []string
}

// Factory turns configuration into sources and dispatchers. All selectors
// are parsed once by NewFactory.
type Factory struct {
	deps     *Dependencies
	cfg      *config.Config
	logger   *slog.Logger
	channels []frame.Channel
	format   frame.PixelFormat
	writer   writerSpec
	preview  frame.Channel
	discs    map[string]sink.Discipline
}

// NewFactory validates every selector in deps.Config and returns a factory.
// All problems are reported together.
func NewFactory(deps *Dependencies) (*Factory, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("%w: no configuration", ErrInvalidConfiguration)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	cfg := deps.Config
	f := &Factory{
		deps:   deps,
		cfg:    cfg,
		logger: observability.WithComponent(deps.Logger, "pipeline"),
		discs:  make(map[string]sink.Discipline),
	}

	var errs []error
	invalid := func(field string, err error) {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfiguration, field, err))
	}

	for _, name := range cfg.Capture.Channels {
		ch, err := frame.ParseChannel(name)
		if err != nil {
			invalid("capture.channels", err)
			continue
		}
		if !slices.Contains(f.channels, ch) {
			f.channels = append(f.channels, ch)
		}
	}
	if len(f.channels) == 0 && len(errs) == 0 {
		invalid("capture.channels", errors.New("no channels"))
	}

	var err error
	if f.format, err = frame.ParsePixelFormat(cfg.Capture.Format); err != nil {
		invalid("capture.format", err)
	}

	disciplines := []struct {
		kind    string
		enabled bool
		value   string
	}{
		{KindWriter, cfg.Writer.Enabled, cfg.Writer.Discipline},
		{KindPreview, cfg.Previewer.Enabled, cfg.Previewer.Discipline},
		{KindMetadata, cfg.Metadata.Enabled, cfg.Metadata.Discipline},
		{KindSnapshot, cfg.Snapshot.Enabled, cfg.Snapshot.Discipline},
		{KindDump, cfg.Dump.Enabled, cfg.Dump.Discipline},
	}
	for _, d := range disciplines {
		if !d.enabled {
			continue
		}
		parsed, err := sink.ParseDiscipline(d.value)
		if err != nil {
			invalid(d.kind+".discipline", err)
			continue
		}
		f.discs[d.kind] = parsed
	}

	if cfg.Writer.Enabled {
		f.writer.discipline = f.discs[KindWriter]
		if err := f.parseWriter(); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Previewer.Enabled {
		if f.preview, err = frame.ParseChannel(cfg.Previewer.Channel); err != nil {
			invalid("previewer.channel", err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f, nil
}

func (f *Factory) parseWriter() error {
	var errs []error
	invalid := func(field string, err error) {
		errs = append(errs, fmt.Errorf("%w: writer.%s: %w", ErrInvalidConfiguration, field, err))
	}

	quality, err := encode.ParseQuality(f.cfg.Writer.Quality)
	if err != nil {
		invalid("quality", err)
	} else if f.writer.options, err = encode.OptionsFor(f.cfg.Writer.Codec, quality); err != nil {
		invalid("codec", err)
	}
	if f.writer.container, err = encode.ParseContainer(f.cfg.Writer.Container); err != nil {
		invalid("container", err)
	}

	extra, err := ffmpeg.ValidateExtraArgs(f.cfg.Writer.ExtraArgs)
	if err != nil {
		invalid("extra_args", err)
	}
	for _, key := range slices.Sorted(maps.Keys(f.cfg.Writer.Labels)) {
		extra = append(extra, "-metadata", key+"="+f.cfg.Writer.Labels[key])
	}
	f.writer.extraArgs = extra

	return errors.Join(errs...)
}

// Channels returns the configured channels in configuration order.
func (f *Factory) Channels() []frame.Channel {
	return slices.Clone(f.channels)
}

// StreamConfig describes the synthetic stream. An unpadded capture reports a
// row stride equal to the width.
func (f *Factory) StreamConfig() capture.StreamConfig {
	g := frame.Geometry{
		Width:     f.cfg.Capture.Width,
		Height:    f.cfg.Capture.Height,
		RowStride: f.cfg.Capture.RowStride,
	}
	if !f.cfg.Capture.Padded {
		g = g.Tight()
	}
	return capture.StreamConfig{
		Geometry:  g,
		Format:    f.format,
		FrameRate: f.cfg.Capture.FrameRate,
		Channels:  f.Channels(),
	}
}

// Source creates the configured frame source.
func (f *Factory) Source() (capture.Source, error) {
	logger := observability.WithComponent(f.deps.Logger, "capture")
	switch f.cfg.Capture.Source {
	case "synthetic", "":
		src, err := capture.NewSynthetic(f.StreamConfig(), logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "replay":
		src, err := capture.NewReplay(f.cfg.Capture.ReplayDir, f.cfg.Capture.FrameRate, f.Channels(), logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: capture.source: unknown source %q", ErrInvalidConfiguration, f.cfg.Capture.Source)
	}
}

// Build creates one dispatcher per stream channel. Output directories are
// created here so a missing directory fails before any subprocess starts.
func (f *Factory) Build(stream capture.StreamConfig) (*Plan, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		Stream:      stream,
		Dispatchers: make(map[frame.Channel]*dispatch.Dispatcher, len(stream.Channels)),
	}
	for _, ch := range stream.Channels {
		d, outputs, err := f.buildChannel(ch, stream)
		if err != nil {
			return nil, fmt.Errorf("building %s dispatcher: %w", ch, err)
		}
		plan.Dispatchers[ch] = d
		plan.Outputs = append(plan.Outputs, outputs...)
	}
	return plan, nil
}

func (f *Factory) sinkOptions(logger *slog.Logger) []sink.Option {
	opts := []sink.Option{sink.WithLogger(logger)}
	if f.deps.SinkObserver != nil {
		opts = append(opts, sink.WithObserver(f.deps.SinkObserver))
	}
	return opts
}

func (f *Factory) videoOptions(logger *slog.Logger) []video.Option {
	opts := []video.Option{video.WithLogger(logger)}
	if f.deps.Launcher != nil {
		opts = append(opts, video.WithLauncher(f.deps.Launcher))
	}
	return opts
}

func (f *Factory) stderrLog(ch frame.Channel, kind string) string {
	if f.cfg.FFmpeg.StderrLogDir == "" {
		return ""
	}
	return filepath.Join(f.cfg.FFmpeg.StderrLogDir, fmt.Sprintf("%s_%s_%s.log", f.cfg.Writer.BaseName, ch, kind))
}

func (f *Factory) buildChannel(ch frame.Channel, stream capture.StreamConfig) (*dispatch.Dispatcher, []Output, error) {
	logger := observability.WithChannel(f.deps.Logger, ch.String())
	d := dispatch.New(ch.String(), logger)
	var outputs []Output

	add := func(kind string, s sink.Sink, path func() string) error {
		id, err := d.Add(kind, s)
		if err != nil {
			return err
		}
		outputs = append(outputs, Output{
			Channel:    ch,
			Kind:       kind,
			EntryID:    id,
			Discipline: s.Stats().Discipline,
			path:       path,
		})
		return nil
	}
	name := func(kind string) string { return ch.String() + "/" + kind }

	if f.cfg.FFmpeg.StderrLogDir != "" {
		if err := os.MkdirAll(f.cfg.FFmpeg.StderrLogDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating stderr log directory: %w", err)
		}
	}

	if f.cfg.Writer.Enabled {
		if err := os.MkdirAll(f.cfg.Writer.OutputDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating output directory: %w", err)
		}
		path, err := metadata.ResolvePath(filepath.Join(f.cfg.Writer.OutputDir,
			fmt.Sprintf("%s_%s%s", f.cfg.Writer.BaseName, ch, f.writer.container.Extension())))
		if err != nil {
			return nil, nil, err
		}
		enc, err := video.NewEncoder(video.EncoderConfig{
			Geometry:       stream.Geometry,
			Format:         stream.Format,
			FrameRate:      stream.FrameRate,
			Padded:         stream.Geometry.Padded(),
			Container:      f.writer.container,
			Options:        f.writer.options,
			OutputPath:     path,
			FFmpegPath:     f.cfg.FFmpeg.BinaryPath,
			LogLevel:       f.cfg.Writer.LogLevel,
			ExtraArgs:      f.writer.extraArgs,
			PipeBufferSize: int(f.cfg.Writer.PipeBufferSize.Bytes()),
			StderrLogPath:  f.stderrLog(ch, KindWriter),
		}, f.videoOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		s, err := sink.New(f.writer.discipline, name(KindWriter), enc, f.sinkOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		if err := add(KindWriter, s, enc.OutputPath); err != nil {
			return nil, nil, err
		}
	}

	if f.cfg.Previewer.Enabled && ch == f.preview {
		p, err := video.NewPreviewer(video.PreviewerConfig{
			Geometry:      stream.Geometry,
			Format:        stream.Format,
			FrameRate:     stream.FrameRate,
			Padded:        stream.Geometry.Padded(),
			FFplayPath:    f.cfg.FFmpeg.FFplayPath,
			WindowTitle:   f.cfg.Previewer.WindowTitle,
			LogLevel:      f.cfg.Previewer.LogLevel,
			StderrLogPath: f.stderrLog(ch, KindPreview),
		}, f.videoOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		var s sink.Sink
		if f.discs[KindPreview] == sink.Async {
			s = video.NewPreviewSink(name(KindPreview), p, f.sinkOptions(logger)...)
		} else {
			s = sink.NewSync(name(KindPreview), p, f.sinkOptions(logger)...)
		}
		if err := add(KindPreview, s, nil); err != nil {
			return nil, nil, err
		}
	}

	if f.cfg.Metadata.Enabled {
		csvPath := filepath.Join(f.cfg.Writer.OutputDir, fmt.Sprintf("%s_%s.csv", f.cfg.Writer.BaseName, ch))
		w, err := metadata.NewWriter(metadata.Config{
			Path:     csvPath,
			Compress: f.cfg.Metadata.Compress,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := sink.New(f.discs[KindMetadata], name(KindMetadata), w, f.sinkOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		// The writer only knows its final name once opened.
		path := func() string {
			if p := w.Path(); p != "" {
				return p
			}
			return csvPath
		}
		if err := add(KindMetadata, s, path); err != nil {
			return nil, nil, err
		}
	}

	if f.cfg.Snapshot.Enabled {
		w, err := snapshot.NewWriter(snapshot.Config{
			Dir:      f.cfg.Snapshot.Dir,
			Interval: f.cfg.Snapshot.Interval,
			Compress: f.cfg.Snapshot.Compress,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := sink.New(f.discs[KindSnapshot], name(KindSnapshot), w, f.sinkOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		dir := f.cfg.Snapshot.Dir
		if err := add(KindSnapshot, s, func() string { return dir }); err != nil {
			return nil, nil, err
		}
	}

	if f.cfg.Dump.Enabled {
		dump, err := capture.NewDump(f.cfg.Dump.Dir)
		if err != nil {
			return nil, nil, err
		}
		s, err := sink.New(f.discs[KindDump], name(KindDump), dump, f.sinkOptions(logger)...)
		if err != nil {
			return nil, nil, err
		}
		dir := f.cfg.Dump.Dir
		if err := add(KindDump, s, func() string { return dir }); err != nil {
			return nil, nil, err
		}
	}

	if d.Len() == 0 {
		f.logger.Warn("channel has no sinks", slog.String("channel", ch.String()))
	}
	return d, outputs, nil
}
