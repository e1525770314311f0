package encode

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/framecast/internal/ffmpeg"
	"github.com/jmylchreest/framecast/internal/frame"
)

// EncoderParams is everything needed to build an encoder command line.
type EncoderParams struct {
	FFmpegPath string
	Geometry   frame.Geometry
	Format     frame.PixelFormat
	FrameRate  float64
	Container  Container
	Options    Options
	OutputPath string
	LogLevel   string
	// ExtraArgs are appended after the codec arguments, before the output.
	ExtraArgs     []string
	StderrLogPath string
}

// BuildEncoderCommand builds the ffmpeg command that reads tightly packed
// raw frames from stdin and encodes them to OutputPath.
func BuildEncoderCommand(p EncoderParams) (*ffmpeg.Command, error) {
	if err := checkInput(p.Geometry, p.Format, p.FrameRate); err != nil {
		return nil, err
	}
	if p.OutputPath == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrInvalidOptions)
	}
	if p.Options == nil {
		return nil, fmt.Errorf("%w: no options", ErrUnsupportedOptions)
	}
	if err := p.Options.Validate(); err != nil {
		return nil, err
	}

	codecArgs, err := codecArgs(p.Options)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Options.(Ffv1Options); ok && p.Container == MP4 {
		return nil, fmt.Errorf("%w: ffv1 cannot be muxed into mp4", ErrInvalidOptions)
	}

	b := ffmpeg.NewCommandBuilder(binaryOr(p.FFmpegPath, "ffmpeg")).
		LogLevel(logLevelOr(p.LogLevel)).
		HideBanner().
		Overwrite().
		RawVideoInput("-pix_fmt", p.Format.String(), "-s:v", p.Geometry.Width, p.Geometry.Height, p.FrameRate).
		Input("pipe:0").
		NoAudio().
		OutputArgs(codecArgs...).
		PixelFormat(outputPixelFormat(p.Format, p.Options))

	if p.Container == MP4 {
		b.MovFlags("+faststart")
	}

	return b.OutputArgs(p.ExtraArgs...).
		StderrLogPath(p.StderrLogPath).
		Output(p.OutputPath).
		Build(), nil
}

// codecArgs returns the encoder specific arguments. Every Options type has
// exactly one case here.
func codecArgs(opts Options) ([]string, error) {
	switch o := opts.(type) {
	case X264Options:
		args := []string{"-c:v", o.Codec(), "-preset", string(o.Preset)}
		if o.Mode == X264QP {
			return append(args, "-qp", strconv.Itoa(o.QP)), nil
		}
		return append(args, "-crf", strconv.Itoa(o.CRF)), nil

	case NvencH264Options:
		args := []string{"-c:v", o.Codec(), "-preset", o.Preset.String(), "-rc", string(o.RateControl)}
		if o.RateControl == NvencConstQP {
			args = append(args, "-qp", strconv.Itoa(o.QP))
		} else {
			args = append(args, "-cq", strconv.Itoa(o.CQ))
		}
		if o.SpatialAQ {
			args = append(args, "-spatial-aq", "1")
		}
		if o.TemporalAQ {
			args = append(args, "-temporal-aq", "1")
		}
		return args, nil

	case Ffv1Options:
		return []string{"-c:v", o.Codec(), "-level", strconv.Itoa(o.Level), "-g", "1"}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOptions, opts)
	}
}

// outputPixelFormat keeps gray input gray where the codec supports it.
// NVENC has no gray input so it always gets yuv420p.
func outputPixelFormat(in frame.PixelFormat, opts Options) string {
	if in == frame.Gray8 {
		if _, ok := opts.(NvencH264Options); !ok {
			return "gray"
		}
	}
	return "yuv420p"
}

// PreviewParams is everything needed to build a previewer command line.
type PreviewParams struct {
	FFplayPath    string
	Geometry      frame.Geometry
	Format        frame.PixelFormat
	FrameRate     float64
	WindowTitle   string
	LogLevel      string
	StderrLogPath string
}

// BuildPreviewCommand builds the ffplay command that displays raw frames
// from stdin with as little buffering as ffplay allows.
func BuildPreviewCommand(p PreviewParams) (*ffmpeg.Command, error) {
	if err := checkInput(p.Geometry, p.Format, p.FrameRate); err != nil {
		return nil, err
	}

	b := ffmpeg.NewCommandBuilder(binaryOr(p.FFplayPath, "ffplay")).
		LogLevel(logLevelOr(p.LogLevel)).
		HideBanner().
		RawVideoInput("-pixel_format", p.Format.String(), "-video_size", p.Geometry.Width, p.Geometry.Height, p.FrameRate).
		InputArgs("-use_wallclock_as_timestamps", "1").
		Input("-").
		OutputArgs(
			"-sync", "ext",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
			"-framedrop",
			"-an",
			"-autoexit",
		)

	if p.WindowTitle != "" {
		b.OutputArgs("-window_title", p.WindowTitle)
	}
	return b.StderrLogPath(p.StderrLogPath).Build(), nil
}

func checkInput(g frame.Geometry, format frame.PixelFormat, frameRate float64) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if _, err := frame.TightSize(g, format); err != nil {
		return err
	}
	if frameRate <= 0 {
		return fmt.Errorf("%w: frame rate %v", ErrInvalidOptions, frameRate)
	}
	return nil
}

func binaryOr(path, name string) string {
	if path == "" {
		return name
	}
	return path
}

func logLevelOr(level string) string {
	if level == "" {
		return "error"
	}
	return level
}
