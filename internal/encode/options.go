// Package encode describes how raw frames are compressed: the codec option
// variants, quality presets, output containers and the ffmpeg/ffplay command
// lines derived from them.
package encode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for option selection.
var (
	ErrUnknownCodec       = errors.New("unknown codec")
	ErrUnknownQuality     = errors.New("unknown quality")
	ErrUnknownContainer   = errors.New("unknown container")
	ErrInvalidOptions     = errors.New("invalid encode options")
	ErrUnsupportedOptions = errors.New("unsupported encode options")
)

// Device is where an encoder runs.
type Device string

const (
	CPU Device = "cpu"
	GPU Device = "gpu"
)

// Options is one codec configuration. The set of implementations is closed:
// X264Options, NvencH264Options and Ffv1Options.
type Options interface {
	// Codec returns the ffmpeg encoder name.
	Codec() string
	Device() Device
	Validate() error
	isOptions()
}

// X264Preset is a libx264 speed preset.
type X264Preset string

const (
	X264Ultrafast X264Preset = "ultrafast"
	X264Superfast X264Preset = "superfast"
	X264Veryfast  X264Preset = "veryfast"
	X264Faster    X264Preset = "faster"
	X264Fast      X264Preset = "fast"
	X264Medium    X264Preset = "medium"
	X264Slow      X264Preset = "slow"
	X264Slower    X264Preset = "slower"
	X264Veryslow  X264Preset = "veryslow"
)

var x264Presets = []X264Preset{
	X264Ultrafast, X264Superfast, X264Veryfast, X264Faster, X264Fast,
	X264Medium, X264Slow, X264Slower, X264Veryslow,
}

// X264Mode selects constant rate factor or constant quantizer.
type X264Mode string

const (
	X264CRF X264Mode = "crf"
	X264QP  X264Mode = "qp"
)

// X264Options configures libx264 software encoding.
type X264Options struct {
	Preset X264Preset
	Mode   X264Mode
	CRF    int
	QP     int
}

func (X264Options) Codec() string  { return "libx264" }
func (X264Options) Device() Device { return CPU }
func (X264Options) isOptions()     {}

// Validate checks preset, mode and the active quality value.
func (o X264Options) Validate() error {
	valid := false
	for _, p := range x264Presets {
		if o.Preset == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: x264 preset %q", ErrInvalidOptions, o.Preset)
	}

	switch o.Mode {
	case X264CRF:
		if o.CRF < 0 || o.CRF > 51 {
			return fmt.Errorf("%w: x264 crf %d out of range 0-51", ErrInvalidOptions, o.CRF)
		}
	case X264QP:
		if o.QP < 0 || o.QP > 69 {
			return fmt.Errorf("%w: x264 qp %d out of range 0-69", ErrInvalidOptions, o.QP)
		}
	default:
		return fmt.Errorf("%w: x264 mode %q", ErrInvalidOptions, o.Mode)
	}
	return nil
}

// NvencPreset is an NVENC preset, P1 (fastest) to P7 (slowest).
type NvencPreset int

const (
	NvencP1 NvencPreset = iota + 1
	NvencP2
	NvencP3
	NvencP4
	NvencP5
	NvencP6
	NvencP7
)

func (p NvencPreset) String() string {
	return fmt.Sprintf("p%d", int(p))
}

// NvencRateControl is the NVENC rate control mode.
type NvencRateControl string

const (
	NvencVBRHQ   NvencRateControl = "vbr_hq"
	NvencConstQP NvencRateControl = "constqp"
)

// NvencH264Options configures NVIDIA hardware H.264 encoding.
type NvencH264Options struct {
	Preset      NvencPreset
	RateControl NvencRateControl
	CQ          int
	QP          int
	SpatialAQ   bool
	TemporalAQ  bool
}

func (NvencH264Options) Codec() string  { return "h264_nvenc" }
func (NvencH264Options) Device() Device { return GPU }
func (NvencH264Options) isOptions()     {}

// Validate checks preset, rate control and the active quality value.
func (o NvencH264Options) Validate() error {
	if o.Preset < NvencP1 || o.Preset > NvencP7 {
		return fmt.Errorf("%w: nvenc preset %d", ErrInvalidOptions, int(o.Preset))
	}
	switch o.RateControl {
	case NvencVBRHQ:
		if o.CQ < 0 || o.CQ > 51 {
			return fmt.Errorf("%w: nvenc cq %d out of range 0-51", ErrInvalidOptions, o.CQ)
		}
	case NvencConstQP:
		if o.QP < 0 || o.QP > 51 {
			return fmt.Errorf("%w: nvenc qp %d out of range 0-51", ErrInvalidOptions, o.QP)
		}
	default:
		return fmt.Errorf("%w: nvenc rate control %q", ErrInvalidOptions, o.RateControl)
	}
	return nil
}

// Ffv1Options configures lossless FFV1 archival encoding.
type Ffv1Options struct {
	Level int
}

func (Ffv1Options) Codec() string  { return "ffv1" }
func (Ffv1Options) Device() Device { return CPU }
func (Ffv1Options) isOptions()     {}

// Validate checks the bitstream level.
func (o Ffv1Options) Validate() error {
	switch o.Level {
	case 0, 1, 3:
		return nil
	default:
		return fmt.Errorf("%w: ffv1 level %d (want 0, 1 or 3)", ErrInvalidOptions, o.Level)
	}
}

// Quality is a codec independent quality target.
type Quality int

const (
	Lossless Quality = iota
	High
	Medium
	Low
)

func (q Quality) String() string {
	switch q {
	case Lossless:
		return "lossless"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// ParseQuality parses a quality name.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lossless":
		return Lossless, nil
	case "high":
		return High, nil
	case "medium", "":
		return Medium, nil
	case "low":
		return Low, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownQuality, s)
	}
}

// X264ForQuality returns veryfast CRF settings for q.
func X264ForQuality(q Quality) X264Options {
	o := X264Options{Preset: X264Veryfast, Mode: X264CRF}
	switch q {
	case Lossless:
		o.CRF = 0
	case High:
		o.CRF = 18
	case Low:
		o.CRF = 28
	default:
		o.CRF = 23
	}
	return o
}

// NvencForQuality returns P1 settings for q. Lossless uses a zero constant
// quantizer, everything else VBR-HQ with a quality target.
func NvencForQuality(q Quality) NvencH264Options {
	o := NvencH264Options{Preset: NvencP1, RateControl: NvencVBRHQ}
	switch q {
	case Lossless:
		o.RateControl = NvencConstQP
		o.QP = 0
	case High:
		o.CQ = 19
	case Low:
		o.CQ = 28
	default:
		o.CQ = 23
	}
	return o
}

// Ffv1ForQuality returns level 3 settings. FFV1 is always lossless.
func Ffv1ForQuality(Quality) Ffv1Options {
	return Ffv1Options{Level: 3}
}

// OptionsFor maps a codec selector to options for q.
func OptionsFor(codec string, q Quality) (Options, error) {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "x264", "libx264", "h264":
		return X264ForQuality(q), nil
	case "nvenc", "h264_nvenc":
		return NvencForQuality(q), nil
	case "ffv1":
		return Ffv1ForQuality(q), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}
}

// Container is the output file format.
type Container int

const (
	MP4 Container = iota
	MKV
)

func (c Container) String() string {
	switch c {
	case MP4:
		return "mp4"
	case MKV:
		return "mkv"
	default:
		return fmt.Sprintf("container(%d)", int(c))
	}
}

// Extension returns the file extension including the dot.
func (c Container) Extension() string {
	return "." + c.String()
}

// Muxer returns the ffmpeg muxer name.
func (c Container) Muxer() string {
	if c == MKV {
		return "matroska"
	}
	return "mp4"
}

// ParseContainer parses a container name.
func ParseContainer(s string) (Container, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "mp4", "":
		return MP4, nil
	case "mkv", "matroska":
		return MKV, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownContainer, s)
	}
}
