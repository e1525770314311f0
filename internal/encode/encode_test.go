package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/frame"
)

var vstGeometry = frame.Geometry{Width: 832, Height: 640, RowStride: 896}

// fakeOptions satisfies Options from inside the package without being one
// of the known variants.
type fakeOptions struct{}

func (fakeOptions) Codec() string   { return "fake" }
func (fakeOptions) Device() Device  { return CPU }
func (fakeOptions) Validate() error { return nil }
func (fakeOptions) isOptions()      {}

func TestQualityFactories(t *testing.T) {
	tests := []struct {
		quality Quality
		crf     int
		nvRC    NvencRateControl
		nvCQ    int
	}{
		{Lossless, 0, NvencConstQP, 0},
		{High, 18, NvencVBRHQ, 19},
		{Medium, 23, NvencVBRHQ, 23},
		{Low, 28, NvencVBRHQ, 28},
	}

	for _, tt := range tests {
		t.Run(tt.quality.String(), func(t *testing.T) {
			x := X264ForQuality(tt.quality)
			assert.Equal(t, X264Veryfast, x.Preset)
			assert.Equal(t, X264CRF, x.Mode)
			assert.Equal(t, tt.crf, x.CRF)
			require.NoError(t, x.Validate())

			n := NvencForQuality(tt.quality)
			assert.Equal(t, NvencP1, n.Preset)
			assert.Equal(t, tt.nvRC, n.RateControl)
			if tt.nvRC == NvencConstQP {
				assert.Equal(t, 0, n.QP)
			} else {
				assert.Equal(t, tt.nvCQ, n.CQ)
			}
			require.NoError(t, n.Validate())

			assert.Equal(t, Ffv1Options{Level: 3}, Ffv1ForQuality(tt.quality))
		})
	}
}

func TestOptionsFor(t *testing.T) {
	opts, err := OptionsFor("x264", High)
	require.NoError(t, err)
	assert.Equal(t, "libx264", opts.Codec())
	assert.Equal(t, CPU, opts.Device())

	opts, err = OptionsFor("NVENC", Low)
	require.NoError(t, err)
	assert.Equal(t, "h264_nvenc", opts.Codec())
	assert.Equal(t, GPU, opts.Device())

	opts, err = OptionsFor("ffv1", Lossless)
	require.NoError(t, err)
	assert.Equal(t, "ffv1", opts.Codec())

	_, err = OptionsFor("vp9", High)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestParseQualityAndContainer(t *testing.T) {
	q, err := ParseQuality("HIGH")
	require.NoError(t, err)
	assert.Equal(t, High, q)

	q, err = ParseQuality("")
	require.NoError(t, err)
	assert.Equal(t, Medium, q)

	_, err = ParseQuality("ultra")
	assert.ErrorIs(t, err, ErrUnknownQuality)

	c, err := ParseContainer(".mkv")
	require.NoError(t, err)
	assert.Equal(t, MKV, c)
	assert.Equal(t, ".mkv", c.Extension())
	assert.Equal(t, "matroska", c.Muxer())

	c, err = ParseContainer("mp4")
	require.NoError(t, err)
	assert.Equal(t, ".mp4", c.Extension())
	assert.Equal(t, "mp4", c.Muxer())

	_, err = ParseContainer("avi")
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestOptionsValidate(t *testing.T) {
	invalid := []Options{
		X264Options{Preset: "ludicrous", Mode: X264CRF},
		X264Options{Preset: X264Fast, Mode: X264CRF, CRF: 52},
		X264Options{Preset: X264Fast, Mode: X264QP, QP: -1},
		X264Options{Preset: X264Fast, Mode: "abr"},
		NvencH264Options{Preset: 0, RateControl: NvencVBRHQ},
		NvencH264Options{Preset: NvencP7 + 1, RateControl: NvencVBRHQ},
		NvencH264Options{Preset: NvencP4, RateControl: "cbr"},
		NvencH264Options{Preset: NvencP4, RateControl: NvencConstQP, QP: 60},
		Ffv1Options{Level: 2},
	}
	for _, o := range invalid {
		assert.ErrorIs(t, o.Validate(), ErrInvalidOptions, "%#v", o)
	}
}

func TestBuildEncoderCommand_X264(t *testing.T) {
	cmd, err := BuildEncoderCommand(EncoderParams{
		Geometry:   vstGeometry,
		Format:     frame.NV12,
		FrameRate:  90,
		Container:  MP4,
		Options:    X264ForQuality(High),
		OutputPath: "/data/left.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-y",
		"-f", "rawvideo", "-pix_fmt", "nv12", "-s:v", "832x640", "-framerate", "90",
		"-i", "pipe:0", "-an",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-pix_fmt", "yuv420p", "-movflags", "+faststart",
		"/data/left.mp4",
	}, cmd.Args)
}

func TestBuildEncoderCommand_NvencMKV(t *testing.T) {
	opts := NvencForQuality(Medium)
	opts.SpatialAQ = true
	opts.TemporalAQ = true

	cmd, err := BuildEncoderCommand(EncoderParams{
		FFmpegPath: "/opt/ffmpeg/bin/ffmpeg",
		Geometry:   vstGeometry,
		Format:     frame.NV12,
		FrameRate:  29.97,
		Container:  MKV,
		Options:    opts,
		OutputPath: "right.mkv",
		LogLevel:   "warning",
		ExtraArgs:  []string{"-g", "60"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "warning", "-hide_banner", "-y",
		"-f", "rawvideo", "-pix_fmt", "nv12", "-s:v", "832x640", "-framerate", "29.97",
		"-i", "pipe:0", "-an",
		"-c:v", "h264_nvenc", "-preset", "p1", "-rc", "vbr_hq", "-cq", "23",
		"-spatial-aq", "1", "-temporal-aq", "1",
		"-pix_fmt", "yuv420p",
		"-g", "60",
		"right.mkv",
	}, cmd.Args)
	assert.NotContains(t, cmd.Args, "-movflags")
}

func TestBuildEncoderCommand_NvencLossless(t *testing.T) {
	cmd, err := BuildEncoderCommand(EncoderParams{
		Geometry:   frame.Geometry{Width: 640, Height: 480, RowStride: 640},
		Format:     frame.NV12,
		FrameRate:  30,
		Container:  MP4,
		Options:    NvencForQuality(Lossless),
		OutputPath: "out.mp4",
	})
	require.NoError(t, err)
	assert.Contains(t, cmd.String(), "-rc constqp -qp 0")
}

func TestBuildEncoderCommand_Ffv1Gray(t *testing.T) {
	cmd, err := BuildEncoderCommand(EncoderParams{
		Geometry:   frame.Geometry{Width: 640, Height: 400, RowStride: 640},
		Format:     frame.Gray8,
		FrameRate:  200,
		Container:  MKV,
		Options:    Ffv1ForQuality(Lossless),
		OutputPath: "eye.mkv",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"ffmpeg -loglevel error -hide_banner -y -f rawvideo -pix_fmt gray -s:v 640x400 -framerate 200 -i pipe:0 -an -c:v ffv1 -level 3 -g 1 -pix_fmt gray eye.mkv",
		cmd.String())
}

func TestBuildEncoderCommand_X264QP(t *testing.T) {
	cmd, err := BuildEncoderCommand(EncoderParams{
		Geometry:   vstGeometry,
		Format:     frame.NV12,
		FrameRate:  30,
		Container:  MKV,
		Options:    X264Options{Preset: X264Slow, Mode: X264QP, QP: 10},
		OutputPath: "out.mkv",
	})
	require.NoError(t, err)
	assert.Contains(t, cmd.String(), "-preset slow -qp 10")
	assert.NotContains(t, cmd.String(), "-crf")
}

func TestBuildEncoderCommand_Deterministic(t *testing.T) {
	p := EncoderParams{
		Geometry:   vstGeometry,
		Format:     frame.NV12,
		FrameRate:  60,
		Container:  MP4,
		Options:    X264ForQuality(Low),
		OutputPath: "out.mp4",
	}
	a, err := BuildEncoderCommand(p)
	require.NoError(t, err)
	b, err := BuildEncoderCommand(p)
	require.NoError(t, err)
	assert.Equal(t, a.Args, b.Args)
}

func TestBuildEncoderCommand_Errors(t *testing.T) {
	base := EncoderParams{
		Geometry:   vstGeometry,
		Format:     frame.NV12,
		FrameRate:  30,
		Container:  MKV,
		Options:    X264ForQuality(High),
		OutputPath: "out.mkv",
	}

	tests := []struct {
		name   string
		mutate func(p *EncoderParams)
		want   error
	}{
		{"nil options", func(p *EncoderParams) { p.Options = nil }, ErrUnsupportedOptions},
		{"unknown variant", func(p *EncoderParams) { p.Options = fakeOptions{} }, ErrUnsupportedOptions},
		{"invalid options", func(p *EncoderParams) { p.Options = Ffv1Options{Level: 7} }, ErrInvalidOptions},
		{"ffv1 in mp4", func(p *EncoderParams) { p.Options = Ffv1ForQuality(High); p.Container = MP4 }, ErrInvalidOptions},
		{"no output", func(p *EncoderParams) { p.OutputPath = "" }, ErrInvalidOptions},
		{"zero rate", func(p *EncoderParams) { p.FrameRate = 0 }, ErrInvalidOptions},
		{"stride below width", func(p *EncoderParams) { p.Geometry.RowStride = 100 }, frame.ErrInvalidGeometry},
		{"unknown format", func(p *EncoderParams) { p.Format = frame.PixelFormat(42) }, frame.ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			cmd, err := BuildEncoderCommand(p)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, cmd)
		})
	}
}

func TestBuildPreviewCommand(t *testing.T) {
	cmd, err := BuildPreviewCommand(PreviewParams{
		Geometry:    vstGeometry,
		Format:      frame.NV12,
		FrameRate:   90,
		WindowTitle: "left eye",
	})
	require.NoError(t, err)

	assert.Equal(t, "ffplay", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner",
		"-f", "rawvideo", "-pixel_format", "nv12", "-video_size", "832x640", "-framerate", "90",
		"-use_wallclock_as_timestamps", "1",
		"-i", "-",
		"-sync", "ext", "-fflags", "nobuffer", "-flags", "low_delay", "-framedrop", "-an", "-autoexit",
		"-window_title", "left eye",
	}, cmd.Args)
	assert.Empty(t, cmd.Output)

	noTitle, err := BuildPreviewCommand(PreviewParams{Geometry: vstGeometry, Format: frame.NV12, FrameRate: 90})
	require.NoError(t, err)
	assert.NotContains(t, noTitle.Args, "-window_title")

	_, err = BuildPreviewCommand(PreviewParams{Geometry: vstGeometry, Format: frame.NV12})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
