// Package frame defines the captured frame data model shared by every stage
// of the distribution pipeline.
package frame

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for frame validation.
var (
	ErrInvalidGeometry = errors.New("invalid frame geometry")
	ErrShortBuffer     = errors.New("frame buffer too short")
	ErrUnknownFormat   = errors.New("unknown pixel format")
	ErrUnknownChannel  = errors.New("unknown channel")
)

// Channel identifies a logical sub-stream of one capture session.
type Channel int

// Known channels.
const (
	Left Channel = iota
	Right
)

// String returns the lowercase channel name.
func (c Channel) String() string {
	switch c {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel parses a channel name.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// PixelFormat is the layout of a frame payload.
type PixelFormat int

const (
	// NV12 is 4:2:0 with a full-resolution luma plane followed by an
	// interleaved half-height chroma plane sharing the luma row stride.
	NV12 PixelFormat = iota
	// Gray8 is a single 8-bit luma plane.
	Gray8
)

// String returns the ffmpeg pix_fmt name of the format.
func (p PixelFormat) String() string {
	switch p {
	case NV12:
		return "nv12"
	case Gray8:
		return "gray"
	default:
		return fmt.Sprintf("pixfmt(%d)", int(p))
	}
}

// ParsePixelFormat parses a pix_fmt style name.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv12":
		return NV12, nil
	case "gray", "gray8", "y8":
		return Gray8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Geometry describes the dimensions of a buffer in pixels and bytes.
type Geometry struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	RowStride int `json:"row_stride"`
}

// Validate checks that the geometry describes a usable buffer.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	if g.RowStride < g.Width {
		return fmt.Errorf("%w: row stride %d is less than width %d", ErrInvalidGeometry, g.RowStride, g.Width)
	}
	return nil
}

// Padded reports whether rows carry trailing alignment bytes.
func (g Geometry) Padded() bool {
	return g.RowStride > g.Width
}

// Tight returns the same geometry without row padding.
func (g Geometry) Tight() Geometry {
	g.RowStride = g.Width
	return g
}

// String formats the geometry as WxH with the stride when padded.
func (g Geometry) String() string {
	if g.Padded() {
		return fmt.Sprintf("%dx%d/%d", g.Width, g.Height, g.RowStride)
	}
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Intrinsics holds the camera projection parameters delivered with a frame.
// The pipeline carries them through unchanged.
type Intrinsics struct {
	Model           string     `json:"model"`
	PrincipalPointX float64    `json:"principal_point_x"`
	PrincipalPointY float64    `json:"principal_point_y"`
	FocalLengthX    float64    `json:"focal_length_x"`
	FocalLengthY    float64    `json:"focal_length_y"`
	Distortion      [8]float64 `json:"distortion"`
}

// Extrinsics is a row-major 4x4 camera pose matrix.
type Extrinsics [16]float64

// Metadata describes one captured frame.
type Metadata struct {
	Channel     Channel     `json:"channel"`
	FrameNumber uint64      `json:"frame_number"`
	Timestamp   int64       `json:"timestamp"` // capture time in nanoseconds
	Geometry    Geometry    `json:"geometry"`
	Format      PixelFormat `json:"format"`
	ByteSize    int         `json:"byte_size"`
	Intrinsics  *Intrinsics `json:"intrinsics,omitempty"`
	Extrinsics  *Extrinsics `json:"extrinsics,omitempty"`
}

// CaptureTime returns the timestamp as a time.Time.
func (m Metadata) CaptureTime() time.Time {
	return time.Unix(0, m.Timestamp)
}

// Frame is one metadata record plus its pixel payload. The payload is laid
// out according to Metadata and must not be modified once submitted.
type Frame struct {
	Metadata Metadata
	Data     []byte
}

// Validate checks the payload is large enough for the declared geometry.
func (f Frame) Validate() error {
	if err := f.Metadata.Geometry.Validate(); err != nil {
		return err
	}
	need, err := PaddedSize(f.Metadata.Geometry, f.Metadata.Format)
	if err != nil {
		return err
	}
	if len(f.Data) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(f.Data), need)
	}
	return nil
}
