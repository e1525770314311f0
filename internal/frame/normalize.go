package frame

import "fmt"

// planeRows returns the luma and chroma row counts of a format.
func planeRows(g Geometry, format PixelFormat) (luma, chroma int, err error) {
	switch format {
	case NV12:
		// A chroma row interleaves CbCr pairs, so it needs two columns.
		if g.Width < 2 {
			return 0, 0, fmt.Errorf("%w: nv12 width %d is less than 2", ErrInvalidGeometry, g.Width)
		}
		return g.Height, g.Height / 2, nil
	case Gray8:
		return g.Height, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
	}
}

// TightSize returns the byte size of a frame with no row padding.
// For NV12 this is width*height + width*height/2.
func TightSize(g Geometry, format PixelFormat) (int, error) {
	luma, chroma, err := planeRows(g, format)
	if err != nil {
		return 0, err
	}
	return g.Width * (luma + chroma), nil
}

// PaddedSize returns the smallest source buffer that holds every row of a
// padded frame. The final row is not required to carry its padding.
func PaddedSize(g Geometry, format PixelFormat) (int, error) {
	luma, chroma, err := planeRows(g, format)
	if err != nil {
		return 0, err
	}
	rows := luma + chroma
	if rows == 0 {
		return 0, nil
	}
	return (rows-1)*g.RowStride + g.Width, nil
}

// NormalizeInto strips row padding from src into dst, which must be exactly
// TightSize bytes. The chroma plane starts at rowStride*height and uses the
// same stride as the luma plane.
func NormalizeInto(dst, src []byte, g Geometry, format PixelFormat) error {
	if err := g.Validate(); err != nil {
		return err
	}
	luma, chroma, err := planeRows(g, format)
	if err != nil {
		return err
	}
	tight := g.Width * (luma + chroma)
	if len(dst) != tight {
		return fmt.Errorf("%w: destination is %d bytes, want %d", ErrShortBuffer, len(dst), tight)
	}
	need, _ := PaddedSize(g, format)
	if len(src) < need {
		return fmt.Errorf("%w: source is %d bytes, need %d", ErrShortBuffer, len(src), need)
	}

	if !g.Padded() {
		copy(dst, src[:tight])
		return nil
	}

	w, stride := g.Width, g.RowStride
	for row := 0; row < luma; row++ {
		copy(dst[row*w:(row+1)*w], src[row*stride:row*stride+w])
	}

	uvSrc := stride * g.Height
	uvDst := w * g.Height
	for row := 0; row < chroma; row++ {
		s := uvSrc + row*stride
		d := uvDst + row*w
		copy(dst[d:d+w], src[s:s+w])
	}
	return nil
}

// Normalize returns a tightly packed copy of src. When the geometry has no
// padding the leading TightSize bytes of src are returned without copying.
func Normalize(src []byte, g Geometry, format PixelFormat) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	tight, err := TightSize(g, format)
	if err != nil {
		return nil, err
	}
	if !g.Padded() {
		if len(src) < tight {
			return nil, fmt.Errorf("%w: source is %d bytes, need %d", ErrShortBuffer, len(src), tight)
		}
		return src[:tight], nil
	}
	dst := make([]byte, tight)
	if err := NormalizeInto(dst, src, g, format); err != nil {
		return nil, err
	}
	return dst, nil
}

// Normalized returns a copy of f whose payload is tightly packed and whose
// geometry reports no padding.
func Normalized(f Frame) (Frame, error) {
	data, err := Normalize(f.Data, f.Metadata.Geometry, f.Metadata.Format)
	if err != nil {
		return Frame{}, err
	}
	f.Data = data
	f.Metadata.Geometry = f.Metadata.Geometry.Tight()
	f.Metadata.ByteSize = len(data)
	return f, nil
}
