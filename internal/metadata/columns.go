// Package metadata logs per-frame metadata as CSV.
package metadata

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/framecast/internal/frame"
)

const (
	distortionCoefficients = 8
	extrinsicsValues       = 16
)

// Columns is the CSV header. Every row has exactly len(Columns) fields.
var Columns = buildColumns()

func buildColumns() []string {
	cols := []string{
		"channel",
		"frame_number",
		"timestamp_ns",
		"format",
		"byte_size",
		"row_stride",
		"width",
		"height",
		"intrinsics.model",
		"intrinsics.principal_point_x",
		"intrinsics.principal_point_y",
		"intrinsics.focal_length_x",
		"intrinsics.focal_length_y",
	}
	for i := range distortionCoefficients {
		cols = append(cols, fmt.Sprintf("intrinsics.distortion[%d]", i))
	}
	for i := range extrinsicsValues {
		cols = append(cols, fmt.Sprintf("extrinsics[%d]", i))
	}
	return cols
}

// Row formats md as one CSV record. Intrinsics and extrinsics columns are
// empty when absent.
func Row(md frame.Metadata) []string {
	row := make([]string, 0, len(Columns))
	row = append(row,
		md.Channel.String(),
		strconv.FormatUint(md.FrameNumber, 10),
		strconv.FormatInt(md.Timestamp, 10),
		md.Format.String(),
		strconv.Itoa(md.ByteSize),
		strconv.Itoa(md.Geometry.RowStride),
		strconv.Itoa(md.Geometry.Width),
		strconv.Itoa(md.Geometry.Height),
	)

	if in := md.Intrinsics; in != nil {
		row = append(row,
			in.Model,
			formatFloat(in.PrincipalPointX),
			formatFloat(in.PrincipalPointY),
			formatFloat(in.FocalLengthX),
			formatFloat(in.FocalLengthY),
		)
		for _, d := range in.Distortion {
			row = append(row, formatFloat(d))
		}
	} else {
		row = appendEmpty(row, 5+distortionCoefficients)
	}

	if ex := md.Extrinsics; ex != nil {
		for _, v := range ex {
			row = append(row, formatFloat(v))
		}
	} else {
		row = appendEmpty(row, extrinsicsValues)
	}
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func appendEmpty(row []string, n int) []string {
	for range n {
		row = append(row, "")
	}
	return row
}
