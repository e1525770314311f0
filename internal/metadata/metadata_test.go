package metadata

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/framecast/internal/frame"
)

func testMetadata(n uint64) frame.Metadata {
	return frame.Metadata{
		Channel:     frame.Right,
		FrameNumber: n,
		Timestamp:   1_700_000_000_000_000_000 + int64(n),
		Geometry:    frame.Geometry{Width: 832, Height: 640, RowStride: 896},
		Format:      frame.NV12,
		ByteSize:    896 * 960,
	}
}

func TestColumns(t *testing.T) {
	assert.Len(t, Columns, 13+8+16)
	assert.Equal(t, "channel", Columns[0])
	assert.Equal(t, "extrinsics[15]", Columns[len(Columns)-1])
}

func TestRow(t *testing.T) {
	md := testMetadata(7)
	row := Row(md)
	require.Len(t, row, len(Columns))
	assert.Equal(t, []string{"right", "7", "1700000000000000007", "nv12", "860160", "896", "832", "640"}, row[:8])
	for _, v := range row[8:] {
		assert.Empty(t, v)
	}

	ex := frame.Extrinsics{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0.5, 0, 0, 1}
	md.Intrinsics = &frame.Intrinsics{
		Model:           "omnidir",
		PrincipalPointX: 0.5,
		PrincipalPointY: 0.25,
		FocalLengthX:    1.5,
		FocalLengthY:    1.25,
		Distortion:      [8]float64{0.1},
	}
	md.Extrinsics = &ex

	row = Row(md)
	require.Len(t, row, len(Columns))
	assert.Equal(t, "omnidir", row[8])
	assert.Equal(t, "0.5", row[9])
	assert.Equal(t, "0.1", row[13])
	assert.Equal(t, "0", row[14])
	assert.Equal(t, "0.5", row[len(row)-4])
	assert.Equal(t, "1", row[len(row)-1])
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "left_meta.csv")

	got, err := ResolvePath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	got, err = ResolvePath(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "left_meta_1.csv"), got)

	require.NoError(t, os.WriteFile(got, nil, 0o600))
	got, err = ResolvePath(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "left_meta_2.csv"), got)
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriter_WritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "meta.csv")
	w, err := NewWriter(Config{Path: path}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Consume(frame.Frame{Metadata: testMetadata(1)}), ErrNotOpen)

	require.NoError(t, w.Open(context.Background()))
	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, w.Consume(frame.Frame{Metadata: testMetadata(n)}))
	}
	assert.Equal(t, uint64(3), w.Rows())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records := readCSV(t, f)
	require.Len(t, records, 4)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, "3", records[3][1])
}

func TestWriter_ReopenDoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.csv")
	w, err := NewWriter(Config{Path: path}, nil)
	require.NoError(t, err)

	require.NoError(t, w.Open(context.Background()))
	require.NoError(t, w.Close())
	first := w.Path()

	require.NoError(t, w.Open(context.Background()))
	require.NoError(t, w.Close())

	assert.Equal(t, path, first)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "meta_1.csv"), w.Path())
}

func TestWriter_Compressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.csv")
	w, err := NewWriter(Config{Path: path, Compress: true}, nil)
	require.NoError(t, err)

	require.NoError(t, w.Open(context.Background()))
	require.NoError(t, w.Consume(frame.Frame{Metadata: testMetadata(42)}))
	require.NoError(t, w.Close())
	assert.Equal(t, path+".xz", w.Path())

	f, err := os.Open(path + ".xz")
	require.NoError(t, err)
	defer f.Close()

	xr, err := xz.NewReader(f)
	require.NoError(t, err)
	records := readCSV(t, xr)
	require.Len(t, records, 2)
	assert.Equal(t, "42", records[1][1])
}

func TestNewWriter_EmptyPath(t *testing.T) {
	_, err := NewWriter(Config{}, nil)
	assert.Error(t, err)
}
