// Package snapshot writes periodic still images of a frame stream.
package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/tiff"

	"github.com/jmylchreest/framecast/internal/frame"
)

// ErrNotOpen is returned by Consume before Open.
var ErrNotOpen = errors.New("snapshot writer is not open")

// Config configures a Writer.
type Config struct {
	Dir string
	// Interval writes the first frame and then every Interval-th frame.
	Interval int
	// Compress uses deflate compression.
	Compress bool
}

// Writer saves every Interval-th frame as a TIFF named
// "<channel>_<frame number>.tiff". It implements sink.Consumer.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	open    bool
	seen    uint64
	written uint64
}

// NewWriter creates a closed writer.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot writer: empty directory")
	}
	if cfg.Interval < 1 {
		return nil, fmt.Errorf("snapshot writer: interval must be at least 1, got %d", cfg.Interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger.With(slog.String("component", "snapshot"))}, nil
}

// Open creates the output directory.
func (w *Writer) Open(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	w.open = true
	w.seen = 0
	return nil
}

// Consume writes f if it falls on the interval.
func (w *Writer) Consume(f frame.Frame) error {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return ErrNotOpen
	}
	w.seen++
	due := (w.seen-1)%uint64(w.cfg.Interval) == 0 //nolint:gosec // interval is validated positive
	w.mu.Unlock()

	if !due {
		return nil
	}

	img, err := ToImage(f)
	if err != nil {
		return err
	}

	path := filepath.Join(w.cfg.Dir, FileName(f.Metadata))
	if err := w.write(path, img); err != nil {
		return err
	}

	w.mu.Lock()
	w.written++
	w.mu.Unlock()

	w.logger.Debug("snapshot written", slog.String("path", path))
	return nil
}

func (w *Writer) write(path string, img image.Image) error {
	file, err := os.Create(path) //nolint:gosec // path is built from configuration
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}

	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if w.cfg.Compress {
		opts.Compression = tiff.Deflate
	}

	bw := bufio.NewWriter(file)
	encErr := tiff.Encode(bw, img, opts)
	if encErr == nil {
		encErr = bw.Flush()
	}
	closeErr := file.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}

// Close marks the writer closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		w.logger.Info("snapshots finished", slog.Uint64("written", w.written), slog.String("dir", w.cfg.Dir))
	}
	w.open = false
	return nil
}

// Written returns how many snapshots have been saved.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// FileName returns the snapshot file name for md.
func FileName(md frame.Metadata) string {
	return fmt.Sprintf("%s_%d.tiff", md.Channel, md.FrameNumber)
}

// ToImage converts a frame to an image. NV12 becomes 4:2:0 YCbCr and Gray8
// becomes Gray. Padded payloads are normalized first.
func ToImage(f frame.Frame) (image.Image, error) {
	md := f.Metadata
	data, err := frame.Normalize(f.Data, md.Geometry, md.Format)
	if err != nil {
		return nil, fmt.Errorf("normalizing frame %d: %w", md.FrameNumber, err)
	}

	w, h := md.Geometry.Width, md.Geometry.Height
	rect := image.Rect(0, 0, w, h)

	switch md.Format {
	case frame.Gray8:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil

	case frame.NV12:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		copy(img.Y, data[:w*h])

		// Deinterleave CbCr pairs. Odd widths and heights reuse the last
		// available chroma sample.
		uv := data[w*h:]
		chromaRows := h / 2
		for cy := 0; cy < (h+1)/2; cy++ {
			srcRow := min(cy, chromaRows-1)
			if srcRow < 0 {
				break
			}
			for cx := 0; cx < (w+1)/2; cx++ {
				src := srcRow*w + max(0, min(2*cx, w-2))
				dst := cy*img.CStride + cx
				img.Cb[dst] = uv[src]
				img.Cr[dst] = uv[src+1]
			}
		}
		return img, nil

	default:
		return nil, fmt.Errorf("%w: %v", frame.ErrUnknownFormat, md.Format)
	}
}
