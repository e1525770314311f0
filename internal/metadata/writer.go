package metadata

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/framecast/internal/frame"
)

// ErrNotOpen is returned by Consume before Open.
var ErrNotOpen = errors.New("metadata writer is not open")

// ResolvePath returns path if nothing exists there, otherwise the first free
// "<stem>_<n><ext>" in the same directory, counting from 1.
func ResolvePath(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return path, nil
	} else if err != nil {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := filepath.Join(dir, stem+"_"+strconv.Itoa(n)+ext)
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", candidate, err)
		}
	}
}

// Config configures a Writer.
type Config struct {
	Path string
	// Compress writes an xz stream. ".xz" is appended to Path if missing.
	Compress bool
}

// Writer logs one CSV row per consumed frame. It implements sink.Consumer.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
	xzw  *xz.Writer
	buf  *bufio.Writer
	csv  *csv.Writer
	path string
	rows uint64
}

// NewWriter creates a closed writer.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("metadata writer: empty path")
	}
	if cfg.Compress && !strings.HasSuffix(cfg.Path, ".xz") {
		cfg.Path += ".xz"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger.With(slog.String("component", "metadata"))}, nil
}

// Open resolves a free file name, creates it and writes the header.
func (w *Writer) Open(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return fmt.Errorf("metadata writer %s is already open", w.path)
	}

	if dir := filepath.Dir(w.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating metadata directory: %w", err)
		}
	}

	path, err := ResolvePath(w.cfg.Path)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("creating metadata file: %w", err)
	}

	var out io.Writer = file
	var xzw *xz.Writer
	if w.cfg.Compress {
		xzw, err = xz.NewWriter(file)
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("creating xz writer: %w", err)
		}
		out = xzw
	}

	buf := bufio.NewWriter(out)
	cw := csv.NewWriter(buf)
	if err := cw.Write(Columns); err != nil {
		_ = file.Close()
		return fmt.Errorf("writing metadata header: %w", err)
	}

	w.file = file
	w.xzw = xzw
	w.buf = buf
	w.csv = cw
	w.path = path
	w.rows = 0

	w.logger.Info("metadata log opened", slog.String("path", path), slog.Bool("compressed", w.cfg.Compress))
	return nil
}

// Consume appends one row for f.
func (w *Writer) Consume(f frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.csv == nil {
		return ErrNotOpen
	}
	if err := w.csv.Write(Row(f.Metadata)); err != nil {
		return fmt.Errorf("writing metadata row: %w", err)
	}
	w.rows++
	return nil
}

// Close flushes and closes the file. Closing a closed writer is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	w.csv.Flush()
	errs := []error{w.csv.Error(), w.buf.Flush()}
	if w.xzw != nil {
		errs = append(errs, w.xzw.Close())
	}
	errs = append(errs, w.file.Close())

	w.logger.Info("metadata log closed", slog.String("path", w.path), slog.Uint64("rows", w.rows))

	w.file, w.xzw, w.buf, w.csv = nil, nil, nil, nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing metadata log %s: %w", w.path, err)
	}
	return nil
}

// Path returns the file opened by the last Open.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Rows returns the number of rows written since the last Open.
func (w *Writer) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
