package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmylchreest/framecast/internal/frame"
)

// Dump records raw frames in the layout ReplaySource reads. It implements
// sink.Consumer. Numbering continues after the recordings already in the
// directory, so earlier sessions are never overwritten.
type Dump struct {
	dir string

	mu     sync.Mutex
	open   bool
	next   map[frame.Channel]int
	counts map[frame.Channel]int
}

// NewDump creates a dump consumer writing into dir.
func NewDump(dir string) (*Dump, error) {
	if dir == "" {
		return nil, fmt.Errorf("dump: empty directory")
	}
	return &Dump{dir: dir, counts: make(map[frame.Channel]int)}, nil
}

// Open creates the output directory. Numbering per channel resumes after
// the recordings already in it.
func (d *Dump) Open(_ context.Context) error {
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	d.mu.Lock()
	d.open = true
	d.next = make(map[frame.Channel]int)
	d.mu.Unlock()
	return nil
}

// nextIndex returns the first index of ch whose payload and metadata files
// are both absent.
func (d *Dump) nextIndex(ch frame.Channel) (int, error) {
	for n := 0; ; n++ {
		base := filepath.Join(d.dir, RecordingName(ch, n))
		free := true
		for _, ext := range []string{".bin", ".json"} {
			_, err := os.Stat(base + ext)
			if err == nil {
				free = false
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return 0, fmt.Errorf("checking %s: %w", base+ext, err)
			}
		}
		if free {
			return n, nil
		}
	}
}

// Consume writes the payload and metadata of f.
func (d *Dump) Consume(f frame.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("dump is not open")
	}

	ch := f.Metadata.Channel
	n, ok := d.next[ch]
	if !ok {
		var err error
		if n, err = d.nextIndex(ch); err != nil {
			return err
		}
	}
	base := filepath.Join(d.dir, RecordingName(ch, n))

	md := f.Metadata
	md.ByteSize = len(f.Data)
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(base+".bin", f.Data, 0o640); err != nil { //nolint:gosec // path is built from configuration
		return fmt.Errorf("writing payload: %w", err)
	}
	if err := os.WriteFile(base+".json", raw, 0o640); err != nil { //nolint:gosec // path is built from configuration
		return fmt.Errorf("writing metadata: %w", err)
	}
	d.next[ch] = n + 1
	d.counts[ch]++
	return nil
}

// Close marks the dump closed.
func (d *Dump) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// Count returns how many frames of a channel this dump has written.
func (d *Dump) Count(ch frame.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[ch]
}
