package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/turncast/internal/engine"
)

// Recorder writes a live match to a .jsonl.zst file that Load can read back.
type Recorder struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
}

// NewRecorder creates <dir>/<name>-<utc timestamp>.jsonl.zst.
func NewRecorder(dir, name string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl.zst", name, time.Now().UTC().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Recorder{path: path, f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}, nil
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) RecordTurn(s engine.TurnSnapshot) error {
	d, err := engine.EncodeDelta(s)
	if err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return os.ErrClosed
	}
	if _, err := r.w.Write(b); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	r.n++
	return r.w.Flush()
}

// Turns is how many snapshots have been written.
func (r *Recorder) Turns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	err = multierr.Append(err, r.enc.Close())
	err = multierr.Append(err, r.f.Close())
	r.w, r.enc, r.f = nil, nil, nil
	return err
}
