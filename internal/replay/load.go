// Package replay reads finished matches from disk and records live ones.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/pkg/types"
)

var ErrUnknownFormat = errors.New("unknown replay format")

type Format int

const (
	// FormatJSON is a JSON array of deltas or a game log object with a "deltas" field.
	FormatJSON Format = iota
	// FormatJSONL has one delta per line.
	FormatJSONL
	// FormatJSONLZstd is FormatJSONL compressed with zstd.
	FormatJSONLZstd
)

// FormatOf picks the format from a file name.
func FormatOf(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".jsonl.zst"):
		return FormatJSONLZstd, nil
	case strings.HasSuffix(name, ".jsonl"):
		return FormatJSONL, nil
	case strings.HasSuffix(name, ".json"):
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// Load reads every snapshot in the file at path, in file order.
func Load(path string) ([]engine.TurnSnapshot, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snaps, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return snaps, nil
}

func Read(r io.Reader, format Format) ([]engine.TurnSnapshot, error) {
	switch format {
	case FormatJSON:
		return readJSON(r)
	case FormatJSONL:
		return readLines(r)
	case FormatJSONLZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return readLines(dec)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
}

func readJSON(r io.Reader) ([]engine.TurnSnapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)

	var deltas []types.DeltaData
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &deltas); err != nil {
			return nil, fmt.Errorf("unmarshal deltas: %w", err)
		}
	} else {
		var log types.GameLog
		if err := json.Unmarshal(raw, &log); err != nil {
			return nil, fmt.Errorf("unmarshal game log: %w", err)
		}
		deltas = log.Deltas
	}

	snaps := make([]engine.TurnSnapshot, 0, len(deltas))
	for i, d := range deltas {
		snap, err := engine.DecodeDelta(d)
		if err != nil {
			return nil, fmt.Errorf("delta %d: %w", i, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func readLines(r io.Reader) ([]engine.TurnSnapshot, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var snaps []engine.TurnSnapshot
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var d types.DeltaData
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("line %d: unmarshal: %w", line, err)
		}
		snap, err := engine.DecodeDelta(d)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		snaps = append(snaps, snap)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Appender is the write side of engine.Store.
type Appender interface {
	Append(engine.TurnSnapshot) error
}

// Feed appends snaps in order and stops at the first one the store rejects.
func Feed(store Appender, snaps []engine.TurnSnapshot) error {
	for _, s := range snaps {
		if err := store.Append(s); err != nil {
			return err
		}
	}
	return nil
}
