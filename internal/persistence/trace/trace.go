// Package trace records lockstep runs as zstd-compressed JSON lines: one
// header, then one entry per operation with both snapshots.
package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/protocol"
)

const (
	OpHeader = "header"
	OpJoin   = "join"
	OpMove   = "move"
	OpTick   = "tick"
	OpCheck  = "check"
)

// Entry is one trace line. Which fields are set depends on Op.
type Entry struct {
	Seq int    `json:"seq"`
	Op  string `json:"op"`

	// header
	Check  string `json:"check,omitempty"`
	Seed   uint64 `json:"seed,omitempty"`
	Config string `json:"config,omitempty"`

	// join / move
	Token    string       `json:"token,omitempty"`
	PlayerID int          `json:"player_id,omitempty"`
	Name     string       `json:"name,omitempty"`
	MapID    string       `json:"map_id,omitempty"`
	Spawn    *model.Point `json:"spawn,omitempty"`
	Dir      *string      `json:"dir,omitempty"`

	// tick
	DeltaMs int64 `json:"delta_ms,omitempty"`

	// Snapshots by map id, taken after the operation.
	SUT map[string]protocol.StateMsg `json:"sut,omitempty"`
	Ref map[string]protocol.StateMsg `json:"ref,omitempty"`

	Divergence string `json:"divergence,omitempty"`
}

type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// Create opens a new trace file at path, creating parent directories.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}, nil
}

func (w *Writer) Record(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("trace: write after close")
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err1 error
	if w.w != nil {
		err1 = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		if err := w.enc.Close(); err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	return err1
}

// Read calls fn for every entry of the trace at path, in order.
func Read(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Decode(f, fn)
}

func Decode(r io.Reader, fn func(Entry) error) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("line %d: unmarshal: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Snapshots converts per-map states to their wire form.
func Snapshots(states map[string]model.SessionState) map[string]protocol.StateMsg {
	if len(states) == 0 {
		return nil
	}
	out := make(map[string]protocol.StateMsg, len(states))
	for k, s := range states {
		out[k] = protocol.StateFrom(s)
	}
	return out
}
