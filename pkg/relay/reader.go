// Package relay reassembles answers streamed by the docrag backend.
package relay

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Event kinds tagged on the backend's SSE frames.
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamPath is the JSON-patch path every streamed fragment is appended to.
const StreamPath = "/streamed_output/-"

const doneMarker = "[DONE]"

const maxLineSize = 1 << 20

type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type Patch struct {
	Ops []Op `json:"ops"`
}

// Stats counts what the reader ignored.
type Stats struct {
	Skipped   int    // malformed or irrelevant lines
	Errors    int    // frames tagged event: error
	LastError string // payload of the most recent error frame
}

type Option func(*Reader)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reader turns an SSE body into successively longer snapshots of the
// streamed answer. Use it like bufio.Scanner:
//
//	for r.Next() {
//		render(r.Snapshot())
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	logger  *zap.Logger

	event    string
	snapshot string
	pending  []string
	done     bool
	err      error
	stats    Stats
}

func NewReader(r io.Reader, opts ...Option) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	reader := &Reader{
		scanner: scanner,
		logger:  zap.NewNop(),
	}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Next advances to the next snapshot. It returns false once the stream
// signals completion, ends, or fails.
func (r *Reader) Next() bool {
	for {
		if len(r.pending) > 0 {
			r.snapshot = r.pending[0]
			r.pending = r.pending[1:]
			return true
		}
		if r.done {
			return false
		}
		if !r.scanner.Scan() {
			r.done = true
			r.err = r.scanner.Err()
			return false
		}
		r.handleLine(strings.TrimRight(r.scanner.Text(), "\r"))
	}
}

// Snapshot returns the answer accumulated so far.
func (r *Reader) Snapshot() string {
	return r.snapshot
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Stats() Stats {
	return r.stats
}

// Close releases the underlying body when it is closable.
func (r *Reader) Close() error {
	r.done = true
	r.pending = nil
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) handleLine(line string) {
	switch {
	case line == "":
		r.event = ""
	case strings.HasPrefix(line, "event:"):
		r.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		r.handleData(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	case strings.HasPrefix(line, ":"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		// comments and SSE fields we have no use for
	default:
		r.skip("line without data prefix", line)
	}
}

func (r *Reader) handleData(payload string) {
	if payload == doneMarker {
		r.done = true
		return
	}

	if r.event == EventError {
		var msg string
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			msg = payload
		}
		r.stats.Errors++
		r.stats.LastError = msg
		r.logger.Warn("Backend reported a stream error", zap.String("error", msg))
		return
	}

	var patch Patch
	if err := json.Unmarshal([]byte(payload), &patch); err != nil {
		r.skip("invalid json", payload)
		return
	}

	before := len(r.pending)
	next := r.snapshot
	if before > 0 {
		next = r.pending[before-1]
	}
	for _, op := range patch.Ops {
		if op.Op != "add" || op.Path != StreamPath {
			continue
		}
		fragment, ok := op.Value.(string)
		if !ok {
			continue
		}
		next += fragment
		r.pending = append(r.pending, next)
	}

	if len(r.pending) == before {
		r.skip("no streamed output", payload)
	}
}

func (r *Reader) skip(reason, line string) {
	r.stats.Skipped++
	r.logger.Debug("Skipping stream line", zap.String("reason", reason), zap.String("line", line))
}
