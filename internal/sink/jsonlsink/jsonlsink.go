// Package jsonlsink writes rows as newline-delimited JSON, to a file or to
// stdout for dry runs.
package jsonlsink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"onrampquotes/internal/record"
)

// ErrNotReadable is returned by ReadRows when writing to stdout.
var ErrNotReadable = errors.New("jsonl sink has no file to read")

type Sink struct {
	path string

	mu  sync.Mutex
	w   io.Writer
	f   *os.File
	enc *json.Encoder
}

// New appends to path, or writes to stdout when path is "" or "-".
func New(path string) (*Sink, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := NewWriter(f)
	s.path, s.f = path, f
	return s, nil
}

// NewWriter writes rows to w. The resulting Sink cannot be read back.
func NewWriter(w io.Writer) *Sink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Sink{w: w, enc: enc}
}

func (s *Sink) Ensure(context.Context) error { return nil }

func (s *Sink) Write(_ context.Context, rows []record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	return nil
}

func (s *Sink) ReadRows(ctx context.Context, since time.Time) ([]record.Row, error) {
	if s.path == "" {
		return nil, ErrNotReadable
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()
	return Decode(ctx, f, since)
}

// Decode reads JSONL rows from r, skipping blank lines.
func Decode(ctx context.Context, r io.Reader, since time.Time) ([]record.Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	var out []record.Row
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var row record.Row
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !since.IsZero() && row.Timestamp.Before(since) {
			continue
		}
		out = append(out, row)
	}
	return out, sc.Err()
}

func (s *Sink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
