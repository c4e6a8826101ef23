package persist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Spool is an append-only file of save jobs that could not be written to
// the database. Jobs are msgpack values back to back.
type Spool struct {
	mu   sync.Mutex
	path string
}

func NewSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	return &Spool{path: path}, nil
}

func (s *Spool) Path() string { return s.path }

// Append writes jobs to the end of the spool.
func (s *Spool) Append(jobs ...SaveJob) error {
	if len(jobs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := msgpack.NewEncoder(w)
	for _, j := range jobs {
		if err := enc.Encode(j); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode spool job: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write spool: %w", err)
	}
	return f.Close()
}

// Drain reads every spooled job and empties the spool. A truncated tail
// (crash mid-append) ends the read without an error.
func (s *Spool) Drain() ([]SaveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	var jobs []SaveJob
	dec := msgpack.NewDecoder(bufio.NewReader(f))
	for {
		var j SaveJob
		if err := dec.Decode(&j); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				_ = f.Close()
				return nil, fmt.Errorf("decode spool: %w", err)
			}
			break
		}
		jobs = append(jobs, j)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close spool: %w", err)
	}
	if err := os.Remove(s.path); err != nil {
		return nil, fmt.Errorf("clear spool: %w", err)
	}
	return jobs, nil
}
