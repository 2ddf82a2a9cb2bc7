package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "greensched/pkg/logx"
)

// fileStore appends records to a JSON Lines file and answers queries from
// the newest records held in memory.
//
// When the file holds twice the retained count it is rewritten with just
// the retained tail.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu      sync.Mutex
	f       *os.File
	tail    []Record // oldest first, at most retain
	written int      // lines in the file
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, retain: cfg.Retain}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		s.written++
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.JobID == "" {
			continue
		}
		s.push(r)
	}
	return sc.Err()
}

func (s *fileStore) push(r Record) {
	s.tail = append(s.tail, r)
	if over := len(s.tail) - s.retain; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(_ context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("history file closed")
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.written++
	s.push(r)

	if s.written >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.String("path", s.path), logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := q.limit()
	out := make([]Record, 0, min(limit, len(s.tail)))
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		if q.JobID == "" || s.tail[i].JobID == q.JobID {
			out = append(out, s.tail[i])
		}
	}
	return out, nil
}

// compactLocked replaces the file with the in-memory tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range s.tail {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.written = len(s.tail)
	return nil
}
