package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "signbot/pkg/logx"
)

// fileStore keeps the whole keyspace in memory and persists it as
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only put/delete records since the snapshot)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	data         map[string][]byte
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op    string `json:"op"` // "put" | "del"
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		data:         map[string][]byte{},
		compactEvery: 200,
	}
	if err := loadSnapshot(s.snapshotPath, s.data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	skipped, err := replayJournal(journalPath, s.data)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("journal records skipped", logx.Int("count", skipped), logx.String("path", journalPath))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf

	// Fold the replayed journal into a fresh snapshot so restarts stay cheap.
	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *fileStore) Put(_ context.Context, key string, value []byte) error {
	return s.apply(journalRecord{Op: "put", Key: key, Value: append([]byte(nil), value...)})
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	_, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.apply(journalRecord{Op: "del", Key: key})
}

func (s *fileStore) apply(r journalRecord) error {
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("storage: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("storage: journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	applyRecord(s.data, r)

	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("snapshot compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func applyRecord(m map[string][]byte, r journalRecord) {
	switch r.Op {
	case "put":
		m[r.Key] = r.Value
	case "del":
		delete(m, r.Key)
	}
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal returns the number of unreadable records it skipped.
// A torn last line after a crash is the usual cause.
func replayJournal(path string, out map[string][]byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			skipped++
			continue
		}
		applyRecord(out, r)
	}
	return skipped, sc.Err()
}
