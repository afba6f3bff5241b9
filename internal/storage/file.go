package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cruise/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl        (append-only JSON Lines, every result)
//   - <prefix>.state.snapshot.json  (latest result per project)
//   - <prefix>.state.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyFile *os.File

	snapshotPath string
	journalFile  *os.File
	state        map[string]IntegrationResult

	writes int
}

func openFile(cfg Config, log logx.Logger) (StateManager, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	historyPath := prefix + ".history.jsonl"
	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"

	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	state := map[string]IntegrationResult{}
	if err := loadStateSnapshot(snapPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayStateJournal(journalPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	log.Debug("file state store opened", logx.String("prefix", prefix), logx.Int("projects", len(state)))
	return &fileStore{
		log:          log,
		historyFile:  hf,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        state,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.historyFile != nil {
		err1 = s.historyFile.Close()
		s.historyFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) HasPreviousState(ctx context.Context, project string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[project]
	return ok, nil
}

func (s *fileStore) LoadState(ctx context.Context, project string) (IntegrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state[project]
	if !ok {
		return IntegrationResult{}, ErrNoState
	}
	r.Parameters = maps.Clone(r.Parameters)
	return r, nil
}

func (s *fileStore) SaveState(ctx context.Context, r IntegrationResult) error {
	if strings.TrimSpace(r.Project) == "" {
		return errors.New("result has no project")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil || s.historyFile == nil {
		return ErrDisabled
	}
	if _, err := s.journalFile.Write(b); err != nil {
		return err
	}
	if _, err := s.historyFile.Write(b); err != nil {
		s.log.Warn("history append failed", logx.Project(r.Project), logx.Err(err))
	}
	r.Parameters = maps.Clone(r.Parameters)
	s.state[r.Project] = r

	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadStateSnapshot(path string, out map[string]IntegrationResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]IntegrationResult
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	maps.Copy(out, m)
	return nil
}

func replayStateJournal(path string, out map[string]IntegrationResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r IntegrationResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Project == "" {
			continue
		}
		out[r.Project] = r
	}
	return sc.Err()
}
