package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rolewatch/internal/listing"
	logx "rolewatch/pkg/logx"
)

// SnapshotStore holds the last committed dataset generation. The file is
// rewritten wholesale on Commit; there is no per-record patching.
type SnapshotStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	last []listing.Role
}

func NewSnapshotStore(path string, log logx.Logger) (*SnapshotStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &SnapshotStore{log: log, path: path}
	s.load()
	return s, nil
}

// load reads the persisted snapshot. Missing or corrupt data degrades to an
// empty baseline: the next cycle then treats every visible active role as new,
// which matches first-run behavior.
func (s *SnapshotStore) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("snapshot unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var roles []listing.Role
	if err := json.Unmarshal(b, &roles); err != nil {
		s.log.Warn("snapshot corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.last = roles
	s.log.Info("snapshot loaded", logx.Int("roles", len(roles)))
}

// Last returns the committed baseline for diffing. Callers must not mutate
// the returned slice.
func (s *SnapshotStore) Last() []listing.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Commit makes cur the new baseline and persists it atomically. The
// in-memory baseline advances even if the write fails (a persistence error
// is non-fatal; it only risks re-notification after a restart).
func (s *SnapshotStore) Commit(cur []listing.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = cur

	b, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
