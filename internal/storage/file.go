package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "rolewatch/pkg/logx"
)

// fileTracker keeps the tracking map in memory and serializes it to a single
// JSON file on Flush. Writes go through a tmp file + rename so a crash never
// leaves a half-written store behind.
type fileTracker struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	entries map[string][]Delivery
}

func openFile(cfg Config, log logx.Logger) (Tracker, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	t := &fileTracker{log: log, path: path, entries: map[string][]Delivery{}}
	t.load()
	return t, nil
}

// load repopulates state from disk. A missing or corrupt store starts empty;
// losing tracking only means a deactivation can't edit old posts.
func (t *fileTracker) load() {
	b, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("tracking store unreadable; starting empty", logx.String("path", t.path), logx.Err(err))
		}
		return
	}
	var entries map[string][]Delivery
	if err := json.Unmarshal(b, &entries); err != nil {
		t.log.Warn("tracking store corrupt; starting empty", logx.String("path", t.path), logx.Err(err))
		return
	}
	t.entries = entries
	t.log.Info("tracking store loaded", logx.Int("records", len(entries)))
}

func (t *fileTracker) RecordDelivery(ctx context.Context, key string, d Delivery) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = map[string][]Delivery{}
	}
	t.entries[key] = append(t.entries[key], d)
	return nil
}

func (t *fileTracker) Consume(ctx context.Context, key string) ([]Delivery, error) {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	ds, ok := t.entries[key]
	if !ok {
		return nil, nil
	}
	delete(t.entries, key)
	return ds, nil
}

func (t *fileTracker) Flush(ctx context.Context) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

func (t *fileTracker) Close() error {
	return t.Flush(context.Background())
}
