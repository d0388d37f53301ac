package storage

import (
	"errors"
	"strings"

	logx "rolewatch/pkg/logx"
)

// Open initializes the configured tracking store.
func Open(cfg Config, log logx.Logger) (Tracker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
