package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rolewatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deliveries (
	record_key TEXT    NOT NULL,
	channel_id INTEGER NOT NULL,
	message_id INTEGER NOT NULL,
	sent_at    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_record_key ON deliveries(record_key);
`

type sqliteTracker struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Tracker, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteTracker{db: db, log: log}, nil
}

func (t *sqliteTracker) RecordDelivery(ctx context.Context, key string, d Delivery) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO deliveries(record_key, channel_id, message_id, sent_at) VALUES(?,?,?,?)`,
		key, d.ChannelID, d.MessageID, d.SentAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (t *sqliteTracker) Consume(ctx context.Context, key string) ([]Delivery, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT channel_id, message_id, sent_at FROM deliveries WHERE record_key = ? ORDER BY rowid`, key)
	if err != nil {
		return nil, err
	}
	var out []Delivery
	for rows.Next() {
		var d Delivery
		var sentAt string
		if err := rows.Scan(&d.ChannelID, &d.MessageID, &sentAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, sentAt); err == nil {
			d.SentAt = ts
		}
		out = append(out, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE record_key = ?`, key); err != nil {
			return nil, err
		}
	}
	return out, tx.Commit()
}

// Flush is a no-op: sqlite writes are durable per statement.
func (t *sqliteTracker) Flush(ctx context.Context) error {
	_ = ctx
	return nil
}

func (t *sqliteTracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}
