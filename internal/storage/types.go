package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Config configures the tracking store.
//
// Driver values:
//   - "file" (or empty): JSON file backend
//   - "sqlite": SQLite database file
type Config struct {
	Driver string
	Path   string
	// BusyTimeout applies to sqlite only; 0 means default.
	BusyTimeout time.Duration
}

// Delivery records one successfully sent notification so it can be edited
// in place when the role is later deactivated.
type Delivery struct {
	ChannelID int64
	MessageID int
	SentAt    time.Time
}

// deliveryJSON is the wire form. The timestamp is ISO-8601 at second
// precision so the file round-trips losslessly across restarts.
type deliveryJSON struct {
	ChannelID int64  `json:"channel_id"`
	MessageID int    `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

func (d Delivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(deliveryJSON{
		ChannelID: d.ChannelID,
		MessageID: d.MessageID,
		Timestamp: d.SentAt.UTC().Format(time.RFC3339),
	})
}

func (d *Delivery) UnmarshalJSON(b []byte) error {
	var w deliveryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return err
	}
	*d = Delivery{ChannelID: w.ChannelID, MessageID: w.MessageID, SentAt: ts}
	return nil
}

// Tracker is the message tracking store.
//
// Consume returns the deliveries recorded for key and removes them: a record
// key gets at most one update pass, even if the platform would accept
// further edits.
type Tracker interface {
	RecordDelivery(ctx context.Context, key string, d Delivery) error
	Consume(ctx context.Context, key string) ([]Delivery, error)
	Flush(ctx context.Context) error
	Close() error
}
