// Package storage persists the two pieces of durable state:
//
//   - the last committed dataset snapshot (JSON file, rewritten wholesale
//     after each successful cycle)
//   - the message tracking map (record key -> deliveries), so deactivation
//     edits survive process restarts
//
// The tracking store supports two drivers: "file" (JSON, default) and
// "sqlite".
package storage
