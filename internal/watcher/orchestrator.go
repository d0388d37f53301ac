// Package watcher drives poll cycles: fetch the current dataset, diff it
// against the last committed snapshot, fan out notifications, and commit.
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rolewatch/internal/listing"
	"rolewatch/internal/render"
	"rolewatch/internal/source"
	"rolewatch/internal/storage"
	logx "rolewatch/pkg/logx"
)

// Dispatcher is the delivery surface the orchestrator drives.
type Dispatcher interface {
	Broadcast(ctx context.Context, text, recordKey string, channels []int64)
	EditTracked(ctx context.Context, recordKey, text string) int
}

type Orchestrator struct {
	src       source.Source
	snapshots *storage.SnapshotStore
	tracker   storage.Tracker
	disp      Dispatcher
	log       logx.Logger

	chanMu   sync.Mutex
	channels []int64

	// busy guards against overlapping cycles; a tick that arrives while a
	// cycle is running is dropped, never queued.
	busy atomic.Bool

	now func() time.Time
}

func NewOrchestrator(src source.Source, snapshots *storage.SnapshotStore, tracker storage.Tracker, disp Dispatcher, channels []int64, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		src:       src,
		snapshots: snapshots,
		tracker:   tracker,
		disp:      disp,
		channels:  append([]int64(nil), channels...),
		log:       log,
		now:       time.Now,
	}
}

// SetChannels swaps the broadcast channel set (config reload).
func (o *Orchestrator) SetChannels(channels []int64) {
	o.chanMu.Lock()
	o.channels = append([]int64(nil), channels...)
	o.chanMu.Unlock()
}

func (o *Orchestrator) channelSet() []int64 {
	o.chanMu.Lock()
	defer o.chanMu.Unlock()
	return append([]int64(nil), o.channels...)
}

// RunCycle executes one poll cycle. A dataset fetch failure aborts the cycle
// with nothing committed; delivery failures are isolated per channel inside
// the dispatcher and never abort the cycle or block the snapshot commit.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.busy.CompareAndSwap(false, true) {
		o.log.Warn("cycle already in progress; tick dropped")
		return nil
	}
	defer o.busy.Store(false)

	start := time.Now()

	cur, err := o.src.Fetch(ctx)
	if err != nil {
		o.log.Error("fetch dataset; cycle aborted", logx.Err(err))
		return err
	}

	prev := o.snapshots.Last()
	added, deactivated := listing.Diff(prev, cur)

	now := o.now()
	channels := o.channelSet()

	for _, r := range added {
		o.log.Info("new role", logx.String("company", r.CompanyName), logx.String("title", r.Title))
		o.disp.Broadcast(ctx, render.NewRole(r, now), r.Key(), channels)
	}

	for _, r := range deactivated {
		o.log.Info("role deactivated", logx.String("company", r.CompanyName), logx.String("title", r.Title))
		// Rewrite the original posts first, then broadcast a fresh closure
		// notice. The notice is terminal, so it is not tracked.
		o.disp.EditTracked(ctx, r.Key(), render.ClosedUpdate(r, now))
		o.disp.Broadcast(ctx, render.Deactivated(r, now), "", channels)
	}

	if len(added) == 0 && len(deactivated) == 0 {
		o.log.Debug("no updates found")
	}

	// Commit unconditionally: this generation is the next cycle's baseline
	// even when nothing changed.
	if err := o.snapshots.Commit(cur); err != nil {
		o.log.Warn("persist snapshot", logx.Err(err))
	}
	if err := o.tracker.Flush(ctx); err != nil {
		o.log.Warn("flush tracking store", logx.Err(err))
	}

	o.log.Info("cycle complete",
		logx.Int("roles", len(cur)),
		logx.Int("new", len(added)),
		logx.Int("deactivated", len(deactivated)),
		logx.Duration("took", time.Since(start)))
	return nil
}
