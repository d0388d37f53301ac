package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rolewatch/internal/listing"
	"rolewatch/internal/storage"
	logx "rolewatch/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	roles []listing.Role
	err   error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]listing.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]listing.Role(nil), f.roles...), nil
}

func (f *fakeSource) set(roles []listing.Role, err error) {
	f.mu.Lock()
	f.roles, f.err = roles, err
	f.mu.Unlock()
}

// dispCall records one dispatcher invocation in arrival order.
type dispCall struct {
	Op       string // "broadcast" | "edit"
	Key      string
	Text     string
	Channels []int64
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispCall
}

func (f *fakeDispatcher) Broadcast(ctx context.Context, text, recordKey string, channels []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispCall{Op: "broadcast", Key: recordKey, Text: text, Channels: channels})
}

func (f *fakeDispatcher) EditTracked(ctx context.Context, recordKey, text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispCall{Op: "edit", Key: recordKey, Text: text})
	return 1
}

func (f *fakeDispatcher) snapshot() []dispCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispCall(nil), f.calls...)
}

func newTestOrchestrator(t *testing.T, src *fakeSource, disp *fakeDispatcher, channels []int64) (*Orchestrator, *storage.SnapshotStore) {
	t.Helper()
	dir := t.TempDir()
	snaps, err := storage.NewSnapshotStore(filepath.Join(dir, "previous_roles.json"), logx.Nop())
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	tracker, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "tracking.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	t.Cleanup(func() { _ = tracker.Close() })

	o := NewOrchestrator(src, snaps, tracker, disp, channels, logx.Nop())
	o.now = func() time.Time { return time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC) }
	return o, snaps
}

func activeRole(company, title string) listing.Role {
	return listing.Role{
		Title:       title,
		CompanyName: company,
		URL:         "https://example.com/apply",
		Active:      true,
		IsVisible:   true,
	}
}

func TestRunCycleBroadcastsNewRoles(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	channels := []int64{-100, -200}
	o, snaps := newTestOrchestrator(t, src, disp, channels)

	src.set([]listing.Role{activeRole("Acme", "Intern")}, nil)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	calls := disp.snapshot()
	if len(calls) != 1 {
		t.Fatalf("dispatcher saw %d calls, want 1: %+v", len(calls), calls)
	}
	c := calls[0]
	if c.Op != "broadcast" || c.Key != "Acme_Intern" {
		t.Errorf("call = %+v, want broadcast with key Acme_Intern", c)
	}
	if diff := cmp.Diff(channels, c.Channels); diff != "" {
		t.Errorf("channels (-want +got):\n%s", diff)
	}
	if !strings.Contains(c.Text, "Acme just posted a new internship!") {
		t.Errorf("broadcast text = %q", c.Text)
	}

	if got := snaps.Last(); len(got) != 1 {
		t.Fatalf("committed baseline has %d roles, want 1", len(got))
	}

	// The same generation again is quiet.
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if got := disp.snapshot(); len(got) != 1 {
		t.Fatalf("unchanged generation produced %d extra calls: %+v", len(got)-1, got[1:])
	}
}

func TestRunCycleDeactivationEditsThenBroadcasts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	o, _ := newTestOrchestrator(t, src, disp, []int64{-100})
	ctx := context.Background()

	src.set([]listing.Role{activeRole("Acme", "Intern")}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	closed := activeRole("Acme", "Intern")
	closed.Active = false
	src.set([]listing.Role{closed}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	calls := disp.snapshot()
	if len(calls) != 3 {
		t.Fatalf("dispatcher saw %d calls, want 3: %+v", len(calls), calls)
	}
	edit, notice := calls[1], calls[2]
	if edit.Op != "edit" || edit.Key != "Acme_Intern" {
		t.Errorf("second call = %+v, want edit of Acme_Intern", edit)
	}
	if !strings.Contains(edit.Text, "CLOSED") {
		t.Errorf("edit text = %q", edit.Text)
	}
	if notice.Op != "broadcast" || notice.Key != "" {
		t.Errorf("third call = %+v, want untracked closure broadcast", notice)
	}
	if !strings.Contains(notice.Text, "no longer active") {
		t.Errorf("closure text = %q", notice.Text)
	}
}

func TestRunCycleFetchFailureAbortsWithoutCommit(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	o, snaps := newTestOrchestrator(t, src, disp, []int64{-100})
	ctx := context.Background()

	src.set([]listing.Role{activeRole("Acme", "Intern")}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	baseline := snaps.Last()

	src.set(nil, errors.New("upstream down"))
	if err := o.RunCycle(ctx); err == nil {
		t.Fatal("RunCycle should surface the fetch error")
	}

	if diff := cmp.Diff(baseline, snaps.Last()); diff != "" {
		t.Errorf("failed fetch must not move the baseline (-want +got):\n%s", diff)
	}
	if got := disp.snapshot(); len(got) != 1 {
		t.Fatalf("failed fetch produced dispatcher calls: %+v", got[1:])
	}

	// Recovery: the next good fetch diffs against the old baseline.
	cur := []listing.Role{activeRole("Acme", "Intern"), activeRole("Globex", "SWE Intern")}
	src.set(cur, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	calls := disp.snapshot()
	if len(calls) != 2 || calls[1].Key != "Globex_SWE Intern" {
		t.Fatalf("recovery cycle calls = %+v, want one broadcast for Globex_SWE Intern", calls)
	}
}

func TestRunCycleCommitsEmptyGeneration(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	o, snaps := newTestOrchestrator(t, src, disp, []int64{-100})
	ctx := context.Background()

	src.set([]listing.Role{activeRole("Acme", "Intern")}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// An empty successful fetch is a legitimate generation and becomes the
	// new baseline. The vanished role is not reported.
	src.set([]listing.Role{}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("empty cycle: %v", err)
	}
	if got := snaps.Last(); len(got) != 0 {
		t.Fatalf("baseline has %d roles after empty generation, want 0", len(got))
	}
	if got := disp.snapshot(); len(got) != 1 {
		t.Fatalf("empty generation produced dispatcher calls: %+v", got[1:])
	}
}

func TestSetChannelsAppliesToNextCycle(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	o, _ := newTestOrchestrator(t, src, disp, []int64{-100})
	ctx := context.Background()

	o.SetChannels([]int64{-300, -400})
	src.set([]listing.Role{activeRole("Acme", "Intern")}, nil)
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	calls := disp.snapshot()
	if len(calls) != 1 {
		t.Fatalf("dispatcher saw %d calls, want 1", len(calls))
	}
	if diff := cmp.Diff([]int64{-300, -400}, calls[0].Channels); diff != "" {
		t.Errorf("channels (-want +got):\n%s", diff)
	}
}
