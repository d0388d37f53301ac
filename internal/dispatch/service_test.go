package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"rolewatch/internal/storage"
	kit "rolewatch/internal/transport"
	logx "rolewatch/pkg/logx"
)

// fakeAdapter scripts per-channel behavior. sendErrs is a queue per channel:
// each SendText pops one entry (nil means success); an empty queue succeeds.
type fakeAdapter struct {
	mu          sync.Mutex
	resolveErrs map[int64]error
	sendErrs    map[int64][]error
	editErrs    map[kit.MessageRef]error

	resolveCalls map[int64]int
	sendCalls    map[int64]int
	edits        []kit.MessageRef
	nextMsgID    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		resolveErrs:  map[int64]error{},
		sendErrs:     map[int64][]error{},
		editErrs:     map[kit.MessageRef]error{},
		resolveCalls: map[int64]int{},
		sendCalls:    map[int64]int{},
	}
}

func (f *fakeAdapter) ResolveChannel(ctx context.Context, chatID int64) (kit.ChatTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls[chatID]++
	if err := f.resolveErrs[chatID]; err != nil {
		return kit.ChatTarget{}, err
	}
	return kit.ChatTarget{ChatID: chatID}, nil
}

func (f *fakeAdapter) SendText(ctx context.Context, target kit.ChatTarget, text string, opts *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls[target.ChatID]++
	if q := f.sendErrs[target.ChatID]; len(q) > 0 {
		err := q[0]
		f.sendErrs[target.ChatID] = q[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.nextMsgID++
	return kit.MessageRef{ChatID: target.ChatID, MessageID: f.nextMsgID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opts *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, ref)
	return f.editErrs[ref]
}

func (f *fakeAdapter) Stop() {}

func (f *fakeAdapter) sends(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls[chatID]
}

func newTestService(t *testing.T, cfg Config, fa *fakeAdapter) (*Service, storage.Tracker) {
	t.Helper()
	tr, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tracking.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return New(cfg, fa, tr, logx.Nop()), tr
}

func TestBroadcastSkipsBlacklisted(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	s, _ := newTestService(t, Config{}, fa)

	channels := []int64{1, 2, 3, 4}
	s.Health().Ban(2)
	s.Health().Ban(4)

	s.Broadcast(context.Background(), "hello", "", channels)

	for _, chatID := range []int64{1, 3} {
		if got := fa.sends(chatID); got != 1 {
			t.Errorf("channel %d got %d sends, want 1", chatID, got)
		}
	}
	for _, chatID := range []int64{2, 4} {
		if got := fa.sends(chatID); got != 0 {
			t.Errorf("blacklisted channel %d got %d sends, want 0", chatID, got)
		}
		if got := fa.resolveCalls[chatID]; got != 0 {
			t.Errorf("blacklisted channel %d was resolved %d times, want 0", chatID, got)
		}
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.sendErrs[2] = []error{errors.New("boom")}
	s, _ := newTestService(t, Config{}, fa)

	s.Broadcast(context.Background(), "hello", "", []int64{1, 2, 3})

	for _, chatID := range []int64{1, 3} {
		if got := fa.sends(chatID); got != 1 {
			t.Errorf("channel %d got %d sends, want 1", chatID, got)
		}
	}
	if got := s.Health().FailureCount(2); got != 1 {
		t.Errorf("failure count for channel 2 = %d, want 1", got)
	}
	if s.Health().Blacklisted(2) {
		t.Error("one failure must not blacklist")
	}
}

func TestBlacklistAfterMaxRetries(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.sendErrs[7] = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}
	s, _ := newTestService(t, Config{MaxRetries: 3}, fa)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Broadcast(ctx, fmt.Sprintf("msg %d", i), "", []int64{7})
	}
	if !s.Health().Blacklisted(7) {
		t.Fatal("channel should be blacklisted after 3 consecutive failures")
	}

	// Subsequent broadcasts never touch it again.
	s.Broadcast(ctx, "after", "", []int64{7})
	if got := fa.sends(7); got != 3 {
		t.Errorf("blacklisted channel got %d sends, want 3", got)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.sendErrs[7] = []error{errors.New("e1"), errors.New("e2"), nil, errors.New("e4")}
	s, _ := newTestService(t, Config{MaxRetries: 3}, fa)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Broadcast(ctx, "msg", "", []int64{7})
	}
	if s.Health().Blacklisted(7) {
		t.Fatal("a success between failures must reset the count")
	}
	if got := s.Health().FailureCount(7); got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestForbiddenBansImmediately(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.resolveErrs[5] = fmt.Errorf("chat 5: %w", kit.ErrForbidden)
	s, _ := newTestService(t, Config{MaxRetries: 3}, fa)

	s.Broadcast(context.Background(), "hello", "", []int64{5})

	if !s.Health().Blacklisted(5) {
		t.Fatal("forbidden access should blacklist without the retry threshold")
	}
	if got := s.Health().FailureCount(5); got != 0 {
		t.Errorf("forbidden ban should not consume the failure counter, got %d", got)
	}
	if got := fa.sends(5); got != 0 {
		t.Errorf("forbidden channel got %d sends, want 0", got)
	}
}

func TestBroadcastRecordsDeliveries(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.sendErrs[2] = []error{errors.New("boom")}
	s, tr := newTestService(t, Config{}, fa)
	ctx := context.Background()

	s.Broadcast(ctx, "hello", "Acme_Intern", []int64{1, 2, 3})

	ds, err := tr.Consume(ctx, "Acme_Intern")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("recorded %d deliveries, want 2 (failed channel must not be tracked)", len(ds))
	}
	seen := map[int64]bool{}
	for _, d := range ds {
		seen[d.ChannelID] = true
		if d.MessageID == 0 {
			t.Errorf("delivery for channel %d has zero message id", d.ChannelID)
		}
		if d.SentAt.IsZero() {
			t.Errorf("delivery for channel %d has zero timestamp", d.ChannelID)
		}
	}
	if !seen[1] || !seen[3] {
		t.Errorf("recorded channels = %v, want 1 and 3", seen)
	}
}

func TestBroadcastWithoutRecordKeySkipsTracking(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	s, tr := newTestService(t, Config{}, fa)
	ctx := context.Background()

	s.Broadcast(ctx, "hello", "", []int64{1})

	ds, err := tr.Consume(ctx, "")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("got %d tracked deliveries, want 0", len(ds))
	}
}

func TestEditTrackedConsumesOnce(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	s, tr := newTestService(t, Config{}, fa)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := storage.Delivery{ChannelID: int64(i), MessageID: 100 + i}
		if err := tr.RecordDelivery(ctx, "Acme_Intern", d); err != nil {
			t.Fatalf("RecordDelivery: %v", err)
		}
	}
	fa.editErrs[kit.MessageRef{ChatID: 2, MessageID: 102}] = fmt.Errorf("gone: %w", kit.ErrChannelNotFound)

	if got := s.EditTracked(ctx, "Acme_Intern", "closed"); got != 2 {
		t.Fatalf("EditTracked = %d edits, want 2", got)
	}
	if got := len(fa.edits); got != 3 {
		t.Fatalf("adapter saw %d edit attempts, want 3 (failures must not abort the pass)", got)
	}

	// The record is consumed; a second pass edits nothing.
	fa.edits = nil
	if got := s.EditTracked(ctx, "Acme_Intern", "closed again"); got != 0 {
		t.Fatalf("second EditTracked = %d edits, want 0", got)
	}
	if len(fa.edits) != 0 {
		t.Fatalf("second pass attempted %d edits, want 0", len(fa.edits))
	}
}

func TestHealthThresholdDefaults(t *testing.T) {
	t.Parallel()
	h := NewHealth(0)
	for i := 1; i < DefaultMaxRetries; i++ {
		if _, banned := h.Fail(1); banned {
			t.Fatalf("banned after %d failures, threshold is %d", i, DefaultMaxRetries)
		}
	}
	if _, banned := h.Fail(1); !banned {
		t.Fatalf("not banned after %d failures", DefaultMaxRetries)
	}
}
