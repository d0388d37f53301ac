package dispatch

import "sync"

// DefaultMaxRetries is the consecutive-failure threshold after which a
// channel is blacklisted.
const DefaultMaxRetries = 3

// Health tracks per-channel consecutive failures and the process-lifetime
// blacklist. Entering the blacklist is one-way: there is no automatic
// recovery, a restart is the only way back.
//
// All methods are safe for concurrent use by per-channel send goroutines.
type Health struct {
	mu         sync.Mutex
	maxRetries int
	failures   map[int64]int
	banned     map[int64]struct{}
}

func NewHealth(maxRetries int) *Health {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Health{
		maxRetries: maxRetries,
		failures:   map[int64]int{},
		banned:     map[int64]struct{}{},
	}
}

func (h *Health) Blacklisted(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.banned[chatID]
	return ok
}

// Fail records one more consecutive failure and reports the updated count
// and whether the channel just crossed the threshold into the blacklist.
func (h *Health) Fail(chatID int64) (count int, banned bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[chatID]++
	count = h.failures[chatID]
	if count >= h.maxRetries {
		h.banned[chatID] = struct{}{}
		banned = true
	}
	return count, banned
}

// Ban blacklists the channel immediately, bypassing the retry threshold.
// Used for permission errors, which never heal on their own.
func (h *Health) Ban(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.banned[chatID] = struct{}{}
}

// Reset clears the consecutive-failure count after a successful send.
func (h *Health) Reset(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, chatID)
}

func (h *Health) FailureCount(chatID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[chatID]
}
