// Package dispatch delivers rendered notifications to the configured
// channel set with per-channel failure isolation, retry-to-blacklist, and
// rate limiting.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rolewatch/internal/storage"
	kit "rolewatch/internal/transport"
	logx "rolewatch/pkg/logx"
)

type Config struct {
	// MaxRetries is the consecutive-failure threshold for blacklisting.
	MaxRetries int
	// SendDelay is the fixed pause after each successful send; a channel's
	// attempt does not count as finished until the delay elapses.
	SendDelay time.Duration
	// RatePerSec caps sends across all channels. 0 picks a safe default.
	RatePerSec int
}

var sendOptions = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

type Service struct {
	cfg     Config
	adapter kit.Adapter
	tracker storage.Tracker
	health  *Health
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, adapter kit.Adapter, tracker storage.Tracker, log logx.Logger) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		adapter: adapter,
		tracker: tracker,
		health:  NewHealth(cfg.MaxRetries),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

// Health exposes the channel failure state (blacklist inspection).
func (s *Service) Health() *Health { return s.health }

// Broadcast sends text to every non-blacklisted channel concurrently and
// waits for all attempts (including their post-send delays) to finish.
// One channel's failure never aborts or delays its siblings.
//
// When recordKey is non-empty, each successful delivery is recorded in the
// tracking store under that key so the message can be edited later.
func (s *Service) Broadcast(ctx context.Context, text, recordKey string, channels []int64) {
	var wg sync.WaitGroup
	for _, chatID := range channels {
		if s.health.Blacklisted(chatID) {
			s.log.Debug("skipping blacklisted channel", logx.Int64("chat_id", chatID))
			continue
		}
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in channel send",
						logx.Int64("chat_id", chatID),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.sendOne(ctx, chatID, text, recordKey)
		}(chatID)
	}
	wg.Wait()
}

func (s *Service) sendOne(ctx context.Context, chatID int64, text, recordKey string) {
	target, err := s.adapter.ResolveChannel(ctx, chatID)
	if err != nil {
		if errors.Is(err, kit.ErrForbidden) {
			// No threshold wait: access problems don't heal by retrying.
			s.health.Ban(chatID)
			s.log.Error("channel blacklisted (forbidden)", logx.Int64("chat_id", chatID), logx.Err(err))
			return
		}
		s.fail(chatID, "resolve channel", err)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	ref, err := s.adapter.SendText(ctx, target, text, sendOptions)
	if err != nil {
		s.fail(chatID, "send", err)
		return
	}

	if recordKey != "" {
		d := storage.Delivery{
			ChannelID: chatID,
			MessageID: ref.MessageID,
			SentAt:    time.Now().UTC().Truncate(time.Second),
		}
		if err := s.tracker.RecordDelivery(ctx, recordKey, d); err != nil {
			s.log.Warn("record delivery", logx.String("record", recordKey), logx.Err(err))
		}
	}

	s.health.Reset(chatID)
	s.log.Debug("message sent", logx.Int64("chat_id", chatID), logx.Int("message_id", ref.MessageID))

	if s.cfg.SendDelay > 0 {
		t := time.NewTimer(s.cfg.SendDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

func (s *Service) fail(chatID int64, op string, err error) {
	count, banned := s.health.Fail(chatID)
	if banned {
		s.log.Error("channel blacklisted after repeated failures",
			logx.Int64("chat_id", chatID), logx.String("op", op), logx.Int("failures", count), logx.Err(err))
		return
	}
	s.log.Warn("channel delivery failed",
		logx.Int64("chat_id", chatID), logx.String("op", op), logx.Int("failures", count), logx.Err(err))
}

// EditTracked consumes the tracking entries for recordKey and rewrites each
// referenced message in place. Edit failures are logged and skipped; they
// never abort the remaining edits. Returns the number of successful edits.
//
// Consuming is deliberate: a record gets at most one update pass, even if
// some of its edits fail.
func (s *Service) EditTracked(ctx context.Context, recordKey, text string) int {
	deliveries, err := s.tracker.Consume(ctx, recordKey)
	if err != nil {
		s.log.Warn("consume tracking entries", logx.String("record", recordKey), logx.Err(err))
		return 0
	}
	if len(deliveries) == 0 {
		s.log.Debug("no tracked messages for record", logx.String("record", recordKey))
		return 0
	}

	edited := 0
	for _, d := range deliveries {
		ref := kit.MessageRef{ChatID: d.ChannelID, MessageID: d.MessageID}
		err := s.adapter.EditText(ctx, ref, text, sendOptions)
		switch {
		case err == nil:
			edited++
		case errors.Is(err, kit.ErrChannelNotFound):
			s.log.Warn("tracked message gone", logx.Int64("chat_id", d.ChannelID), logx.Int("message_id", d.MessageID))
		case errors.Is(err, kit.ErrForbidden):
			s.log.Warn("no permission to edit tracked message", logx.Int64("chat_id", d.ChannelID), logx.Int("message_id", d.MessageID))
		default:
			s.log.Warn("edit tracked message", logx.Int64("chat_id", d.ChannelID), logx.Int("message_id", d.MessageID), logx.Err(err))
		}
	}
	s.log.Info("updated tracked messages", logx.String("record", recordKey), logx.Int("edited", edited), logx.Int("total", len(deliveries)))
	return edited
}
