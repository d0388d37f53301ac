// Package adapter implements the transport boundary on top of the Telegram
// Bot API via telebot.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "rolewatch/internal/transport"
	logx "rolewatch/pkg/logx"
)

type Config struct {
	Token string
	// APITimeout bounds individual Bot API calls.
	APITimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	// chatMu guards the resolved-channel cache. Entries live for the
	// process lifetime; channel metadata changes are irrelevant to sends.
	chatMu sync.Mutex
	chats  map[int64]*tele.Chat
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 10 * time.Second
	}
	// No Poller: this process only posts and edits, it never consumes updates.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.APITimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b, chats: map[int64]*tele.Chat{}}, nil
}

// ResolveChannel returns a send target for chatID, from cache when possible.
// A cache miss performs a getChat round trip; failures are classified into
// the transport error taxonomy.
func (a *Adapter) ResolveChannel(ctx context.Context, chatID int64) (kit.ChatTarget, error) {
	a.chatMu.Lock()
	cached := a.chats[chatID]
	a.chatMu.Unlock()
	if cached != nil {
		return kit.ChatTarget{ChatID: cached.ID}, nil
	}

	if err := ctx.Err(); err != nil {
		return kit.ChatTarget{}, err
	}

	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.ChatTarget{}, mapError(err)
	}

	a.chatMu.Lock()
	a.chats[chatID] = chat
	a.chatMu.Unlock()

	a.log.Debug("channel resolved", logx.Int64("chat_id", chatID))
	return kit.ChatTarget{ChatID: chat.ID}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			if first.ChatID != 0 {
				return first, ctx.Err()
			}
			return kit.MessageRef{}, ctx.Err()
		default:
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, mapError(err)
			}
			return kit.MessageRef{}, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Edits must fit a single message; the closed-role rewrite is always
	// shorter than the original post, so truncation is a non-issue.
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if _, err := a.bot.Edit(m, chunks[0], sendOpt); err != nil {
		return mapError(err)
	}
	return nil
}

// Stop releases the adapter. The bot never long-polls (this process only
// posts), so there is no poll loop to tear down.
func (a *Adapter) Stop() {
	a.log.Debug("telegram adapter stopped")
}

// mapError classifies telebot errors into the transport taxonomy.
// 403 means the bot was removed or never had access (permanent); a
// "not found" 400/404 means the chat or message does not exist.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 403:
			return fmt.Errorf("%w: %s", kit.ErrForbidden, te.Description)
		case te.Code == 404,
			te.Code == 400 && strings.Contains(strings.ToLower(te.Description), "not found"):
			return fmt.Errorf("%w: %s", kit.ErrChannelNotFound, te.Description)
		}
	}
	return err
}
