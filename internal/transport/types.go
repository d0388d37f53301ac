// Package transport defines the messaging-platform boundary consumed by the
// dispatcher and the cycle orchestrator.
package transport

import (
	"context"
	"errors"
)

// ChatTarget addresses a channel capable of receiving posted messages.
type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies a previously sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Error taxonomy for channel operations.
//
// ErrForbidden is permanent (the bot lacks access); everything else the
// adapter returns is treated as transient by callers.
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrForbidden       = errors.New("forbidden")
)

// Adapter is the platform client surface used by the core.
//
// ResolveChannel tries a cached lookup first and falls back to a remote
// fetch; the returned target is valid for SendText until the process exits.
type Adapter interface {
	ResolveChannel(ctx context.Context, chatID int64) (ChatTarget, error)
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	Stop()
}
