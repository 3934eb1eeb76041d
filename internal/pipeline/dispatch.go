package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/resilience"
)

// SentMessage is what the platform reports for a delivered message.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Sender delivers text to a group, optionally as a reply.
type Sender interface {
	SendText(ctx context.Context, groupID, text, replyTo string) (SentMessage, error)
}

// TypingNotifier is implemented by senders that can show a typing indicator.
type TypingNotifier interface {
	NotifyTyping(ctx context.Context, groupID string) error
}

// DispatchConfig controls outbound delivery.
type DispatchConfig struct {
	SendTimeout time.Duration
	RetryDelay  time.Duration
}

// Dispatcher sends replies and records them as bot messages.
type Dispatcher struct {
	sender   Sender
	store    database.MessageStore
	identity mention.Identity
	cfg      DispatchConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, store database.MessageStore, identity mention.Identity, cfg DispatchConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sender:   sender,
		store:    store,
		identity: identity,
		cfg:      cfg,
		log:      log.With("component", "dispatcher"),
		now:      time.Now,
	}
}

func (d *Dispatcher) oneRetry() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: 2,
		BaseDelay:   d.cfg.RetryDelay,
		MaxDelay:    d.cfg.RetryDelay,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, database.ErrInvalidMessage)
		},
		Logger: d.log,
	}
}

// Send delivers text, retrying once, then appends the outbound message. A
// delivery failure returns ErrSendFailed and stores nothing. A delivered
// reply that cannot be stored is returned together with ErrRecordFailed.
func (d *Dispatcher) Send(ctx context.Context, groupID, text, replyTo string) (*database.Message, error) {
	var sent SentMessage
	err := d.oneRetry().Do(ctx, func(ctx context.Context, attempt int) error {
		sendCtx := ctx
		if d.cfg.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()
		}
		var err error
		sent, err = d.sender.SendText(sendCtx, groupID, text, replyTo)
		return err
	})
	if err != nil {
		d.log.ErrorContext(ctx, "Failed to send reply", "group_id", groupID, "reply_to", replyTo, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	ts := sent.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	msg := &database.Message{
		ID:         sent.ID,
		GroupID:    groupID,
		SenderID:   d.identity.UserID,
		SenderName: d.identity.Username,
		Timestamp:  ts,
		Body:       text,
		MediaKind:  database.MediaNone,
		IsFromBot:  true,
		ReplyToID:  replyTo,
	}

	var stored *database.Message
	err = d.oneRetry().Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		stored, _, err = d.store.Append(ctx, msg)
		return err
	})
	if err != nil {
		d.log.ErrorContext(ctx, "Reply sent but not recorded", "group_id", groupID, "message_id", sent.ID, "error", err)
		return msg, fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}
	return stored, nil
}

// NotifyTyping shows a typing indicator when the sender supports it. Errors
// are logged and dropped.
func (d *Dispatcher) NotifyTyping(ctx context.Context, groupID string) {
	typer, ok := d.sender.(TypingNotifier)
	if !ok {
		return
	}
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	if err := typer.NotifyTyping(ctx, groupID); err != nil {
		d.log.DebugContext(ctx, "Typing indicator failed", "group_id", groupID, "error", err)
	}
}
