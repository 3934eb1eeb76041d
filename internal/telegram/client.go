package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/pipeline"
)

// ErrAPI wraps every failed Telegram Bot API call.
var ErrAPI = errors.New("telegram api error")

// api is the subset of *bot.Bot the client needs.
type api interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Client sends messages to Telegram groups. It implements pipeline.Sender and
// pipeline.TypingNotifier.
type Client struct {
	api api
	log *slog.Logger
}

var (
	_ pipeline.Sender         = (*Client)(nil)
	_ pipeline.TypingNotifier = (*Client)(nil)
)

// NewClient wraps a bot instance.
func NewClient(b *bot.Bot, log *slog.Logger) *Client {
	return newClient(b, log)
}

func newClient(a api, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{api: a, log: log.With("component", "telegram_client")}
}

// SendText posts text to the group, as a reply when replyTo is set.
func (c *Client) SendText(ctx context.Context, groupID, text, replyTo string) (pipeline.SentMessage, error) {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return pipeline.SentMessage{}, fmt.Errorf("invalid group id %q: %w", groupID, err)
	}

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if replyTo != "" {
		id, err := strconv.Atoi(replyTo)
		if err != nil {
			return pipeline.SentMessage{}, fmt.Errorf("invalid reply message id %q: %w", replyTo, err)
		}
		params.ReplyParameters = &models.ReplyParameters{MessageID: id}
	}

	sent, err := c.api.SendMessage(ctx, params)
	if err != nil {
		return pipeline.SentMessage{}, fmt.Errorf("%w: send message: %w", ErrAPI, err)
	}
	if sent == nil {
		return pipeline.SentMessage{}, fmt.Errorf("%w: send message returned no message", ErrAPI)
	}

	c.log.DebugContext(ctx, "Message sent", "chat_id", chatID, "message_id", sent.ID, "reply_to", replyTo)
	return pipeline.SentMessage{
		ID:        strconv.Itoa(sent.ID),
		Timestamp: time.Unix(int64(sent.Date), 0).UTC(),
	}, nil
}

// NotifyTyping shows the typing indicator in the group.
func (c *Client) NotifyTyping(ctx context.Context, groupID string) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid group id %q: %w", groupID, err)
	}
	if _, err := c.api.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
		return fmt.Errorf("%w: send chat action: %w", ErrAPI, err)
	}
	return nil
}

// ResolveIdentity asks Telegram who the bot is and combines the answer with
// the configured aliases.
func ResolveIdentity(ctx context.Context, b *bot.Bot, aliases []string) (mention.Identity, error) {
	me, err := b.GetMe(ctx)
	if err != nil {
		return mention.Identity{}, fmt.Errorf("%w: get me: %w", ErrAPI, err)
	}
	return mention.Identity{
		UserID:   strconv.FormatInt(me.ID, 10),
		Username: me.Username,
		Aliases:  aliases,
	}, nil
}
