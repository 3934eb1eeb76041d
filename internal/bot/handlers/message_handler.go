package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/telegram"
)

type messageHandler struct {
	deps HandlerDeps
}

// NewMessageHandler creates the handler that feeds every group message to
// the pipeline. Whether to answer is decided there.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

func (h messageHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	ev, ok := telegram.ToEvent(update, h.deps.SelfID)
	if !ok {
		log.DebugContext(ctx, "Ignoring update that is not a group message")
		return
	}

	out := h.deps.Pipeline.Handle(ctx, ev)
	if out.Err != nil {
		// The pipeline has already logged the failure with its run id.
		return
	}
	log.DebugContext(ctx, "Message handled",
		"run_id", out.RunID,
		"group_id", ev.GroupID,
		"message_id", ev.MessageID,
		"reason", out.Decision.Reason,
		"replied", out.Reply != nil,
	)
}
