package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/telegram"
)

// SummaryCommand is the command that asks for a recap of the group.
const SummaryCommand = "/summary"

type summaryHandler struct {
	deps HandlerDeps
}

// NewSummaryHandler creates the handler for the /summary command. The command
// message is recorded like any other message, then a recap of the recent
// conversation is posted as a reply. Redelivered commands are answered once.
func NewSummaryHandler(deps HandlerDeps) bot.HandlerFunc {
	return summaryHandler{deps}.Handle
}

func (h summaryHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "summary")

	ev, ok := telegram.ToEvent(update, h.deps.SelfID)
	if !ok {
		log.DebugContext(ctx, "Ignoring update that is not a group message")
		return
	}
	log = log.With("group_id", ev.GroupID, "message_id", ev.MessageID)

	if h.deps.Store != nil {
		_, inserted, err := h.deps.Store.Append(ctx, ev.Message())
		if err != nil {
			log.WarnContext(ctx, "Failed to record summary command", "error", err)
		} else if !inserted {
			log.DebugContext(ctx, "Summary command already handled")
			return
		}
	}

	res, err := h.deps.Summarizer.Recap(ctx, ev.GroupID, ev.MessageID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to post summary", "error", err)
		return
	}
	log.InfoContext(ctx, "Summary command answered", "messages", res.Messages, "reply_id", res.PostedID)
}

// isSummaryCommand matches "/summary" and "/summary@<username>" as the first
// word of a message. Commands addressed to another bot do not match.
func isSummaryCommand(username string) func(*models.Update) bool {
	username = strings.TrimPrefix(username, "@")
	return func(update *models.Update) bool {
		if update == nil || update.Message == nil {
			return false
		}
		fields := strings.Fields(update.Message.Text)
		if len(fields) == 0 {
			return false
		}
		cmd, target, addressed := strings.Cut(fields[0], "@")
		if !strings.EqualFold(cmd, SummaryCommand) {
			return false
		}
		return !addressed || (username != "" && strings.EqualFold(target, username))
	}
}
