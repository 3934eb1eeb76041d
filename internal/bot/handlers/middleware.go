// Package handlers contains the Telegram update handlers, their middleware
// and the route registry.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/telegram"
)

// GroupOnly drops updates whose message does not come from a group or
// supergroup chat.
func GroupOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if update == nil || update.Message == nil {
				return
			}
			if !telegram.IsGroupChat(update.Message.Chat) {
				deps.Logger.With("middleware", "GroupOnly").DebugContext(ctx, "Ignoring message outside a group",
					"chat_id", update.Message.Chat.ID, "chat_type", update.Message.Chat.Type)
				return
			}
			next(ctx, bot, update)
		}
	}
}
