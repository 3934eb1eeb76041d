package handlers

import (
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/telegram"
)

// isMessage matches every new message, with or without text.
func isMessage(update *models.Update) bool {
	return update != nil && update.Message != nil
}

// RegisterAll returns the routes of the bot. Routes match disjoint updates,
// so registration order does not matter.
func RegisterAll(deps HandlerDeps) []telegram.Route {
	if deps.Summarizer == nil {
		return []telegram.Route{
			{
				Name:       "group_message",
				Match:      isMessage,
				Handler:    NewMessageHandler(deps),
				Middleware: []tgbot.Middleware{GroupOnly(deps)},
			},
		}
	}

	isSummary := isSummaryCommand(deps.Username)
	return []telegram.Route{
		{
			Name:       "summary_command",
			Match:      isSummary,
			Handler:    NewSummaryHandler(deps),
			Middleware: []tgbot.Middleware{GroupOnly(deps)},
		},
		{
			Name:       "group_message",
			Match:      func(update *models.Update) bool { return isMessage(update) && !isSummary(update) },
			Handler:    NewMessageHandler(deps),
			Middleware: []tgbot.Middleware{GroupOnly(deps)},
		},
	}
}
