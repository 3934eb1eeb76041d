package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/pipeline"
	"github.com/edgard/groupmind/internal/summary"
)

// EventHandler runs the message pipeline for one normalised event.
type EventHandler interface {
	Handle(ctx context.Context, ev pipeline.Event) pipeline.Outcome
}

// Recapper posts an on-demand summary of a group as a reply.
type Recapper interface {
	Recap(ctx context.Context, groupID, replyTo string) (summary.Result, error)
}

// HandlerDeps provides dependencies for Telegram update handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Pipeline EventHandler
	// SelfID is the bot's own Telegram user id.
	SelfID int64
	// Username is the bot's handle, used to match addressed commands.
	Username string
	// Store records command messages that bypass the pipeline.
	Store database.MessageStore
	// Summarizer enables the /summary command when set.
	Summarizer Recapper
}
