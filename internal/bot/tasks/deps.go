package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/ingest"
	"github.com/edgard/groupmind/internal/summary"
)

// Ingester refreshes the knowledge index of every group.
type Ingester interface {
	IngestAll(ctx context.Context) ([]ingest.Result, error)
}

// Summarizer posts the scheduled summary of every group.
type Summarizer interface {
	SummarizeAll(ctx context.Context) ([]summary.Result, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.MessageStore
	Ingester Ingester
	// Summarizer is optional; the summary task is a no-op without it.
	Summarizer Summarizer
}
