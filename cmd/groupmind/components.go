package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/gemini"
	"github.com/edgard/groupmind/internal/ingest"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
	"github.com/edgard/groupmind/internal/summary"
)

// components are the services shared by every command that talks to the
// database and the model.
type components struct {
	db     *sqlx.DB
	store  database.MessageStore
	index  database.KnowledgeIndex
	gemini *gemini.Client
	retry  resilience.Policy
}

func (a *app) openComponents(ctx context.Context) (*components, error) {
	db, err := database.NewDB(a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	gem, err := gemini.NewClient(ctx, a.cfg.Gemini, a.log)
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &components{
		db:     db,
		store:  database.NewStore(db, a.log),
		index:  database.NewKnowledgeIndex(db, a.cfg.Gemini.EmbeddingDimensions, a.log),
		gemini: gem,
		retry:  a.retryPolicy(),
	}, nil
}

func (c *components) Close() {
	database.CloseDB(c.db)
}

func (a *app) retryPolicy() resilience.Policy {
	r := a.cfg.Retry
	return resilience.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
		Retryable:   llm.IsTransient,
		Logger:      a.log,
	}
}

func (a *app) newIngester(c *components) *ingest.Ingester {
	i := a.cfg.Ingest
	return ingest.New(c.store, c.index, c.gemini, c.gemini, c.retry, ingest.Config{
		Lookback:    i.Lookback,
		BatchSize:   i.BatchSize,
		MinMessages: i.MinMessages,
		MaxMessages: i.MaxMessages,
		Concurrency: i.Concurrency,
		CallTimeout: a.cfg.Retry.CallTimeout,
	}, a.log)
}

func (a *app) newSummarizer(c *components, poster summary.Poster) *summary.Summarizer {
	sc := a.cfg.Summary
	return summary.New(c.store, c.gemini, poster, c.retry, summary.Config{
		Window:      sc.Window,
		MinMessages: sc.MinMessages,
		MaxMessages: sc.MaxMessages,
		MaxChars:    sc.MaxChars,
		Concurrency: sc.Concurrency,
		CallTimeout: a.cfg.Retry.CallTimeout,
	}, a.log)
}
