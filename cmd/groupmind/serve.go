package main

import (
	"context"
	"fmt"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/edgard/groupmind/internal/bot"
	"github.com/edgard/groupmind/internal/bot/handlers"
	"github.com/edgard/groupmind/internal/bot/tasks"
	"github.com/edgard/groupmind/internal/ingest"
	"github.com/edgard/groupmind/internal/logger"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/pipeline"
	"github.com/edgard/groupmind/internal/resilience"
	"github.com/edgard/groupmind/internal/telegram"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: answer group messages and run scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	cfg := a.cfg

	c, err := a.openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, telegram.BotOptions(cfg.Telegram,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
			log.DebugContext(ctx, "Ignoring unhandled update", "update_id", update.ID)
		}),
	)...)
	if err != nil {
		return err
	}

	identity, err := telegram.ResolveIdentity(ctx, tg, cfg.Telegram.Aliases)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	log.Info("Retrieved bot info", "bot_id", identity.UserID, "bot_username", identity.Username)

	dispatcher := a.newDispatcher(c, telegram.NewClient(tg, log), identity)
	p := a.newPipeline(c, dispatcher, identity)
	summarizer := a.newSummarizer(c, dispatcher)

	self := p.Identity()
	selfID, err := parseSelfID(self.UserID)
	if err != nil {
		return err
	}
	deps := handlers.HandlerDeps{Logger: log, Pipeline: p, SelfID: selfID, Username: self.Username, Store: c.store}
	if cfg.Summary.Command {
		deps.Summarizer = summarizer
	}
	if err := telegram.RegisterRoutes(tg, log, handlers.RegisterAll(deps)); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:     log,
		Store:      c.store,
		Ingester:   a.newIngester(c),
		Summarizer: summarizer,
	})
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		return err
	}

	listen := func(ctx context.Context) error {
		return telegram.Listen(ctx, tg, cfg.Telegram, log)
	}
	return bot.NewBot(log, listen, sched).Run(ctx)
}

func (a *app) newDispatcher(c *components, sender pipeline.Sender, identity mention.Identity) *pipeline.Dispatcher {
	return pipeline.NewDispatcher(sender, c.store, identity, pipeline.DispatchConfig{
		SendTimeout: a.cfg.Dispatch.SendTimeout,
		RetryDelay:  a.cfg.Dispatch.RetryDelay,
	}, a.log)
}

func (a *app) newPipeline(c *components, dispatcher *pipeline.Dispatcher, identity mention.Identity) *pipeline.Pipeline {
	cfg := a.cfg
	log := a.log

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:          "embeddings",
		MaxFailures:   cfg.Breaker.MaxFailures,
		ResetInterval: cfg.Breaker.ResetInterval,
		Logger:        log,
	})

	assembler := pipeline.NewAssembler(c.store, c.index, c.gemini, c.retry, breaker, pipeline.AssemblerConfig{
		HistoryWindow:   cfg.Pipeline.HistoryWindow,
		TopK:            cfg.Pipeline.TopK,
		QueryRollup:     cfg.Pipeline.QueryRollup,
		MaxContextChars: cfg.Pipeline.MaxContextChars,
		KnowledgePolicy: cfg.Pipeline.KnowledgePolicy,
		EmbedTimeout:    cfg.Retry.EmbedTimeout,
	}, log)

	generator := pipeline.NewGenerator(c.gemini, c.retry, identity, pipeline.GeneratorConfig{
		CallTimeout:       cfg.Retry.CallTimeout,
		MaxReplyChars:     cfg.Pipeline.MaxReplyChars,
		SystemInstruction: cfg.Gemini.SystemInstruction,
	}, log)

	var opts []pipeline.Option
	if cfg.Pipeline.IndexOnAppend {
		opts = append(opts, pipeline.WithIndexer(ingest.NewMessageIndexer(c.index, c.gemini, c.retry, log)))
	}

	return pipeline.New(c.store, identity, assembler, generator, dispatcher, pipeline.Config{
		ProcessingDeadline: cfg.Pipeline.ProcessingDeadline,
		StoreRetryDelay:    cfg.Dispatch.RetryDelay,
	}, log, opts...)
}

func parseSelfID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bot user id %q: %w", userID, err)
	}
	return id, nil
}
