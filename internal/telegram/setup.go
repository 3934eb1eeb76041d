// Package telegram adapts the Telegram Bot API to the message pipeline: bot
// construction and handler registration, update normalisation, the outbound
// client and the update listener (long polling or webhook).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/groupmind/internal/config"
)

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully", "token_prefix", tokenPrefix(token))
	return b, nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}

// Route is one handler registration. When Match is set it replaces the
// pattern matching on HandlerType, Pattern and MatchType.
type Route struct {
	Name        string
	Match       bot.MatchFunc
	HandlerType bot.HandlerType
	Pattern     string
	MatchType   bot.MatchType
	Handler     bot.HandlerFunc
	Middleware  []bot.Middleware
}

// applyMiddleware wraps a handler function with a slice of middleware.
// Middleware are applied in reverse order so the first one in the slice is the outermost.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterRoutes registers routes with the bot, applying each route's middleware.
func RegisterRoutes(b *bot.Bot, logger *slog.Logger, routes []Route) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	if len(routes) == 0 {
		log.Warn("No routes provided for registration.")
		return nil
	}

	for _, r := range routes {
		if r.Handler == nil {
			log.Warn("Skipping registration for nil handler", "route", r.Name)
			continue
		}
		h := applyMiddleware(r.Handler, r.Middleware)
		if r.Match != nil {
			b.RegisterHandlerMatchFunc(r.Match, h)
		} else {
			b.RegisterHandler(r.HandlerType, r.Pattern, r.MatchType, h)
		}
		log.Debug("Registered handler", "route", r.Name, "pattern", r.Pattern, "middleware_count", len(r.Middleware))
	}

	log.Info("Registered Telegram handlers", "count", len(routes))
	return nil
}

// BotOptions returns the options derived from configuration, followed by extra.
func BotOptions(cfg config.TelegramConfig, extra ...bot.Option) []bot.Option {
	var opts []bot.Option
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}
	return append(opts, extra...)
}

const shutdownTimeout = 10 * time.Second

// Listen receives updates until ctx is done. Webhook mode is used when a
// webhook URL is configured, long polling otherwise.
func Listen(ctx context.Context, b *bot.Bot, cfg config.TelegramConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_listener")

	if cfg.WebhookURL == "" {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			log.Warn("Failed to delete webhook before polling", "error", err)
		}
		log.Info("Starting long polling")
		b.Start(ctx)
		return nil
	}

	if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         cfg.WebhookURL,
		SecretToken: cfg.WebhookSecret,
	}); err != nil {
		return fmt.Errorf("%w: set webhook: %w", ErrAPI, err)
	}

	srv := &http.Server{
		Addr:              cfg.WebhookAddr,
		Handler:           b.WebhookHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.StartWebhook(gCtx)
		return nil
	})
	g.Go(func() error {
		log.Info("Webhook server listening", "addr", cfg.WebhookAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Webhook server shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}
