package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/resilience"
)

// ContextBuilder assembles the context for a trigger.
type ContextBuilder interface {
	Build(ctx context.Context, trigger *database.Message, prompt string) (*ConversationContext, error)
}

// ReplyGenerator produces reply text.
type ReplyGenerator interface {
	Generate(ctx context.Context, cc *ConversationContext) (*GeneratedReply, error)
}

// ReplyDispatcher delivers and records replies.
type ReplyDispatcher interface {
	Send(ctx context.Context, groupID, text, replyTo string) (*database.Message, error)
	NotifyTyping(ctx context.Context, groupID string)
}

// MessageIndexer adds a single stored message to the knowledge index.
type MessageIndexer interface {
	IndexMessage(ctx context.Context, msg *database.Message) error
}

// Config bounds one run.
type Config struct {
	ProcessingDeadline time.Duration
	// StoreRetryDelay is the wait before the single retry of the inbound append.
	StoreRetryDelay time.Duration
}

// Outcome summarises a run for the caller and for tests.
type Outcome struct {
	RunID    string
	Stored   bool
	Decision mention.Decision
	Degraded bool
	Reply    *database.Message
	Err      error
}

// Pipeline handles inbound events end to end.
type Pipeline struct {
	store      database.MessageStore
	detector   *mention.Detector
	identity   mention.Identity
	assembler  ContextBuilder
	generator  ReplyGenerator
	dispatcher ReplyDispatcher
	indexer    MessageIndexer
	cfg        Config
	log        *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithIndexer indexes every stored human message after the run.
func WithIndexer(ix MessageIndexer) Option {
	return func(p *Pipeline) { p.indexer = ix }
}

// WithDetector replaces the default mention detector.
func WithDetector(d *mention.Detector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// New creates a Pipeline.
func New(
	store database.MessageStore,
	identity mention.Identity,
	assembler ContextBuilder,
	generator ReplyGenerator,
	dispatcher ReplyDispatcher,
	cfg Config,
	log *slog.Logger,
	opts ...Option,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		store:      store,
		identity:   identity,
		assembler:  assembler,
		generator:  generator,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.detector == nil {
		p.detector = mention.NewDetector(identity)
	}
	return p
}

// Identity returns the bot identity the pipeline answers to.
func (p *Pipeline) Identity() mention.Identity { return p.identity }

// Handle processes one event. It never panics on bad input and every failure
// ends the run silently: nothing is sent to the group on error.
func (p *Pipeline) Handle(ctx context.Context, ev Event) Outcome {
	out := Outcome{RunID: uuid.NewString()}
	if p.cfg.ProcessingDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ProcessingDeadline)
		defer cancel()
	}
	log := p.log.With("run_id", out.RunID, "group_id", ev.GroupID, "message_id", ev.MessageID)
	start := time.Now()

	fail := func(stage string, err error) Outcome {
		out.Err = err
		level := slog.LevelError
		if errors.Is(err, database.ErrInvalidMessage) {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "Pipeline run failed",
			"stage", stage,
			"error_kind", ErrorKind(err),
			"error", err,
			"duration", time.Since(start),
		)
		return out
	}

	msg := ev.Message()
	stored, inserted, err := p.append(ctx, msg)
	if err != nil {
		return fail("append", err)
	}
	out.Stored = true
	if !inserted {
		log.DebugContext(ctx, "Duplicate delivery, skipping")
		return out
	}
	if p.indexer != nil && !stored.IsFromBot {
		defer p.index(ctx, log, stored)
	}

	out.Decision = p.detector.Evaluate(mention.Candidate{
		Message:  stored,
		Entities: ev.Entities,
		ReplyTo:  p.replyTarget(ctx, log, ev),
	}, p.identity)
	if !out.Decision.ShouldRespond {
		log.DebugContext(ctx, "Not addressed", "reason", out.Decision.Reason)
		return out
	}
	log.InfoContext(ctx, "Bot addressed", "reason", out.Decision.Reason, "sender_id", stored.SenderID)

	p.dispatcher.NotifyTyping(ctx, stored.GroupID)

	cc, err := p.assembler.Build(ctx, stored, out.Decision.Prompt)
	if err != nil {
		return fail("assemble", err)
	}
	out.Degraded = cc.KnowledgeDegraded || cc.RecentDegraded

	reply, err := p.generator.Generate(ctx, cc)
	if err != nil {
		return fail("generate", err)
	}

	sent, err := p.dispatcher.Send(ctx, stored.GroupID, reply.Text, stored.ID)
	out.Reply = sent
	if err != nil {
		return fail("dispatch", err)
	}

	log.InfoContext(ctx, "Reply sent",
		"reply_id", sent.ID,
		"provider_calls", reply.Calls,
		"recent", len(cc.Recent),
		"chunks", len(cc.Knowledge),
		"degraded", out.Degraded,
		"duration", time.Since(start),
	)
	return out
}

func (p *Pipeline) append(ctx context.Context, msg *database.Message) (*database.Message, bool, error) {
	var (
		stored   *database.Message
		inserted bool
	)
	policy := resilience.Policy{
		MaxAttempts: 2,
		BaseDelay:   p.cfg.StoreRetryDelay,
		MaxDelay:    p.cfg.StoreRetryDelay,
		Retryable: func(err error) bool {
			return errors.Is(err, database.ErrStoreUnavailable)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		stored, inserted, err = p.store.Append(ctx, msg)
		return err
	})
	return stored, inserted, err
}

// replyTarget resolves the replied-to message. The stored copy is preferred;
// otherwise what the transport reported is used. Lookup failures are soft.
func (p *Pipeline) replyTarget(ctx context.Context, log *slog.Logger, ev Event) *mention.ReplyTarget {
	if ev.ReplyToID == "" {
		return nil
	}
	target, err := p.store.Get(ctx, ev.GroupID, ev.ReplyToID)
	if err != nil {
		log.WarnContext(ctx, "Reply target lookup failed", "reply_to_id", ev.ReplyToID, "error", err)
	}
	if target != nil {
		return &mention.ReplyTarget{MessageID: target.ID, SenderID: target.SenderID, IsFromBot: target.IsFromBot}
	}
	if ev.ReplyToSenderID == "" && !ev.ReplyToIsBot {
		return nil
	}
	return &mention.ReplyTarget{MessageID: ev.ReplyToID, SenderID: ev.ReplyToSenderID, IsFromBot: ev.ReplyToIsBot}
}

func (p *Pipeline) index(ctx context.Context, log *slog.Logger, msg *database.Message) {
	if ctx.Err() != nil {
		return
	}
	if err := p.indexer.IndexMessage(ctx, msg); err != nil {
		log.WarnContext(ctx, "Incremental indexing failed", "error_kind", ErrorKind(err), "error", err)
	}
}
