package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/resilience"
)

// GeneratorConfig controls provider calls and reply shaping.
type GeneratorConfig struct {
	CallTimeout       time.Duration
	MaxReplyChars     int
	SystemInstruction string
}

// GeneratedReply is a validated reply ready to send.
type GeneratedReply struct {
	Text string
	// Calls is the number of provider calls made, retries included.
	Calls       int
	Regenerated bool
}

// Generator produces a reply for a ConversationContext.
type Generator struct {
	provider llm.Provider
	retry    resilience.Policy
	identity mention.Identity
	cfg      GeneratorConfig
	log      *slog.Logger
}

// NewGenerator creates a Generator. Retries follow policy; its Retryable
// predicate defaults to llm.IsTransient.
func NewGenerator(provider llm.Provider, policy resilience.Policy, identity mention.Identity, cfg GeneratorConfig, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	if policy.Retryable == nil {
		policy.Retryable = llm.IsTransient
	}
	return &Generator{
		provider: provider,
		retry:    policy,
		identity: identity,
		cfg:      cfg,
		log:      log.With("component", "generator"),
	}
}

var errEmptyReply = errors.New("provider returned an empty reply")

// Generate calls the provider with retries. An empty reply is regenerated
// once. Any failure is returned wrapped in ErrGenerationUnavailable.
func (g *Generator) Generate(ctx context.Context, cc *ConversationContext) (*GeneratedReply, error) {
	prompt := buildPrompt(cc, g.identity, g.cfg.SystemInstruction)
	reply := &GeneratedReply{}

	for round := 0; round < 2; round++ {
		raw, err := g.complete(ctx, prompt, reply)
		if err != nil {
			if errors.Is(err, llm.ErrPermanent) {
				g.log.ErrorContext(ctx, "Provider rejected request",
					"group_id", cc.Trigger.GroupID, "message_id", cc.Trigger.ID, "error", err)
			}
			return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
		}

		if text := cleanReply(raw, g.cfg.MaxReplyChars); text != "" {
			reply.Text = text
			reply.Regenerated = round > 0
			return reply, nil
		}
		g.log.WarnContext(ctx, "Provider returned empty reply",
			"group_id", cc.Trigger.GroupID, "message_id", cc.Trigger.ID, "round", round+1)
	}
	return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, errEmptyReply)
}

func (g *Generator) complete(ctx context.Context, prompt llm.Prompt, reply *GeneratedReply) (string, error) {
	var text string
	err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		reply.Calls++
		callCtx := ctx
		if g.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
		}

		start := time.Now()
		out, err := g.provider.Complete(callCtx, prompt)
		if err != nil {
			g.log.DebugContext(ctx, "Provider call failed", "attempt", attempt, "duration", time.Since(start), "error", err)
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	return text, err
}
