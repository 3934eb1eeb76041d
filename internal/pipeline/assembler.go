package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edgard/groupmind/internal/config"
	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
)

// ConversationContext is everything the generator sees for one trigger.
type ConversationContext struct {
	Trigger *database.Message
	// Prompt is the trigger text with the mention removed.
	Prompt string
	// Recent holds messages before the trigger, oldest first.
	Recent    []*database.Message
	Knowledge []database.ScoredChunk
	Query     string

	KnowledgeDegraded bool
	RecentDegraded    bool
	DegradedReason    string
}

// AssemblerConfig bounds the assembled context.
type AssemblerConfig struct {
	HistoryWindow   int
	TopK            int
	QueryRollup     int
	MaxContextChars int
	KnowledgePolicy string
	EmbedTimeout    time.Duration
}

// Assembler builds the ConversationContext for a trigger message.
type Assembler struct {
	store    database.MessageStore
	index    database.KnowledgeIndex
	embedder llm.Embedder
	retry    resilience.Policy
	breaker  *resilience.Breaker
	cfg      AssemblerConfig
	log      *slog.Logger
}

// NewAssembler creates an Assembler. index and embedder may be nil, which
// disables knowledge retrieval.
func NewAssembler(
	store database.MessageStore,
	index database.KnowledgeIndex,
	embedder llm.Embedder,
	retry resilience.Policy,
	breaker *resilience.Breaker,
	cfg AssemblerConfig,
	log *slog.Logger,
) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.KnowledgePolicy == "" {
		cfg.KnowledgePolicy = config.KnowledgeBestEffort
	}
	return &Assembler{
		store:    store,
		index:    index,
		embedder: embedder,
		retry:    retry,
		breaker:  breaker,
		cfg:      cfg,
		log:      log.With("component", "assembler"),
	}
}

// Build loads the recent window, retrieves knowledge for the trigger and
// trims both to the character budget. Only a knowledge failure under the
// required policy is returned as an error; everything else degrades.
func (a *Assembler) Build(ctx context.Context, trigger *database.Message, prompt string) (*ConversationContext, error) {
	cc := &ConversationContext{Trigger: trigger, Prompt: prompt}

	recent, err := a.loadRecent(ctx, trigger)
	if err != nil {
		a.log.WarnContext(ctx, "Recent history unavailable, continuing without it",
			"group_id", trigger.GroupID, "message_id", trigger.ID, "error", err)
		cc.RecentDegraded = true
		cc.DegradedReason = "recent: " + err.Error()
	}
	cc.Recent = recent
	cc.Query = a.query(trigger, prompt, recent)

	if err := a.retrieve(ctx, cc); err != nil {
		if a.cfg.KnowledgePolicy == config.KnowledgeRequired {
			return nil, fmt.Errorf("%w: %w", ErrKnowledgeUnavailable, err)
		}
		args := []any{"group_id", trigger.GroupID, "message_id", trigger.ID, "error", err}
		if a.breaker != nil {
			args = append(args, "breaker_state", a.breaker.State())
		}
		a.log.WarnContext(ctx, "Knowledge retrieval failed, using recent history only", args...)
		cc.KnowledgeDegraded = true
		if cc.DegradedReason != "" {
			cc.DegradedReason += "; "
		}
		cc.DegradedReason += "knowledge: " + err.Error()
	}

	a.truncate(cc)
	return cc, nil
}

// loadRecent returns up to HistoryWindow messages strictly preceding the
// trigger. The cutoff is re-checked here whatever the store returned.
func (a *Assembler) loadRecent(ctx context.Context, trigger *database.Message) ([]*database.Message, error) {
	if a.cfg.HistoryWindow <= 0 {
		return nil, nil
	}
	rows, err := a.store.Recent(ctx, trigger.GroupID, trigger.Timestamp, a.cfg.HistoryWindow+1)
	if err != nil {
		return nil, err
	}
	recent := make([]*database.Message, 0, len(rows))
	for _, m := range rows {
		if m.GroupID != trigger.GroupID || m.ID == trigger.ID || m.Timestamp.After(trigger.Timestamp) {
			continue
		}
		recent = append(recent, m)
	}
	if len(recent) > a.cfg.HistoryWindow {
		recent = recent[len(recent)-a.cfg.HistoryWindow:]
	}
	return recent, nil
}

// query is the text embedded for retrieval: the stripped trigger followed by
// the last few messages of the window.
func (a *Assembler) query(trigger *database.Message, prompt string, recent []*database.Message) string {
	head := strings.TrimSpace(prompt)
	if head == "" {
		head = trigger.Render()
	}
	n := min(a.cfg.QueryRollup, len(recent))
	if n <= 0 {
		return head
	}
	lines := []string{head}
	for _, m := range recent[len(recent)-n:] {
		if text := m.Render(); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) retrieve(ctx context.Context, cc *ConversationContext) error {
	if a.cfg.TopK <= 0 || a.index == nil || a.embedder == nil || strings.TrimSpace(cc.Query) == "" {
		return nil
	}

	var vector []float32
	err := a.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		return a.embed(ctx, cc.Query, &vector)
	})
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	chunks, err := a.index.Search(ctx, cc.Trigger.GroupID, vector, a.cfg.TopK)
	if err != nil {
		return fmt.Errorf("search knowledge: %w", err)
	}
	cc.Knowledge = chunks
	a.log.DebugContext(ctx, "Knowledge retrieved", "group_id", cc.Trigger.GroupID, "chunks", len(chunks))
	return nil
}

func (a *Assembler) embed(ctx context.Context, text string, out *[]float32) error {
	call := func(ctx context.Context) error {
		if a.cfg.EmbedTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.EmbedTimeout)
			defer cancel()
		}
		v, err := a.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		*out = v
		return nil
	}
	if a.breaker == nil {
		return call(ctx)
	}
	return a.breaker.Execute(ctx, call)
}

// truncate enforces MaxContextChars: the oldest recent messages go first,
// then the lowest ranked chunks. The trigger is always kept.
func (a *Assembler) truncate(cc *ConversationContext) {
	budget := a.cfg.MaxContextChars
	if budget <= 0 {
		return
	}

	size := utf8.RuneCountInString(triggerLine(cc))
	recentCost := make([]int, len(cc.Recent))
	for i, m := range cc.Recent {
		recentCost[i] = utf8.RuneCountInString(renderLine(m))
		size += recentCost[i]
	}
	chunkCost := make([]int, len(cc.Knowledge))
	for i, c := range cc.Knowledge {
		chunkCost[i] = utf8.RuneCountInString(c.Chunk.Text)
		size += chunkCost[i]
	}

	dropped := 0
	for size > budget && dropped < len(cc.Recent) {
		size -= recentCost[dropped]
		dropped++
	}
	cc.Recent = cc.Recent[dropped:]

	keep := len(cc.Knowledge)
	for size > budget && keep > 0 {
		keep--
		size -= chunkCost[keep]
	}
	if keep < len(cc.Knowledge) || dropped > 0 {
		a.log.Debug("Context truncated",
			"group_id", cc.Trigger.GroupID,
			"dropped_recent", dropped,
			"dropped_chunks", len(cc.Knowledge)-keep,
		)
	}
	cc.Knowledge = cc.Knowledge[:keep]
}
