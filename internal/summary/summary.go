// Package summary writes short recaps of group conversations and posts them
// back to the group, either on a schedule or when someone asks for one.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
)

// ErrEmptySummary is returned when the model answers with no text.
var ErrEmptySummary = errors.New("empty summary")

// Poster delivers a message to a group and records it.
type Poster interface {
	Send(ctx context.Context, groupID, text, replyTo string) (*database.Message, error)
}

// Config bounds a summary.
type Config struct {
	// Window is how far back a summary looks.
	Window      time.Duration
	MinMessages int
	MaxMessages int
	MaxChars    int
	Concurrency int
	CallTimeout time.Duration
}

// Result describes the summary of one group.
type Result struct {
	GroupID  string
	Messages int
	Skipped  bool
	// PostedID is the id of the posted summary message.
	PostedID string
}

// Summarizer writes and posts group summaries.
type Summarizer struct {
	store    database.MessageStore
	provider llm.Provider
	poster   Poster
	retry    resilience.Policy
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Summarizer. The retry policy's predicate defaults to
// llm.IsTransient.
func New(
	store database.MessageStore,
	provider llm.Provider,
	poster Poster,
	retry resilience.Policy,
	cfg Config,
	log *slog.Logger,
) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	if retry.Retryable == nil {
		retry.Retryable = llm.IsTransient
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Summarizer{
		store:    store,
		provider: provider,
		poster:   poster,
		retry:    retry,
		cfg:      cfg,
		log:      log.With("component", "summary"),
		now:      time.Now,
	}
}

// SummarizeAll posts the scheduled summary of every known group. A failing
// group does not stop the others.
func (s *Summarizer) SummarizeAll(ctx context.Context) ([]Result, error) {
	groups, err := s.store.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	results := make([]Result, len(groups))
	errs := make([]error, len(groups))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, groupID := range groups {
		g.Go(func() error {
			res, err := s.SummarizeGroup(gCtx, groupID)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("group %s: %w", groupID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	done := results[:0]
	for i, r := range results {
		if errs[i] == nil {
			done = append(done, r)
		}
	}
	return done, errors.Join(errs...)
}

// SummarizeGroup posts a summary of what the group said since its last
// summary, looking back at most Window. Groups with fewer than MinMessages
// new human messages are skipped. The summary cursor only moves after the
// summary was delivered.
func (s *Summarizer) SummarizeGroup(ctx context.Context, groupID string) (Result, error) {
	res := Result{GroupID: groupID}
	log := s.log.With("group_id", groupID)

	cursor, err := s.store.Cursor(ctx, groupID, database.CursorSummary)
	if err != nil {
		return res, fmt.Errorf("read cursor: %w", err)
	}
	msgs, err := s.store.Since(ctx, groupID, cursor.NotBefore(s.now().Add(-s.cfg.Window)), s.cfg.MaxMessages)
	if err != nil {
		return res, fmt.Errorf("load messages: %w", err)
	}

	conversation := humanMessages(msgs)
	res.Messages = len(conversation)
	if len(conversation) == 0 || len(conversation) < s.cfg.MinMessages {
		log.InfoContext(ctx, "Not enough messages to summarize", "messages", len(conversation), "min_messages", s.cfg.MinMessages)
		res.Skipped = true
		return res, nil
	}

	text, err := s.summarize(ctx, conversation)
	if err != nil {
		return res, err
	}
	posted, err := s.post(ctx, groupID, text, "")
	if err != nil {
		return res, err
	}
	res.PostedID = posted.ID

	if err := s.store.SetCursor(ctx, groupID, database.CursorSummary, database.CursorOf(msgs[len(msgs)-1])); err != nil {
		return res, fmt.Errorf("advance cursor: %w", err)
	}
	log.InfoContext(ctx, "Group summary posted", "messages", len(conversation), "message_id", posted.ID)
	return res, nil
}

// Recap answers an explicit request: it summarizes the last Window of the
// group, whatever was summarized before, and posts the result as a reply to
// replyTo. The summary cursor is left alone.
func (s *Summarizer) Recap(ctx context.Context, groupID, replyTo string) (Result, error) {
	res := Result{GroupID: groupID}

	msgs, err := s.store.Since(ctx, groupID, database.Cursor{At: s.now().Add(-s.cfg.Window)}, s.cfg.MaxMessages)
	if err != nil {
		return res, fmt.Errorf("load messages: %w", err)
	}
	conversation := humanMessages(msgs)
	res.Messages = len(conversation)

	text := quietRecap
	if len(conversation) > 0 {
		if text, err = s.summarize(ctx, conversation); err != nil {
			return res, err
		}
	} else {
		res.Skipped = true
	}

	posted, err := s.post(ctx, groupID, text, replyTo)
	if err != nil {
		return res, err
	}
	res.PostedID = posted.ID
	s.log.InfoContext(ctx, "Recap posted", "group_id", groupID, "messages", len(conversation), "message_id", posted.ID)
	return res, nil
}

func (s *Summarizer) summarize(ctx context.Context, msgs []*database.Message) (string, error) {
	prompt := summaryPrompt(msgs)

	var text string
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if s.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
		}
		raw, err := s.provider.Complete(callCtx, prompt)
		if err != nil {
			return err
		}
		text = cleanSummary(raw, s.cfg.MaxChars)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}

// post sends text. A summary that was delivered but could not be recorded
// still counts as posted.
func (s *Summarizer) post(ctx context.Context, groupID, text, replyTo string) (*database.Message, error) {
	posted, err := s.poster.Send(ctx, groupID, text, replyTo)
	if err == nil {
		return posted, nil
	}
	if posted == nil {
		return nil, fmt.Errorf("post summary: %w", err)
	}
	s.log.WarnContext(ctx, "Summary posted but not recorded", "group_id", groupID, "error", err)
	return posted, nil
}
