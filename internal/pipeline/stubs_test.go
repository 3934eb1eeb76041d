package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/resilience"
)

var (
	baseTime = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	botID    = mention.Identity{UserID: "999", Username: "GroupMindBot"}
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return db
}

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Retryable:   llm.IsTransient,
	}
}

// stubProvider answers with a fixed script. Each call pops the next step; the
// last step repeats.
type stubProvider struct {
	mu      sync.Mutex
	steps   []func(ctx context.Context, p llm.Prompt) (string, error)
	calls   int
	prompts []llm.Prompt
}

func (s *stubProvider) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	s.mu.Lock()
	step := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	return step(ctx, p)
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func reply(text string) func(context.Context, llm.Prompt) (string, error) {
	return func(context.Context, llm.Prompt) (string, error) { return text, nil }
}

func fail(err error) func(context.Context, llm.Prompt) (string, error) {
	return func(context.Context, llm.Prompt) (string, error) { return "", err }
}

func hang(ctx context.Context, _ llm.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// stubEmbedder maps texts to vectors by keyword so tests control similarity.
type stubEmbedder struct {
	mu    sync.Mutex
	dims  int
	err   error
	calls int
	rules map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	lower := strings.ToLower(text)
	for kw, v := range s.rules {
		if strings.Contains(lower, kw) {
			return v, nil
		}
	}
	v := make([]float32, s.dims)
	v[s.dims-1] = 1
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

type sentText struct {
	GroupID, Text, ReplyTo string
}

type stubSender struct {
	mu      sync.Mutex
	errs    []error
	sent    []sentText
	attempt int
	typing  int
	nextID  int
}

func (s *stubSender) SendText(ctx context.Context, groupID, text, replyTo string) (SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return SentMessage{}, err
		}
	}
	s.nextID++
	s.sent = append(s.sent, sentText{GroupID: groupID, Text: text, ReplyTo: replyTo})
	return SentMessage{ID: fmt.Sprintf("bot-%d", s.nextID), Timestamp: baseTime.Add(time.Minute)}, nil
}

func (s *stubSender) NotifyTyping(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
	return nil
}

func (s *stubSender) Sent() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentText(nil), s.sent...)
}

type countingBuilder struct{ calls int }

func (c *countingBuilder) Build(ctx context.Context, trigger *database.Message, prompt string) (*ConversationContext, error) {
	c.calls++
	return &ConversationContext{Trigger: trigger, Prompt: prompt}, nil
}

type countingGenerator struct{ calls int }

func (c *countingGenerator) Generate(ctx context.Context, cc *ConversationContext) (*GeneratedReply, error) {
	c.calls++
	return &GeneratedReply{Text: "ok", Calls: 1}, nil
}

type recordingIndexer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingIndexer) IndexMessage(ctx context.Context, msg *database.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, msg.ID)
	return nil
}

func userMsg(group, id, name string, offset time.Duration, body string) *database.Message {
	return &database.Message{
		ID:         id,
		GroupID:    group,
		SenderID:   "u-" + strings.ToLower(name),
		SenderName: name,
		Timestamp:  baseTime.Add(offset),
		Body:       body,
		MediaKind:  database.MediaNone,
	}
}
