package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/pipeline"
	"github.com/edgard/groupmind/internal/resilience"
)

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var botID = mention.Identity{UserID: "999", Username: "GroupMindBot"}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return db
}

type scriptedProvider struct {
	mu      sync.Mutex
	answer  string
	errs    []error
	prompts []llm.Prompt
}

func (p *scriptedProvider) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.prompts)
	p.prompts = append(p.prompts, prompt)
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	return p.answer, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type sentText struct {
	GroupID, Text, ReplyTo string
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sentText
}

func (f *fakeSender) SendText(ctx context.Context, groupID, text, replyTo string) (pipeline.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pipeline.SentMessage{}, f.err
	}
	f.sent = append(f.sent, sentText{GroupID: groupID, Text: text, ReplyTo: replyTo})
	return pipeline.SentMessage{ID: fmt.Sprintf("bot-%d", len(f.sent))}, nil
}

func (f *fakeSender) Sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type harness struct {
	store      database.MessageStore
	provider   *scriptedProvider
	sender     *fakeSender
	summarizer *Summarizer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:    database.NewStore(newTestDB(t), nil),
		provider: &scriptedProvider{answer: "Quick recap: Ana booked Riverside Hall."},
		sender:   &fakeSender{},
	}
	dispatcher := pipeline.NewDispatcher(h.sender, h.store, botID, pipeline.DispatchConfig{SendTimeout: time.Second}, nil)
	policy := resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h.summarizer = New(h.store, h.provider, dispatcher, policy, cfg, nil)
	h.summarizer.now = func() time.Time { return baseTime.Add(2 * time.Hour) }
	return h
}

func (h *harness) seed(t *testing.T, group string, first, n int, offset time.Duration) {
	t.Helper()
	for i := first; i < first+n; i++ {
		_, _, err := h.store.Append(context.Background(), &database.Message{
			ID: fmt.Sprintf("%s-%d", group, i), GroupID: group, SenderID: "u-ana", SenderName: "Ana",
			Timestamp: baseTime.Add(offset), Body: fmt.Sprintf("line %d about the reunion", i),
		})
		require.NoError(t, err)
	}
}

func TestSummarizeGroup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{MinMessages: 7})

	h.seed(t, "g1", 1, 8, 0)
	for _, m := range []*database.Message{
		{ID: "b1", GroupID: "g1", SenderID: botID.UserID, Timestamp: baseTime, Body: "earlier bot answer", IsFromBot: true},
		{ID: "c1", GroupID: "g1", SenderID: "u-ben", SenderName: "Ben", Timestamp: baseTime, Body: "/summary"},
	} {
		_, _, err := h.store.Append(ctx, m)
		require.NoError(t, err)
	}

	res, err := h.summarizer.SummarizeGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, Result{GroupID: "g1", Messages: 8, PostedID: "bot-1"}, res)
	require.Equal(t, []sentText{{GroupID: "g1", Text: "Quick recap: Ana booked Riverside Hall."}}, h.sender.Sent())

	transcript := h.provider.prompts[0].Turns[0].Text
	assert.Contains(t, transcript, "Ana: line 1 about the reunion")
	assert.Contains(t, transcript, "Ana: line 8 about the reunion")
	assert.NotContains(t, transcript, "earlier bot answer")
	assert.NotContains(t, transcript, "/summary")

	posted, err := h.store.Get(ctx, "g1", "bot-1")
	require.NoError(t, err)
	require.NotNil(t, posted)
	assert.True(t, posted.IsFromBot)

	cursor, err := h.store.Cursor(ctx, "g1", database.CursorSummary)
	require.NoError(t, err)
	assert.False(t, cursor.IsZero())

	// Nothing new: skipped without calling the model.
	res, err = h.summarizer.SummarizeGroup(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, h.provider.calls())

	// Only the new messages make the next summary, even in the same second.
	h.seed(t, "g1", 9, 7, 0)
	res, err = h.summarizer.SummarizeGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Messages)
	next := h.provider.prompts[1].Turns[0].Text
	assert.Contains(t, next, "line 9 about")
	assert.NotContains(t, next, "line 8 about")
}

func TestSummarizeGroup_Skips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		n      int
		offset time.Duration
	}{
		{name: "below minimum", n: 6},
		{name: "outside window", n: 10, offset: -48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{MinMessages: 7, Window: 24 * time.Hour})
			h.seed(t, "g1", 1, tt.n, tt.offset)

			res, err := h.summarizer.SummarizeGroup(context.Background(), "g1")
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			assert.Zero(t, h.provider.calls())
			assert.Empty(t, h.sender.Sent())
		})
	}
}

func TestSummarizeGroup_Failures(t *testing.T) {
	t.Parallel()

	t.Run("transient error retried", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{MinMessages: 1})
		h.provider.errs = []error{llm.Transient(503, errors.New("overloaded"))}
		h.seed(t, "g1", 1, 3, 0)

		res, err := h.summarizer.SummarizeGroup(context.Background(), "g1")
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, 2, h.provider.calls())
		assert.Len(t, h.sender.Sent(), 1)
	})

	cases := []struct {
		name    string
		prepare func(h *harness)
		wantErr error
	}{
		{
			name:    "permanent provider error",
			prepare: func(h *harness) { h.provider.errs = []error{llm.Permanent(400, errors.New("bad request"))} },
			wantErr: llm.ErrPermanent,
		},
		{
			name:    "empty answer",
			prepare: func(h *harness) { h.provider.answer = "   " },
			wantErr: ErrEmptySummary,
		},
		{
			name:    "send failure",
			prepare: func(h *harness) { h.sender.err = errors.New("network down") },
			wantErr: pipeline.ErrSendFailed,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{MinMessages: 1})
			tt.prepare(h)
			h.seed(t, "g1", 1, 3, 0)

			_, err := h.summarizer.SummarizeGroup(context.Background(), "g1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.sender.Sent())

			cursor, err := h.store.Cursor(context.Background(), "g1", database.CursorSummary)
			require.NoError(t, err)
			assert.True(t, cursor.IsZero(), "cursor moves only after delivery")
		})
	}
}

func TestRecap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("replies with the last window", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{MinMessages: 7, Window: 24 * time.Hour})
		h.seed(t, "g1", 1, 2, -30*time.Hour)
		h.seed(t, "g1", 3, 2, 0)

		res, err := h.summarizer.Recap(ctx, "g1", "g1-4")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Messages, "the minimum applies to scheduled summaries only")
		assert.Equal(t, []sentText{{GroupID: "g1", Text: "Quick recap: Ana booked Riverside Hall.", ReplyTo: "g1-4"}}, h.sender.Sent())
		transcript := h.provider.prompts[0].Turns[0].Text
		assert.NotContains(t, transcript, "line 1 about")

		cursor, err := h.store.Cursor(ctx, "g1", database.CursorSummary)
		require.NoError(t, err)
		assert.True(t, cursor.IsZero())
	})

	t.Run("quiet group", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		res, err := h.summarizer.Recap(ctx, "g1", "m1")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Zero(t, h.provider.calls())
		assert.Equal(t, []sentText{{GroupID: "g1", Text: quietRecap, ReplyTo: "m1"}}, h.sender.Sent())
	})
}

func TestSummarizeAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MinMessages: 3, Concurrency: 2})
	h.seed(t, "g1", 1, 4, 0)
	h.seed(t, "g2", 1, 1, 0)

	results, err := h.summarizer.SummarizeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byGroup := map[string]Result{}
	for _, r := range results {
		byGroup[r.GroupID] = r
	}
	assert.False(t, byGroup["g1"].Skipped)
	assert.True(t, byGroup["g2"].Skipped)
	assert.Len(t, h.sender.Sent(), 1)
}

func TestCleanSummary(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "recap", cleanSummary("  recap \n", 0))
	assert.Equal(t, "héll", cleanSummary("héllo", 4))
	assert.Equal(t, strings.Repeat("a", 10), cleanSummary(strings.Repeat("a", 20), 10))
}
