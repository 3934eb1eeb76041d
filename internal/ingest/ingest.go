// Package ingest builds the knowledge index from stored group history.
//
// A run takes the messages of a group since its last ingestion, asks the
// language model to split them into topics, embeds one summary per topic and
// writes the chunks to the index before advancing the group's cursor.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
)

// ErrNoEmbeddings is returned when the embedder answers with the wrong
// number of vectors.
var ErrNoEmbeddings = errors.New("embedding count mismatch")

// Config bounds an ingestion run.
type Config struct {
	Lookback    time.Duration
	BatchSize   int
	MinMessages int
	MaxMessages int
	// Concurrency limits how many groups are ingested at once.
	Concurrency int
	CallTimeout time.Duration
}

// Result describes the ingestion of one group.
type Result struct {
	GroupID  string
	Messages int
	Topics   int
	Skipped  bool
}

// Ingester runs knowledge ingestion.
type Ingester struct {
	store    database.MessageStore
	index    database.KnowledgeIndex
	provider llm.Provider
	embedder llm.Embedder
	retry    resilience.Policy
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates an Ingester. The retry policy's predicate defaults to
// llm.IsTransient.
func New(
	store database.MessageStore,
	index database.KnowledgeIndex,
	provider llm.Provider,
	embedder llm.Embedder,
	retry resilience.Policy,
	cfg Config,
	log *slog.Logger,
) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	if retry.Retryable == nil {
		retry.Retryable = llm.IsTransient
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Ingester{
		store:    store,
		index:    index,
		provider: provider,
		embedder: embedder,
		retry:    retry,
		cfg:      cfg,
		log:      log.With("component", "ingest"),
		now:      time.Now,
	}
}

// IngestAll ingests every known group. A failing group does not stop the
// others; the joined errors are returned with the results that succeeded.
func (in *Ingester) IngestAll(ctx context.Context) ([]Result, error) {
	groups, err := in.store.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	results := make([]Result, len(groups))
	errs := make([]error, len(groups))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i, groupID := range groups {
		g.Go(func() error {
			res, err := in.IngestGroup(gCtx, groupID)
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

// IngestGroup ingests the new messages of one group.
func (in *Ingester) IngestGroup(ctx context.Context, groupID string) (Result, error) {
	res := Result{GroupID: groupID}
	log := in.log.With("group_id", groupID)

	from, err := in.windowStart(ctx, groupID)
	if err != nil {
		return res, err
	}
	msgs, err := in.store.Since(ctx, groupID, from, in.cfg.MaxMessages)
	if err != nil {
		return res, fmt.Errorf("load messages: %w", err)
	}
	res.Messages = len(msgs)
	if len(msgs) == 0 || len(msgs) < in.cfg.MinMessages {
		log.InfoContext(ctx, "Not enough new messages, skipping", "messages", len(msgs), "min_messages", in.cfg.MinMessages)
		res.Skipped = true
		return res, nil
	}

	transcript, speakers := anonymise(msgs)
	topics, err := in.extractTopics(ctx, transcript)
	if err != nil {
		return res, err
	}
	for i := range topics {
		topics[i] = speakers.restoreTopic(topics[i])
	}

	chunks, err := in.embedTopics(ctx, groupID, msgs, topics)
	if err != nil {
		return res, err
	}
	if err := in.index.Add(ctx, chunks...); err != nil {
		return res, fmt.Errorf("store chunks: %w", err)
	}
	if err := in.store.SetCursor(ctx, groupID, database.CursorIngest, database.CursorOf(msgs[len(msgs)-1])); err != nil {
		return res, fmt.Errorf("advance cursor: %w", err)
	}

	res.Topics = len(topics)
	log.InfoContext(ctx, "Group ingested", "messages", len(msgs), "topics", len(topics))
	return res, nil
}

// windowStart is the later of the ingestion cursor and the lookback floor.
func (in *Ingester) windowStart(ctx context.Context, groupID string) (database.Cursor, error) {
	cursor, err := in.store.Cursor(ctx, groupID, database.CursorIngest)
	if err != nil {
		return database.Cursor{}, fmt.Errorf("read cursor: %w", err)
	}
	if in.cfg.Lookback <= 0 {
		return cursor, nil
	}
	return cursor.NotBefore(in.now().Add(-in.cfg.Lookback)), nil
}

func (in *Ingester) extractTopics(ctx context.Context, transcript string) ([]Topic, error) {
	prompt := topicPrompt(transcript)

	var topics []Topic
	err := in.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if in.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, in.cfg.CallTimeout)
			defer cancel()
		}
		raw, err := in.provider.Complete(callCtx, prompt)
		if err != nil {
			return err
		}
		parsed, err := parseTopics(raw)
		if err != nil {
			// A malformed answer may be fixed by asking again.
			return llm.Transient(0, err)
		}
		topics = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract topics: %w", err)
	}
	return topics, nil
}

func (in *Ingester) embedTopics(ctx context.Context, groupID string, msgs []*database.Message, topics []Topic) ([]*database.KnowledgeChunk, error) {
	docs := make([]string, len(topics))
	for i, t := range topics {
		docs[i] = t.Document()
	}
	vectors, err := in.embedDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	start := database.CursorOf(msgs[0])
	now := in.now().UTC()

	chunks := make([]*database.KnowledgeChunk, len(topics))
	for i, t := range topics {
		chunks[i] = &database.KnowledgeChunk{
			GroupID:          groupID,
			SourceKey:        SourceKey(groupID, start, t.Subject),
			SourceMessageIDs: ids,
			Text:             docs[i],
			Embedding:        vectors[i],
			CreatedAt:        now,
		}
	}
	return chunks, nil
}

// embedDocuments embeds docs in batches of BatchSize.
func (in *Ingester) embedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += in.cfg.BatchSize {
		batch := docs[start:min(start+in.cfg.BatchSize, len(docs))]
		var out [][]float32
		err := in.retry.Do(ctx, func(ctx context.Context, attempt int) error {
			var err error
			out, err = in.embedder.EmbedBatch(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed topics: %w", err)
		}
		if len(out) != len(batch) {
			return nil, fmt.Errorf("%w: got %d for %d documents", ErrNoEmbeddings, len(out), len(batch))
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

// SourceKey identifies a topic of a conversation window by the window's first
// message. Re-ingesting the same window yields the same key, so newer chunks
// supersede older ones.
func SourceKey(groupID string, start database.Cursor, subject string) string {
	subject = strings.ToLower(strings.Join(strings.Fields(subject), " "))
	sum := sha256.Sum256([]byte(groupID + "|" + strconv.FormatInt(start.At.UnixMilli(), 10) +
		"|" + strconv.FormatInt(start.Seq, 10) + "|" + subject))
	return hex.EncodeToString(sum[:])
}
