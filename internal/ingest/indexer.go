package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/resilience"
)

// minIndexedChars skips greetings and reactions that carry no knowledge.
const minIndexedChars = 24

// MessageIndexer embeds single messages as they are stored.
type MessageIndexer struct {
	index    database.KnowledgeIndex
	embedder llm.Embedder
	retry    resilience.Policy
	log      *slog.Logger
}

// NewMessageIndexer creates a MessageIndexer.
func NewMessageIndexer(index database.KnowledgeIndex, embedder llm.Embedder, retry resilience.Policy, log *slog.Logger) *MessageIndexer {
	if log == nil {
		log = slog.Default()
	}
	if retry.Retryable == nil {
		retry.Retryable = llm.IsTransient
	}
	return &MessageIndexer{index: index, embedder: embedder, retry: retry, log: log.With("component", "message_indexer")}
}

// IndexMessage adds msg to the index. Short messages are skipped.
func (x *MessageIndexer) IndexMessage(ctx context.Context, msg *database.Message) error {
	text := msg.Render()
	if utf8.RuneCountInString(text) < minIndexedChars {
		return nil
	}
	doc := msg.SenderName + ": " + text

	var vectors [][]float32
	err := x.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		vectors, err = x.embedder.EmbedBatch(ctx, []string{doc})
		return err
	})
	if err != nil {
		return fmt.Errorf("embed message: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("%w: got %d for 1 document", ErrNoEmbeddings, len(vectors))
	}

	err = x.index.Add(ctx, &database.KnowledgeChunk{
		GroupID:          msg.GroupID,
		SourceKey:        "msg:" + msg.GroupID + ":" + msg.ID,
		SourceMessageIDs: []string{msg.ID},
		Text:             doc,
		Embedding:        vectors[0],
	})
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	x.log.DebugContext(ctx, "Message indexed", "group_id", msg.GroupID, "message_id", msg.ID)
	return nil
}
