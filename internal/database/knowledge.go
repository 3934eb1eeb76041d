package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrDimensionMismatch is returned when a vector does not match the
// configured embedding dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// KnowledgeIndex stores embedded knowledge chunks and answers group-scoped
// similarity queries.
type KnowledgeIndex interface {
	// Add stores chunks. Missing IDs and creation times are filled in.
	Add(ctx context.Context, chunks ...*KnowledgeChunk) error

	// Search returns up to topK chunks of the group ordered by similarity,
	// newest first among equal scores. Superseded chunks are never returned.
	Search(ctx context.Context, groupID string, query []float32, topK int) ([]ScoredChunk, error)

	// Count returns the number of current (non-superseded) chunks of a group.
	Count(ctx context.Context, groupID string) (int, error)

	// Dimensions is the fixed vector size accepted by the index.
	Dimensions() int
}

type sqlxKnowledgeIndex struct {
	db         *sqlx.DB
	dimensions int
	logger     *slog.Logger
	now        func() time.Time
}

// NewKnowledgeIndex creates a KnowledgeIndex over the knowledge_chunks table.
func NewKnowledgeIndex(db *sqlx.DB, dimensions int, logger *slog.Logger) KnowledgeIndex {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxKnowledgeIndex{
		db:         db,
		dimensions: dimensions,
		logger:     logger.With("component", "knowledge_index"),
		now:        time.Now,
	}
}

func (k *sqlxKnowledgeIndex) Dimensions() int { return k.dimensions }

func (k *sqlxKnowledgeIndex) Add(ctx context.Context, chunks ...*KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]chunkRow, 0, len(chunks))
	for _, c := range chunks {
		if c == nil || c.GroupID == "" || c.SourceKey == "" {
			return fmt.Errorf("knowledge chunk requires group id and source key")
		}
		if len(c.Embedding) != k.dimensions {
			return fmt.Errorf("%w: chunk has %d, index expects %d", ErrDimensionMismatch, len(c.Embedding), k.dimensions)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = k.now().UTC()
		}

		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		ids := c.SourceMessageIDs
		if ids == nil {
			ids = []string{}
		}
		idsJSON, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("failed to serialize source message ids: %w", err)
		}

		rows = append(rows, chunkRow{
			ID:               c.ID,
			GroupID:          c.GroupID,
			SourceKey:        c.SourceKey,
			SourceMessageIDs: string(idsJSON),
			Text:             c.Text,
			Embedding:        string(vec),
			Dimensions:       len(c.Embedding),
			CreatedAtMS:      c.CreatedAt.UnixMilli(),
		})
	}

	tx, err := k.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin add: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			k.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	for _, row := range rows {
		_, err := tx.NamedExecContext(ctx, `
            INSERT INTO knowledge_chunks (id, group_id, source_key, source_message_ids, text, embedding, dimensions, created_at_ms)
            VALUES (:id, :group_id, :source_key, :source_message_ids, :text, :embedding, :dimensions, :created_at_ms);
        `, row)
		if err != nil {
			k.logger.ErrorContext(ctx, "Failed to add knowledge chunk", "chunk_id", row.ID, "group_id", row.GroupID, "error", err)
			return fmt.Errorf("%w: add knowledge chunk: %w", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit knowledge chunks: %w", ErrStoreUnavailable, err)
	}

	k.logger.DebugContext(ctx, "Knowledge chunks added", "count", len(rows))
	return nil
}

// currentChunksQuery selects the newest chunk per source key of one group.
const currentChunksQuery = `
    SELECT k.id, k.group_id, k.source_key, k.source_message_ids, k.text, k.embedding, k.dimensions, k.created_at_ms
    FROM knowledge_chunks k
    WHERE k.group_id = ?
      AND NOT EXISTS (
        SELECT 1 FROM knowledge_chunks n
        WHERE n.group_id = k.group_id
          AND n.source_key = k.source_key
          AND (n.created_at_ms > k.created_at_ms
               OR (n.created_at_ms = k.created_at_ms AND n.rowid > k.rowid))
      )`

func (k *sqlxKnowledgeIndex) Search(ctx context.Context, groupID string, query []float32, topK int) ([]ScoredChunk, error) {
	if len(query) != k.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), k.dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}

	var rows []chunkRow
	if err := k.db.SelectContext(ctx, &rows, currentChunksQuery+";", groupID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		k.logger.ErrorContext(ctx, "Failed to load knowledge chunks", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("%w: search knowledge: %w", ErrStoreUnavailable, err)
	}

	scored := make([]ScoredChunk, 0, len(rows))
	for _, r := range rows {
		if r.Dimensions != k.dimensions {
			k.logger.WarnContext(ctx, "Skipping chunk with foreign dimensionality", "chunk_id", r.ID, "dimensions", r.Dimensions)
			continue
		}
		chunk, err := r.toChunk()
		if err != nil {
			k.logger.WarnContext(ctx, "Skipping undecodable chunk", "chunk_id", r.ID, "error", err)
			continue
		}
		sim, err := CosineSimilarity(query, chunk.Embedding)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: sim})
	}

	SortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}

	k.logger.DebugContext(ctx, "Knowledge search completed", "group_id", groupID, "candidates", len(rows), "returned", len(scored))
	return scored, nil
}

func (k *sqlxKnowledgeIndex) Count(ctx context.Context, groupID string) (int, error) {
	var n int
	err := k.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM (`+currentChunksQuery+`);`, groupID)
	if err != nil {
		return 0, fmt.Errorf("%w: count knowledge: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (r chunkRow) toChunk() (*KnowledgeChunk, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(r.Embedding), &vec); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.SourceMessageIDs), &ids); err != nil {
		return nil, fmt.Errorf("decode source ids: %w", err)
	}
	return &KnowledgeChunk{
		ID:               r.ID,
		GroupID:          r.GroupID,
		SourceKey:        r.SourceKey,
		SourceMessageIDs: ids,
		Text:             r.Text,
		Embedding:        vec,
		CreatedAt:        time.UnixMilli(r.CreatedAtMS).UTC(),
	}, nil
}

// SortScored orders chunks by similarity descending, then newer CreatedAt
// first, then ID for a stable result.
func SortScored(scored []ScoredChunk) {
	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		if c := b.Chunk.CreatedAt.Compare(a.Chunk.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Chunk.ID < b.Chunk.ID:
			return -1
		case a.Chunk.ID > b.Chunk.ID:
			return 1
		}
		return 0
	})
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aMag += x * x
		bMag += y * y
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
