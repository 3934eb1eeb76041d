package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrStoreUnavailable wraps any failure of the underlying database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidMessage is returned when a message is missing required fields.
	ErrInvalidMessage = errors.New("invalid message")
)

const maxRecentLimit = 500

// MessageStore is the durable record of every observed group message.
type MessageStore interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Append stores msg unless (GroupID, ID) already exists. It returns the
	// stored message, which is the existing one on a duplicate, and whether a
	// new row was written.
	Append(ctx context.Context, msg *Message) (*Message, bool, error)

	// Get returns the message or nil, nil when it is not stored.
	Get(ctx context.Context, groupID, id string) (*Message, error)

	// Recent returns at most limit messages of the group with a timestamp not
	// after before, in ascending chronological order.
	Recent(ctx context.Context, groupID string, before time.Time, limit int) ([]*Message, error)

	// Since returns at most limit messages of the group stored after the
	// cursor, ordered by (timestamp, seq). Paging with the cursor of the last
	// returned message never skips messages that share a timestamp.
	Since(ctx context.Context, groupID string, after Cursor, limit int) ([]*Message, error)

	// Groups lists every group with at least one stored message.
	Groups(ctx context.Context) ([]string, error)

	// Cursor returns the named cursor of a group, zero when unset.
	Cursor(ctx context.Context, groupID, name string) (Cursor, error)

	// SetCursor moves the named cursor of a group.
	SetCursor(ctx context.Context, groupID, name string, c Cursor) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a MessageStore backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) MessageStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "message_store"),
		now:    time.Now,
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// wrap logs a database error and tags it as ErrStoreUnavailable. Context
// expiry is passed through untouched so callers can tell deadlines apart.
func (s *sqlxStore) wrap(ctx context.Context, op string, err error, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context done during store operation", append([]any{"op", op, "error", err}, args...)...)
		return err
	}
	s.logger.ErrorContext(ctx, "Store operation failed", append([]any{"op", op, "error", err}, args...)...)
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func validateMessage(msg *Message) error {
	switch {
	case msg == nil:
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	case msg.GroupID == "":
		return fmt.Errorf("%w: empty group id", ErrInvalidMessage)
	case msg.ID == "":
		return fmt.Errorf("%w: empty message id", ErrInvalidMessage)
	case msg.SenderID == "":
		return fmt.Errorf("%w: empty sender id", ErrInvalidMessage)
	case msg.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidMessage)
	case msg.MediaKind != "" && !msg.MediaKind.Valid():
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidMessage, msg.MediaKind)
	}
	return nil
}

const selectMessageColumns = `seq, group_id, message_id, sender_id, sender_name, timestamp_ms, body, media_kind, is_from_bot, reply_to_id, created_at_ms`

func (s *sqlxStore) Append(ctx context.Context, msg *Message) (*Message, bool, error) {
	if err := validateMessage(msg); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, s.wrap(ctx, "append.begin", err, "group_id", msg.GroupID, "message_id", msg.ID)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	row := newMessageRow(msg, s.now())
	result, err := tx.NamedExecContext(ctx, `
        INSERT INTO messages (group_id, message_id, sender_id, sender_name, timestamp_ms, body, media_kind, is_from_bot, reply_to_id, created_at_ms)
        VALUES (:group_id, :message_id, :sender_id, :sender_name, :timestamp_ms, :body, :media_kind, :is_from_bot, :reply_to_id, :created_at_ms)
        ON CONFLICT (group_id, message_id) DO NOTHING;
    `, row)
	if err != nil {
		return nil, false, s.wrap(ctx, "append.insert", err, "group_id", msg.GroupID, "message_id", msg.ID)
	}

	var stored messageRow
	err = tx.GetContext(ctx, &stored,
		`SELECT `+selectMessageColumns+` FROM messages WHERE group_id = ? AND message_id = ?;`,
		msg.GroupID, msg.ID)
	if err != nil {
		return nil, false, s.wrap(ctx, "append.select", err, "group_id", msg.GroupID, "message_id", msg.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, s.wrap(ctx, "append.commit", err, "group_id", msg.GroupID, "message_id", msg.ID)
	}

	inserted := true
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		inserted = false
		s.logger.DebugContext(ctx, "Duplicate message ignored", "group_id", msg.GroupID, "message_id", msg.ID)
	} else {
		s.logger.DebugContext(ctx, "Message appended", "group_id", msg.GroupID, "message_id", msg.ID, "seq", stored.Seq)
	}
	return stored.toMessage(), inserted, nil
}

func (s *sqlxStore) Get(ctx context.Context, groupID, id string) (*Message, error) {
	if groupID == "" || id == "" {
		return nil, nil
	}
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+selectMessageColumns+` FROM messages WHERE group_id = ? AND message_id = ?;`,
		groupID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(ctx, "get", err, "group_id", groupID, "message_id", id)
	}
	return row.toMessage(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

func (s *sqlxStore) Recent(ctx context.Context, groupID string, before time.Time, limit int) ([]*Message, error) {
	limit = clampLimit(limit)
	if limit == 0 {
		return nil, nil
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
        SELECT `+selectMessageColumns+`
        FROM messages
        WHERE group_id = ? AND timestamp_ms <= ?
        ORDER BY timestamp_ms DESC, seq DESC
        LIMIT ?;
    `, groupID, before.UnixMilli(), limit)
	if err != nil {
		return nil, s.wrap(ctx, "recent", err, "group_id", groupID, "limit", limit)
	}

	messages := make([]*Message, len(rows))
	for i, r := range rows {
		messages[len(rows)-1-i] = r.toMessage()
	}
	s.logger.DebugContext(ctx, "Fetched recent messages", "group_id", groupID, "count", len(messages))
	return messages, nil
}

func (s *sqlxStore) Since(ctx context.Context, groupID string, after Cursor, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	at := after.At.UnixMilli()
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
        SELECT `+selectMessageColumns+`
        FROM messages
        WHERE group_id = ? AND (timestamp_ms > ? OR (timestamp_ms = ? AND seq > ?))
        ORDER BY timestamp_ms ASC, seq ASC
        LIMIT ?;
    `, groupID, at, at, after.Seq, limit)
	if err != nil {
		return nil, s.wrap(ctx, "since", err, "group_id", groupID)
	}

	messages := make([]*Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}

func (s *sqlxStore) Groups(ctx context.Context) ([]string, error) {
	var groups []string
	if err := s.db.SelectContext(ctx, &groups, `SELECT DISTINCT group_id FROM messages ORDER BY group_id;`); err != nil {
		return nil, s.wrap(ctx, "groups", err)
	}
	return groups, nil
}

func (s *sqlxStore) Cursor(ctx context.Context, groupID, name string) (Cursor, error) {
	var row struct {
		AtMS int64 `db:"at_ms"`
		Seq  int64 `db:"seq"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT at_ms, seq FROM group_cursors WHERE group_id = ? AND name = ?;`, groupID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, s.wrap(ctx, "cursor", err, "group_id", groupID, "cursor", name)
	}
	return Cursor{At: time.UnixMilli(row.AtMS).UTC(), Seq: row.Seq}, nil
}

func (s *sqlxStore) SetCursor(ctx context.Context, groupID, name string, c Cursor) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO group_cursors (group_id, name, at_ms, seq) VALUES (?, ?, ?, ?)
        ON CONFLICT (group_id, name) DO UPDATE SET at_ms = excluded.at_ms, seq = excluded.seq;
    `, groupID, name, c.At.UnixMilli(), c.Seq)
	if err != nil {
		return s.wrap(ctx, "set_cursor", err, "group_id", groupID, "cursor", name)
	}
	s.logger.DebugContext(ctx, "Cursor moved", "group_id", groupID, "cursor", name, "at", c.At, "seq", c.Seq)
	return nil
}

// RunSQLMaintenance executes VACUUM and ANALYZE. VACUUM must run outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context done before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance")
	start := time.Now()

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return s.wrap(ctx, "vacuum", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE;"); err != nil {
		s.logger.WarnContext(ctx, "ANALYZE failed after VACUUM", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(start))
	return nil
}
