package database

import (
	"database/sql"
	"strings"
	"time"
)

// MediaKind classifies non-text content attached to a message.
type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaLink     MediaKind = "link"
)

// Valid reports whether k is a known media kind. The zero value is not valid;
// callers normalise it to MediaNone first.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaNone, MediaImage, MediaAudio, MediaVideo, MediaDocument, MediaLink:
		return true
	default:
		return false
	}
}

// Caption returns the placeholder rendered in place of the attachment, or ""
// for plain text messages.
func (k MediaKind) Caption() string {
	switch k {
	case MediaImage:
		return "[[Attached Image]]"
	case MediaAudio:
		return "[[Attached Audio]]"
	case MediaVideo:
		return "[[Attached Video]]"
	case MediaDocument:
		return "[[Attached Document]]"
	case MediaLink:
		return "[[Attached Link]]"
	default:
		return ""
	}
}

// Message is one observed group message, inbound or sent by the bot.
// (GroupID, ID) is unique. ReplyToID is a soft reference to another message in
// the same group and may point at a message that was never stored.
type Message struct {
	ID         string
	GroupID    string
	SenderID   string
	SenderName string
	Timestamp  time.Time
	Body       string
	MediaKind  MediaKind
	IsFromBot  bool
	ReplyToID  string
	// Seq is the storage order, set by the store.
	Seq int64
}

// Cursor is a position in a group's stored history. Messages sharing a
// timestamp are told apart by Seq.
type Cursor struct {
	At  time.Time
	Seq int64
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.At.IsZero() && c.Seq == 0 }

// NotBefore returns c, or a cursor at t when c lies before t.
func (c Cursor) NotBefore(t time.Time) Cursor {
	if c.At.Before(t) {
		return Cursor{At: t}
	}
	return c
}

// CursorOf returns the cursor that points at m.
func CursorOf(m *Message) Cursor { return Cursor{At: m.Timestamp, Seq: m.Seq} }

// Cursor names.
const (
	CursorIngest  = "ingest"
	CursorSummary = "summary"
)

// Render returns the body prefixed with the media caption, if any.
func (m *Message) Render() string {
	caption := m.MediaKind.Caption()
	body := strings.TrimSpace(m.Body)
	switch {
	case caption == "":
		return body
	case body == "":
		return caption
	default:
		return caption + " " + body
	}
}

// KnowledgeChunk is an embedded summary of a slice of group history.
// A newer chunk with the same SourceKey supersedes older ones.
type KnowledgeChunk struct {
	ID               string
	GroupID          string
	SourceKey        string
	SourceMessageIDs []string
	Text             string
	Embedding        []float32
	CreatedAt        time.Time
}

// ScoredChunk pairs a chunk with its cosine similarity to a query.
type ScoredChunk struct {
	Chunk      *KnowledgeChunk
	Similarity float64
}

type messageRow struct {
	Seq         int64          `db:"seq"`
	GroupID     string         `db:"group_id"`
	MessageID   string         `db:"message_id"`
	SenderID    string         `db:"sender_id"`
	SenderName  string         `db:"sender_name"`
	TimestampMS int64          `db:"timestamp_ms"`
	Body        string         `db:"body"`
	MediaKind   string         `db:"media_kind"`
	IsFromBot   bool           `db:"is_from_bot"`
	ReplyToID   sql.NullString `db:"reply_to_id"`
	CreatedAtMS int64          `db:"created_at_ms"`
}

func newMessageRow(m *Message, now time.Time) messageRow {
	kind := m.MediaKind
	if kind == "" {
		kind = MediaNone
	}
	return messageRow{
		GroupID:     m.GroupID,
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		TimestampMS: m.Timestamp.UnixMilli(),
		Body:        m.Body,
		MediaKind:   string(kind),
		IsFromBot:   m.IsFromBot,
		ReplyToID:   sql.NullString{String: m.ReplyToID, Valid: m.ReplyToID != ""},
		CreatedAtMS: now.UnixMilli(),
	}
}

func (r messageRow) toMessage() *Message {
	return &Message{
		ID:         r.MessageID,
		GroupID:    r.GroupID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Timestamp:  time.UnixMilli(r.TimestampMS).UTC(),
		Body:       r.Body,
		MediaKind:  MediaKind(r.MediaKind),
		IsFromBot:  r.IsFromBot,
		ReplyToID:  r.ReplyToID.String,
		Seq:        r.Seq,
	}
}

type chunkRow struct {
	ID               string `db:"id"`
	GroupID          string `db:"group_id"`
	SourceKey        string `db:"source_key"`
	SourceMessageIDs string `db:"source_message_ids"`
	Text             string `db:"text"`
	Embedding        string `db:"embedding"`
	Dimensions       int    `db:"dimensions"`
	CreatedAtMS      int64  `db:"created_at_ms"`
}
