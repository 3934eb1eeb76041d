// Package pipeline turns one inbound group message into, at most, one reply:
// record the message, decide whether the bot was addressed, assemble the
// conversation and knowledge context, generate a reply and dispatch it.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/mention"
)

// Event is a normalised inbound message, independent of the transport.
type Event struct {
	GroupID    string             `json:"group_id"`
	MessageID  string             `json:"message_id"`
	SenderID   string             `json:"sender_id"`
	SenderName string             `json:"sender_name"`
	Timestamp  time.Time          `json:"timestamp"`
	Text       string             `json:"text"`
	MediaKind  database.MediaKind `json:"media_kind,omitempty"`
	IsFromBot  bool               `json:"is_from_bot,omitempty"`
	Entities   []mention.Entity   `json:"entities,omitempty"`

	ReplyToID string `json:"reply_to_id,omitempty"`
	// ReplyToSenderID and ReplyToIsBot describe the replied-to message as the
	// transport saw it. They are used when the target is not stored.
	ReplyToSenderID string `json:"reply_to_sender_id,omitempty"`
	ReplyToIsBot    bool   `json:"reply_to_is_bot,omitempty"`
}

// DecodeEvent parses a JSON event. Unknown fields are ignored and an unknown
// media kind is read as a document attachment.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev.MediaKind = normalizeMediaKind(ev.MediaKind)
	return ev, nil
}

func normalizeMediaKind(k database.MediaKind) database.MediaKind {
	k = database.MediaKind(strings.ToLower(strings.TrimSpace(string(k))))
	switch {
	case k == "":
		return database.MediaNone
	case k.Valid():
		return k
	default:
		return database.MediaDocument
	}
}

// Message converts the event to the stored representation.
func (e Event) Message() *database.Message {
	return &database.Message{
		ID:         e.MessageID,
		GroupID:    e.GroupID,
		SenderID:   e.SenderID,
		SenderName: e.SenderName,
		Timestamp:  e.Timestamp,
		Body:       e.Text,
		MediaKind:  normalizeMediaKind(e.MediaKind),
		IsFromBot:  e.IsFromBot,
		ReplyToID:  e.ReplyToID,
	}
}
