package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/mention"
	"github.com/edgard/groupmind/internal/pipeline"
)

// IsGroupChat reports whether the chat is a group or supergroup.
func IsGroupChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}

// ToEvent converts a new group message into a pipeline event. It reports
// false for anything else: edits, private chats, service messages without a
// sender. selfID is the bot's own user id.
func ToEvent(update *models.Update, selfID int64) (pipeline.Event, bool) {
	if update == nil || update.Message == nil {
		return pipeline.Event{}, false
	}
	msg := update.Message
	if !IsGroupChat(msg.Chat) {
		return pipeline.Event{}, false
	}

	senderID, senderName, fromSelf, ok := sender(msg, selfID)
	if !ok {
		return pipeline.Event{}, false
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}

	ev := pipeline.Event{
		GroupID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:  strconv.Itoa(msg.ID),
		SenderID:   senderID,
		SenderName: senderName,
		Timestamp:  time.Unix(int64(msg.Date), 0).UTC(),
		Text:       text,
		MediaKind:  mediaKind(msg, entities),
		IsFromBot:  fromSelf,
		Entities:   convertEntities(entities),
	}

	if reply := msg.ReplyToMessage; reply != nil && reply.ID != 0 {
		ev.ReplyToID = strconv.Itoa(reply.ID)
		if reply.From != nil {
			ev.ReplyToSenderID = strconv.FormatInt(reply.From.ID, 10)
			ev.ReplyToIsBot = selfID != 0 && reply.From.ID == selfID
		}
	}
	return ev, true
}

// sender identifies who wrote msg. Anonymous admins and channel posts carry
// a sender chat instead of a user.
func sender(msg *models.Message, selfID int64) (id, name string, self, ok bool) {
	if u := msg.From; u != nil {
		return strconv.FormatInt(u.ID, 10), displayName(u), selfID != 0 && u.ID == selfID, true
	}
	if c := msg.SenderChat; c != nil {
		name := c.Title
		if name == "" {
			name = c.Username
		}
		return strconv.FormatInt(c.ID, 10), name, false, true
	}
	return "", "", false, false
}

func displayName(u *models.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.Username
	}
	return name
}

func mediaKind(msg *models.Message, entities []models.MessageEntity) database.MediaKind {
	switch {
	case len(msg.Photo) > 0:
		return database.MediaImage
	case msg.Audio != nil || msg.Voice != nil:
		return database.MediaAudio
	case msg.Video != nil || msg.VideoNote != nil || msg.Animation != nil:
		return database.MediaVideo
	case msg.Document != nil || msg.Sticker != nil:
		return database.MediaDocument
	}
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeURL || e.Type == models.MessageEntityTypeTextLink {
			return database.MediaLink
		}
	}
	return database.MediaNone
}

// convertEntities keeps the entity types the mention detector understands.
func convertEntities(entities []models.MessageEntity) []mention.Entity {
	var out []mention.Entity
	for _, e := range entities {
		switch e.Type {
		case models.MessageEntityTypeMention:
			out = append(out, mention.Entity{Type: mention.EntityMention, Offset: e.Offset, Length: e.Length})
		case models.MessageEntityTypeTextMention:
			if e.User == nil {
				continue
			}
			out = append(out, mention.Entity{
				Type:   mention.EntityTextMention,
				Offset: e.Offset,
				Length: e.Length,
				UserID: strconv.FormatInt(e.User.ID, 10),
			})
		}
	}
	return out
}
