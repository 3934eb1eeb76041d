package summary

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
)

const summaryInstruction = `Write a quick recap of what happened in this group chat, based on the transcript you are given.
Open by saying that this is a quick recap of the recent conversation.
Keep it short and casual, like a friend catching someone up.
Write in the language the group uses.
Refer to people by the names shown in the transcript.
Answer with the recap only.`

const quietRecap = "Nothing to recap, it has been quiet here."

const timeLayout = "2006-01-02 15:04"

// humanMessages drops the bot's own messages and bot commands, which are not
// part of the conversation being summarized.
func humanMessages(msgs []*database.Message) []*database.Message {
	out := make([]*database.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsFromBot || strings.HasPrefix(strings.TrimSpace(m.Body), "/") {
			continue
		}
		if m.Render() == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func summaryPrompt(msgs []*database.Message) llm.Prompt {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.UTC().Format(timeLayout), name, m.Render())
	}
	return llm.Prompt{
		System: summaryInstruction,
		Turns:  []llm.Turn{{Role: llm.RoleUser, Text: b.String()}},
	}
}

// cleanSummary trims the answer and caps it at maxChars runes.
func cleanSummary(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:maxChars]))
}
