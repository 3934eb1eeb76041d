package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
	"github.com/edgard/groupmind/internal/mention"
)

const timeLayout = "2006-01-02 15:04"

const personaHeader = `You are %s, a participant in a group chat.
Each user turn is one chat message formatted as "[time] name: text". Your own earlier messages appear as model turns.
Attachments you cannot see appear as placeholders like [[Attached Image]].
A turn titled "Reference notes" contains summaries of earlier conversations in this group; use them only when they are relevant.
The last user turn is the message you are answering.`

// renderLine formats a message as one dialogue line.
func renderLine(m *database.Message) string {
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format(timeLayout), name, m.Render())
}

// triggerLine renders the trigger with the mention removed. Media placeholders
// are kept so the model knows something was attached.
func triggerLine(cc *ConversationContext) string {
	stripped := *cc.Trigger
	stripped.Body = cc.Prompt
	return renderLine(&stripped)
}

func renderKnowledge(chunks []database.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Reference notes (most relevant first):")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSpace(c.Chunk.Text))
	}
	return b.String()
}

// buildPrompt renders the provider request: persona and instructions, the
// recent dialogue, the reference notes and finally the trigger.
func buildPrompt(cc *ConversationContext, id mention.Identity, instruction string) llm.Prompt {
	name := id.Username
	if name != "" {
		name = "@" + strings.TrimPrefix(name, "@")
	} else {
		name = "the assistant"
	}
	system := fmt.Sprintf(personaHeader, name)
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		system += "\n\n" + instruction
	}

	turns := make([]llm.Turn, 0, len(cc.Recent)+2)
	for _, m := range cc.Recent {
		if m.IsFromBot {
			turns = append(turns, llm.Turn{Role: llm.RoleModel, Text: m.Render()})
			continue
		}
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: renderLine(m)})
	}
	if len(cc.Knowledge) > 0 {
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: renderKnowledge(cc.Knowledge)})
	}
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: triggerLine(cc)})

	return llm.Prompt{System: system, Turns: turns}
}

// metadataPrefix matches "[time] name:" headers the model sometimes echoes
// back from the dialogue format.
var metadataPrefix = regexp.MustCompile(`^\s*(?:\[[^\]\n]{1,40}\]\s*[^:\n]{0,64}:\s*)+`)

// cleanReply strips echoed metadata, trims and caps the reply at maxChars runes.
func cleanReply(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if loc := metadataPrefix.FindStringIndex(line); loc != nil && !strings.HasPrefix(strings.TrimSpace(line), "[[") {
			lines[i] = line[loc[1]:]
		}
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))
	return truncateRunes(text, maxChars)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
