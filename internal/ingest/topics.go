package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/llm"
)

const topicInstruction = `The user turn is a group chat transcript. Each line is "[time] speaker: text".
Speakers are anonymised as @user_N; @assistant is the chat assistant.
Break the conversation into a list of distinct topics.
Answer with a JSON object: {"topics": [{"subject": "...", "summary": "...", "speakers": ["@user_1"]}]}.
Summaries are concise and self-contained, in the language of the conversation, and credit notable points to speakers by their tag (for example @user_2).
Skip small talk that carries no information.`

// Topic is one subject extracted from a conversation window.
type Topic struct {
	Subject  string   `json:"subject"`
	Summary  string   `json:"summary"`
	Speakers []string `json:"speakers"`
}

// Document is the text embedded for a topic.
func (t Topic) Document() string {
	return "# " + strings.TrimSpace(t.Subject) + "\n" + strings.TrimSpace(t.Summary)
}

// speakerMap assigns @user_N tags in order of first appearance.
type speakerMap struct {
	tags  map[string]string // sender id -> tag
	names map[string]string // tag -> display name
}

const assistantTag = "@assistant"

func anonymise(msgs []*database.Message) (string, speakerMap) {
	m := speakerMap{tags: map[string]string{}, names: map[string]string{}}
	var b strings.Builder
	for _, msg := range msgs {
		text := msg.Render()
		if text == "" {
			continue
		}
		tag := assistantTag
		if !msg.IsFromBot {
			var ok bool
			if tag, ok = m.tags[msg.SenderID]; !ok {
				tag = "@user_" + strconv.Itoa(len(m.tags)+1)
				m.tags[msg.SenderID] = tag
				name := msg.SenderName
				if name == "" {
					name = msg.SenderID
				}
				m.names[tag] = name
			}
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.Timestamp.UTC().Format("2006-01-02 15:04"), tag, text)
	}
	return strings.TrimRight(b.String(), "\n"), m
}

// restore replaces speaker tags with real names. Longer tags go first so
// @user_12 is not rewritten as @user_1 followed by "2".
func (m speakerMap) restore(text string) string {
	tags := make([]string, 0, len(m.names))
	for tag := range m.names {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if len(tags[i]) != len(tags[j]) {
			return len(tags[i]) > len(tags[j])
		}
		return tags[i] < tags[j]
	})
	pairs := make([]string, 0, 2*len(tags))
	for _, tag := range tags {
		pairs = append(pairs, tag, m.names[tag])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (m speakerMap) restoreTopic(t Topic) Topic {
	t.Subject = m.restore(t.Subject)
	t.Summary = m.restore(t.Summary)
	speakers := make([]string, 0, len(t.Speakers))
	for _, s := range t.Speakers {
		if name, ok := m.names[strings.TrimSpace(s)]; ok {
			speakers = append(speakers, name)
			continue
		}
		speakers = append(speakers, s)
	}
	t.Speakers = speakers
	return t
}

func topicPrompt(transcript string) llm.Prompt {
	return llm.Prompt{
		System: topicInstruction,
		Turns:  []llm.Turn{{Role: llm.RoleUser, Text: transcript}},
		JSON:   true,
	}
}

// parseTopics accepts {"topics": [...]} or a bare array. Topics without a
// subject or summary are dropped.
func parseTopics(raw string) ([]Topic, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var topics []Topic
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
	} else {
		var wrapper struct {
			Topics []Topic `json:"topics"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
		topics = wrapper.Topics
	}

	out := topics[:0]
	for _, t := range topics {
		if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Summary) == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
