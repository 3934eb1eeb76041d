// Package mention decides whether an inbound group message addresses the bot.
//
// Detection is pure: it looks only at the message, its platform entities and
// the message it replies to. Each platform encoding of a mention is handled by
// a Resolver so quirks stay isolated.
package mention

import (
	"slices"
	"strings"

	"github.com/edgard/groupmind/internal/database"
)

// Identity describes the bot account.
type Identity struct {
	UserID   string
	Username string
	Aliases  []string
}

// Entity is a platform annotation over the message text. Offsets and lengths
// are in UTF-16 code units, as Telegram reports them.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	// UserID is set for mentions that carry the target account instead of a handle.
	UserID string `json:"user_id,omitempty"`
}

// Entity types understood by EntityResolver.
const (
	EntityMention     = "mention"
	EntityTextMention = "text_mention"
)

// ReplyTarget is what is known about the message being replied to.
type ReplyTarget struct {
	MessageID string
	SenderID  string
	IsFromBot bool
}

// Candidate is the input of one evaluation.
type Candidate struct {
	Message  *database.Message
	Entities []Entity
	// ReplyTo is nil when the message is not a reply or the target is unknown.
	ReplyTo *ReplyTarget
}

// Span is a matched mention, as byte offsets into the message body.
type Span struct {
	Resolver string
	Token    string
	Start    int
	End      int
}

// Reason explains a Decision.
type Reason string

const (
	ReasonMention Reason = "mention"
	ReasonReply   Reason = "reply"
	ReasonNone    Reason = "none"
	ReasonFromBot Reason = "from_bot"
	ReasonEmpty   Reason = "empty"
)

// Decision is the outcome of Evaluate. Prompt is the body with mention spans
// removed and whitespace normalised; it is what the bot should answer.
type Decision struct {
	ShouldRespond bool
	Reason        Reason
	Spans         []Span
	Prompt        string
}

// Resolver finds mentions of the bot in one encoding.
type Resolver interface {
	Name() string
	Resolve(text string, entities []Entity, id Identity) []Span
}

// Detector evaluates candidates with a fixed set of resolvers.
type Detector struct {
	resolvers []Resolver
}

// NewDetector returns a Detector using the given resolvers, or the entity,
// handle and alias resolvers when none are given.
func NewDetector(id Identity, resolvers ...Resolver) *Detector {
	if len(resolvers) == 0 {
		resolvers = []Resolver{EntityResolver{}, HandleResolver{}, NewAliasResolver(id.Aliases)}
	}
	return &Detector{resolvers: resolvers}
}

// Evaluate decides whether the bot should answer c. It never fails; malformed
// encodings simply do not match.
func (d *Detector) Evaluate(c Candidate, id Identity) Decision {
	msg := c.Message
	if msg == nil {
		return Decision{Reason: ReasonNone}
	}
	if msg.IsFromBot || (id.UserID != "" && msg.SenderID == id.UserID) {
		return Decision{Reason: ReasonFromBot}
	}

	var spans []Span
	for _, r := range d.resolvers {
		spans = append(spans, r.Resolve(msg.Body, c.Entities, id)...)
	}
	spans = mergeSpans(spans)

	mentioned := len(spans) > 0
	replied := c.ReplyTo != nil && (c.ReplyTo.IsFromBot || (id.UserID != "" && c.ReplyTo.SenderID == id.UserID))
	if !mentioned && !replied {
		return Decision{Reason: ReasonNone}
	}

	prompt := Normalize(stripSpans(msg.Body, spans))
	hasMedia := msg.MediaKind != "" && msg.MediaKind != database.MediaNone
	if prompt == "" && !hasMedia {
		return Decision{Reason: ReasonEmpty, Spans: spans}
	}

	reason := ReasonReply
	if mentioned {
		reason = ReasonMention
	}
	return Decision{ShouldRespond: true, Reason: reason, Spans: spans, Prompt: prompt}
}

// mergeSpans sorts spans and drops any that overlap an earlier one, so the
// same "@handle" found by two resolvers counts once.
func mergeSpans(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	slices.SortStableFunc(spans, func(a, b Span) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return b.End - a.End
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		if s.Start < out[len(out)-1].End {
			continue
		}
		out = append(out, s)
	}
	return out
}

func stripSpans(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		if s.Start < prev || s.End > len(text) {
			continue
		}
		b.WriteString(text[prev:s.Start])
		b.WriteByte(' ')
		prev = s.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

var zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "")

// Normalize removes zero-width characters, collapses horizontal whitespace
// within lines, drops blank lines and trims separator punctuation left behind
// by a removed leading or trailing mention.
func Normalize(text string) string {
	text = zeroWidth.Replace(text)
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	out = strings.TrimLeft(out, ",:;- \n")
	out = strings.TrimRight(out, ",:;- \n")
	return out
}
