package mention

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// EntityResolver matches platform mention entities: "mention" entities whose
// text is the bot handle and "text_mention" entities that carry the bot user id.
type EntityResolver struct{}

func (EntityResolver) Name() string { return "entity" }

func (EntityResolver) Resolve(text string, entities []Entity, id Identity) []Span {
	var spans []Span
	for _, e := range entities {
		start, end, ok := utf16Range(text, e.Offset, e.Length)
		if !ok {
			continue
		}
		token := text[start:end]
		switch e.Type {
		case EntityTextMention:
			if id.UserID == "" || e.UserID != id.UserID {
				continue
			}
		case EntityMention:
			if id.Username == "" || !strings.EqualFold(strings.TrimPrefix(token, "@"), id.Username) {
				continue
			}
		default:
			continue
		}
		spans = append(spans, Span{Resolver: "entity", Token: token, Start: start, End: end})
	}
	return spans
}

// utf16Range converts a UTF-16 offset/length pair to byte offsets in text.
// It reports false for negative, empty, out of range or mid-rune ranges.
func utf16Range(text string, offset, length int) (int, int, bool) {
	if offset < 0 || length <= 0 {
		return 0, 0, false
	}
	end16 := offset + length

	units := 0
	start, end := -1, -1
	for i, r := range text {
		if units == offset {
			start = i
		}
		if units == end16 {
			end = i
			break
		}
		if units > end16 {
			return 0, 0, false
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
	}
	if end == -1 && units == end16 {
		end = len(text)
	}
	if start < 0 || end < 0 || start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// HandleResolver matches a literal "@handle" in the text, case-insensitively.
// The handle must not be glued to a preceding word (e-mail addresses) or run
// on into more handle characters.
type HandleResolver struct{}

func (HandleResolver) Name() string { return "handle" }

func (HandleResolver) Resolve(text string, _ []Entity, id Identity) []Span {
	if id.Username == "" {
		return nil
	}
	handle := strings.TrimPrefix(id.Username, "@")

	var spans []Span
	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		if i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:i])
			if isHandleRune(prev) {
				continue
			}
		}
		j := i + 1
		for j < len(text) && text[j] < utf8.RuneSelf && isHandleRune(rune(text[j])) {
			j++
		}
		if j < len(text) {
			next, _ := utf8.DecodeRuneInString(text[j:])
			if isHandleRune(next) {
				continue
			}
		}
		if strings.EqualFold(text[i+1:j], handle) {
			spans = append(spans, Span{Resolver: "handle", Token: text[i:j], Start: i, End: j})
		}
		i = j - 1
	}
	return spans
}

func isHandleRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// AliasResolver matches configured plain names of the bot as whole words,
// case-insensitively ("hey Helper, ..." for alias "helper"). An alias glued to
// "@" is left to the handle resolver.
type AliasResolver struct {
	aliases []string
}

// NewAliasResolver keeps the non-empty aliases.
func NewAliasResolver(aliases []string) AliasResolver {
	var kept []string
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			kept = append(kept, a)
		}
	}
	return AliasResolver{aliases: kept}
}

func (AliasResolver) Name() string { return "alias" }

func (r AliasResolver) Resolve(text string, _ []Entity, _ Identity) []Span {
	var spans []Span
	for _, alias := range r.aliases {
		spans = append(spans, aliasSpans(text, alias)...)
	}
	return spans
}

// aliasSpans scans text rune by rune. Boundaries are checked on the runes
// around a candidate without consuming them, so back to back aliases match.
func aliasSpans(text, alias string) []Span {
	runes := utf8.RuneCountInString(alias)

	var spans []Span
	for i := 0; i < len(text); {
		j := i
		for n := 0; n < runes && j < len(text); n++ {
			_, size := utf8.DecodeRuneInString(text[j:])
			j += size
		}
		if strings.EqualFold(text[i:j], alias) && aliasBoundary(text, i, j) {
			spans = append(spans, Span{Resolver: "alias", Token: text[i:j], Start: i, End: j})
			i = j
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return spans
}

func aliasBoundary(text string, start, end int) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if prev == '@' || isHandleRune(prev) {
			return false
		}
	}
	if end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isHandleRune(next) {
			return false
		}
	}
	return true
}
