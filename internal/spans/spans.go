// Package spans locates slot values inside record text.
package spans

import (
	"strings"
	"unicode/utf8"

	"github.com/tetraminz/slotner/internal/schema"
)

// Span is a half-open interval of rune offsets.
type Span struct {
	Start int
	End   int
}

// Locate returns every non-overlapping occurrence of value in text, in
// ascending order. After a match the search resumes at the match end, so
// "aa" in "aaaa" yields two spans, not three. Matching is exact and
// case-sensitive.
func Locate(text, value string) []Span {
	if value == "" {
		return nil
	}

	width := utf8.RuneCountInString(value)
	var out []Span
	cursor, runeCursor := 0, 0
	for {
		idx := strings.Index(text[cursor:], value)
		if idx < 0 {
			break
		}
		start := runeCursor + utf8.RuneCountInString(text[cursor:cursor+idx])
		out = append(out, Span{Start: start, End: start + width})
		cursor += idx + len(value)
		runeCursor = start + width
	}
	return out
}

// GenerateEntities locates every entity slot in text, in slot order. Keys
// outside the entity vocabulary are ignored. Entity keys whose value is not
// found are returned in ungrounded so the caller can report them.
func GenerateEntities(text string, slots []schema.Slot) (entities []schema.Entity, ungrounded []string) {
	entities = []schema.Entity{}
	for _, slot := range slots {
		typ, ok := schema.ParseEntityType(slot.Key)
		if !ok {
			continue
		}

		found := Locate(text, slot.Value)
		if len(found) == 0 {
			ungrounded = append(ungrounded, slot.Key)
			continue
		}
		for _, span := range found {
			entities = append(entities, schema.Entity{
				Type:  typ,
				Start: span.Start,
				End:   span.End,
				Text:  slot.Value,
			})
		}
	}
	return entities, ungrounded
}

// Substring returns text[start:end] in rune offsets; out-of-range bounds
// are clamped.
func Substring(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end <= start {
		return ""
	}
	var b strings.Builder
	i := 0
	for _, r := range text {
		if i >= end {
			break
		}
		if i >= start {
			b.WriteRune(r)
		}
		i++
	}
	return b.String()
}
