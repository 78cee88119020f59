// Package tokenize produces per-token character offsets for the aligner.
//
// Offsets are expressed in runes of the input text. Special tokens carry the
// degenerate offset (0, 0).
package tokenize

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tetraminz/slotner/internal/align"
)

// ErrNoTokenizer is returned when no tokenizer file is configured.
var ErrNoTokenizer = errors.New("no tokenizer configured")

// Tokenizer maps text to the offsets of its tokens, capped at maxLength
// tokens including special tokens.
type Tokenizer interface {
	Offsets(text string, maxLength int) ([]align.Offset, error)
}

// Unit is the unit a tokenizer reports offsets in.
type Unit string

const (
	UnitByte Unit = "byte"
	UnitRune Unit = "rune"
)

// ParseUnit accepts "byte" or "rune"; the empty string means byte.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "", UnitByte:
		return UnitByte, nil
	case UnitRune:
		return UnitRune, nil
	}
	return "", fmt.Errorf("unknown offset unit %q", s)
}

// Rune is a character-level tokenizer: one token per rune between a
// leading and a trailing special token. It matches the offsets a
// BERT-style Chinese vocabulary yields on CJK text.
type Rune struct{}

func (Rune) Offsets(text string, maxLength int) ([]align.Offset, error) {
	if maxLength < 2 {
		return nil, fmt.Errorf("max length %d leaves no room for special tokens", maxLength)
	}
	n := utf8.RuneCountInString(text)
	if n > maxLength-2 {
		n = maxLength - 2
	}
	out := make([]align.Offset, 0, n+2)
	out = append(out, align.Offset{})
	for i := 0; i < n; i++ {
		out = append(out, align.Offset{Start: i, End: i + 1})
	}
	return append(out, align.Offset{}), nil
}

// byteToRune converts byte offsets into rune offsets. Byte positions that
// fall inside a multi-byte rune snap to that rune's start for Start and to
// its end for End.
func byteToRune(text string, offsets [][]int) []align.Offset {
	// runeAt[b] is the index of the rune that contains byte b.
	runeAt := make([]int, len(text)+1)
	r := 0
	for b := range text {
		_, size := utf8.DecodeRuneInString(text[b:])
		for k := 0; k < size; k++ {
			runeAt[b+k] = r
		}
		r++
	}
	runeAt[len(text)] = r

	startOf := func(b int) int {
		return runeAt[clamp(b, len(text))]
	}
	endOf := func(b int) int {
		b = clamp(b, len(text))
		if b > 0 && runeAt[b-1] == runeAt[b] {
			return runeAt[b] + 1
		}
		return runeAt[b]
	}

	out := make([]align.Offset, len(offsets))
	for i, o := range offsets {
		if len(o) < 2 || o[0] == o[1] {
			out[i] = align.Offset{}
			continue
		}
		out[i] = align.Offset{Start: startOf(o[0]), End: endOf(o[1])}
	}
	return out
}

func runeOffsets(offsets [][]int) []align.Offset {
	out := make([]align.Offset, len(offsets))
	for i, o := range offsets {
		if len(o) < 2 {
			continue
		}
		out[i] = align.Offset{Start: o[0], End: o[1]}
	}
	return out
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
