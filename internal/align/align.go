// Package align turns character-level entities into per-token BIO labels
// using a tokenizer's offset mapping.
package align

import (
	"strings"

	"github.com/tetraminz/slotner/internal/schema"
)

// Offset is the rune interval [Start, End) a token covers. Start == End
// marks a structural token such as [CLS] or [SEP].
type Offset struct {
	Start int
	End   int
}

// Degenerate reports whether the token covers no text.
func (o Offset) Degenerate() bool { return o.Start == o.End }

// Label is a BIO tag for one token.
type Label string

const (
	Outside Label = "O"
	// Ignored marks structural tokens. It is never a real class and must be
	// excluded from the loss; see IgnoreIndex.
	Ignored Label = ""
)

// Begin returns the label of the first token of an entity of type t.
func Begin(t schema.EntityType) Label { return Label("B-" + string(t)) }

// Inside returns the continuation label of an entity of type t.
func Inside(t schema.EntityType) Label { return Label("I-" + string(t)) }

// IsEntity reports whether l is a B- or I- label.
func (l Label) IsEntity() bool {
	return strings.HasPrefix(string(l), "B-") || strings.HasPrefix(string(l), "I-")
}

// IsBegin reports whether l opens an entity.
func (l Label) IsBegin() bool { return strings.HasPrefix(string(l), "B-") }

// Type returns the entity type of a B-/I- label, or "" otherwise.
func (l Label) Type() schema.EntityType {
	if !l.IsEntity() {
		return ""
	}
	return schema.EntityType(l[2:])
}

// Align assigns one label per offset. Entities are applied in input order
// and a later entity overwrites the labels of an earlier one wherever their
// tokens intersect. Entities that overlap no token are dropped.
func Align(offsets []Offset, entities []schema.Entity) []Label {
	labels, _ := AlignWithStats(offsets, entities)
	return labels
}

// Stats describes what happened to the entities during alignment.
type Stats struct {
	Applied int
	// Dropped holds the indices of entities that overlapped no token,
	// usually because truncation cut them off.
	Dropped []int
}

// AlignWithStats is Align plus the per-entity outcome.
func AlignWithStats(offsets []Offset, entities []schema.Entity) ([]Label, Stats) {
	labels := make([]Label, len(offsets))
	for i, off := range offsets {
		if off.Degenerate() {
			labels[i] = Ignored
			continue
		}
		labels[i] = Outside
	}

	var stats Stats
	overlapped := make([]int, 0, 16)
	for idx, ent := range entities {
		overlapped = overlapped[:0]
		for i, off := range offsets {
			if off.Degenerate() {
				continue
			}
			if !(off.End <= ent.Start || off.Start >= ent.End) {
				overlapped = append(overlapped, i)
			}
		}
		if len(overlapped) == 0 {
			stats.Dropped = append(stats.Dropped, idx)
			continue
		}

		labels[overlapped[0]] = Begin(ent.Type)
		for _, i := range overlapped[1:] {
			labels[i] = Inside(ent.Type)
		}
		stats.Applied++
	}
	return labels, stats
}
