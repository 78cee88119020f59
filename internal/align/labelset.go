package align

import (
	"errors"
	"fmt"

	"github.com/tetraminz/slotner/internal/schema"
)

// IgnoreIndex is the id written for Ignored tokens. Loss functions skip it.
const IgnoreIndex = -100

// ErrUnknownLabel is returned when a label has no id in the set.
var ErrUnknownLabel = errors.New("unknown label")

// LabelSet is the ordered label vocabulary: "O" first, then B-/I- pairs for
// each entity type sorted by name.
type LabelSet struct {
	labels []Label
	ids    map[Label]int
}

// NewLabelSet builds the vocabulary for the given entity types. Duplicates
// are ignored and order of the input does not matter.
func NewLabelSet(types []schema.EntityType) *LabelSet {
	sorted := schema.SortedEntityTypes(types)
	ls := &LabelSet{
		labels: make([]Label, 0, 1+2*len(sorted)),
		ids:    make(map[Label]int, 1+2*len(sorted)),
	}
	ls.add(Outside)
	for _, t := range sorted {
		ls.add(Begin(t))
		ls.add(Inside(t))
	}
	return ls
}

// LabelSetFromEntities collects the entity types present in a corpus, as
// the training script derives its label list from the data.
func LabelSetFromEntities(corpus [][]schema.Entity) *LabelSet {
	var types []schema.EntityType
	for _, entities := range corpus {
		for _, e := range entities {
			types = append(types, e.Type)
		}
	}
	return NewLabelSet(types)
}

// ParseLabelSet rebuilds a vocabulary from its id-ordered label list, as
// written to labels.json. The list must start with "O" and hold only B-/I-
// labels of known entity types after it.
func ParseLabelSet(labels []Label) (*LabelSet, error) {
	if len(labels) == 0 || labels[0] != Outside {
		return nil, fmt.Errorf("label list must start with %q", Outside)
	}
	ls := &LabelSet{
		labels: make([]Label, 0, len(labels)),
		ids:    make(map[Label]int, len(labels)),
	}
	ls.add(Outside)
	for _, l := range labels[1:] {
		if !l.IsEntity() {
			return nil, fmt.Errorf("label %q: %w", l, ErrUnknownLabel)
		}
		if _, ok := schema.ParseEntityType(string(l.Type())); !ok {
			return nil, fmt.Errorf("label %q: %w", l, ErrUnknownLabel)
		}
		if _, dup := ls.ids[l]; dup {
			return nil, fmt.Errorf("duplicate label %q", l)
		}
		ls.add(l)
	}
	return ls, nil
}

func (ls *LabelSet) add(l Label) {
	ls.ids[l] = len(ls.labels)
	ls.labels = append(ls.labels, l)
}

// Labels returns the vocabulary in id order.
func (ls *LabelSet) Labels() []Label {
	return append([]Label(nil), ls.labels...)
}

// Len is the number of classes.
func (ls *LabelSet) Len() int { return len(ls.labels) }

// ID returns the id of l. Ignored maps to IgnoreIndex.
func (ls *LabelSet) ID(l Label) (int, bool) {
	if l == Ignored {
		return IgnoreIndex, true
	}
	id, ok := ls.ids[l]
	return id, ok
}

// Label returns the label with the given id.
func (ls *LabelSet) Label(id int) (Label, bool) {
	if id == IgnoreIndex {
		return Ignored, true
	}
	if id < 0 || id >= len(ls.labels) {
		return "", false
	}
	return ls.labels[id], true
}

// Encode maps labels to ids.
func (ls *LabelSet) Encode(labels []Label) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := ls.ID(l)
		if !ok {
			return nil, fmt.Errorf("token %d label %q: %w", i, l, ErrUnknownLabel)
		}
		out[i] = id
	}
	return out, nil
}

// Label2ID returns the label→id mapping keyed by label string.
func (ls *LabelSet) Label2ID() map[string]int {
	out := make(map[string]int, len(ls.labels))
	for i, l := range ls.labels {
		out[string(l)] = i
	}
	return out
}
