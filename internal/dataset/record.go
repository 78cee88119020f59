package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetraminz/slotner/internal/schema"
)

// Record is one annotated conversation as it travels through JSONL files.
type Record struct {
	ID     string
	Text   string
	Slots  Slots
	Labels SemanticLabels
	Group  string
	// Entities is derived from Text and Slots; nil means the field was
	// absent in the input.
	Entities []schema.Entity

	// extra keeps unknown top-level fields so rewriting a file only changes
	// what the caller touched.
	extra []extraField
}

// SemanticLabels holds the categorical labels keyed by field name.
type SemanticLabels map[string]string

// Get returns the value of a categorical field.
func (l SemanticLabels) Get(field schema.CategoricalField) (string, bool) {
	v, ok := l[string(field)]
	return v, ok
}

const (
	fieldID       = "conv_id"
	fieldText     = "full_text"
	fieldSlots    = "slots_ground_truth"
	fieldLabels   = "semantic_labels"
	fieldGroup    = "group"
	fieldEntities = "entities"
)

// UnmarshalJSON decodes a record object. Missing fields decode to zero
// values; the validator is responsible for judging them.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return errors.New("record is null")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be an object, got %v", tok)
	}

	var out Record
	known := map[string]any{
		fieldID:       &out.ID,
		fieldText:     &out.Text,
		fieldSlots:    &out.Slots,
		fieldLabels:   &out.Labels,
		fieldGroup:    &out.Group,
		fieldEntities: &out.Entities,
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}

		dst, ok := known[key]
		if !ok {
			out.setExtra(key, value)
			continue
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// extraField is an unknown top-level field kept verbatim.
type extraField struct {
	key   string
	value json.RawMessage
}

// setExtra keeps the first position of a repeated key and its last value.
func (r *Record) setExtra(key string, value json.RawMessage) {
	for i := range r.extra {
		if r.extra[i].key == key {
			r.extra[i].value = value
			return
		}
	}
	r.extra = append(r.extra, extraField{key: key, value: value})
}

// MarshalJSON writes known fields first, then preserved unknown fields in
// source order, then entities when present.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		encoded, err := marshalNoEscape(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := marshalNoEscape(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	slots := r.Slots
	if slots == nil {
		slots = Slots{}
	}
	labels := r.Labels
	if labels == nil {
		labels = SemanticLabels{}
	}
	if err := write(fieldID, r.ID); err != nil {
		return nil, err
	}
	if err := write(fieldText, r.Text); err != nil {
		return nil, err
	}
	if err := write(fieldSlots, slots); err != nil {
		return nil, err
	}
	if err := write(fieldLabels, labels); err != nil {
		return nil, err
	}
	if r.Group != "" {
		if err := write(fieldGroup, r.Group); err != nil {
			return nil, err
		}
	}

	for _, f := range r.extra {
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}

	if r.Entities != nil {
		if err := write(fieldEntities, r.Entities); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Slots = append(Slots(nil), r.Slots...)
	if r.Labels != nil {
		out.Labels = make(SemanticLabels, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	if r.Entities != nil {
		out.Entities = append([]schema.Entity{}, r.Entities...)
	}
	if r.extra != nil {
		out.extra = append([]extraField(nil), r.extra...)
	}
	return out
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
