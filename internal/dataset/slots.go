package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tetraminz/slotner/internal/schema"
)

// Slots is the ground-truth mapping in the order the keys appear in the
// source object. Entity order, and with it the overlap winner in label
// alignment, follows this order.
type Slots []schema.Slot

// Get returns the value for key.
func (s Slots) Get(key string) (string, bool) {
	for _, slot := range s {
		if slot.Key == key {
			return slot.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key in place, or appends it.
func (s *Slots) Set(key, value string) {
	for i := range *s {
		if (*s)[i].Key == key {
			(*s)[i].Value = value
			return
		}
	}
	*s = append(*s, schema.Slot{Key: key, Value: value})
}

// UnmarshalJSON reads a string→string object keeping key order. A repeated
// key keeps its first position and its last value.
func (s *Slots) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("slots must be an object, got %v", tok)
	}

	out := Slots{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("slot key must be a string, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("slot %q: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalJSON writes the slots as an object in slot order.
func (s Slots) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, slot := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalNoEscape(slot.Key)
		if err != nil {
			return nil, err
		}
		v, err := marshalNoEscape(slot.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
