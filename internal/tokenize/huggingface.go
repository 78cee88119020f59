package tokenize

import (
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/tetraminz/slotner/internal/align"
)

// HuggingFace wraps a tokenizer.json loaded with sugarme/tokenizer.
type HuggingFace struct {
	unit Unit

	mu        sync.Mutex
	tk        *tokenizer.Tokenizer
	maxLength int
}

// LoadHuggingFace reads a tokenizer.json file. unit names how the file's
// pre-tokenizer reports offsets.
func LoadHuggingFace(path string, unit Unit) (*HuggingFace, error) {
	if path == "" {
		return nil, ErrNoTokenizer
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", path, err)
	}
	return &HuggingFace{tk: tk, unit: unit}, nil
}

// Offsets encodes text with truncation to maxLength tokens.
func (h *HuggingFace) Offsets(text string, maxLength int) ([]align.Offset, error) {
	// The underlying tokenizer keeps truncation as mutable state.
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxLength != maxLength {
		h.tk.WithTruncation(&tokenizer.TruncationParams{
			MaxLength: maxLength,
			Strategy:  tokenizer.LongestFirst,
		})
		h.maxLength = maxLength
	}

	enc, err := h.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if h.unit == UnitRune {
		return runeOffsets(enc.GetOffsets()), nil
	}
	return byteToRune(text, enc.GetOffsets()), nil
}
