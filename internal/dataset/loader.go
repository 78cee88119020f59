// Package dataset reads and writes annotated conversation records as JSONL.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const maxLineBytes = 10 * 1024 * 1024

// ErrMalformedRecord marks a line that is not a JSON record object.
var ErrMalformedRecord = errors.New("malformed record")

// LineError reports a skipped input line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// NewReader wraps r so that a leading UTF-8 BOM is dropped.
func NewReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ScanLines calls fn for every line of r with its 1-based number. Lines are
// passed with surrounding whitespace trimmed; blank lines are passed too.
func ScanLines(r io.Reader, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(NewReader(r))
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := fn(lineNo, strings.TrimSpace(scanner.Text())); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan jsonl: %w", err)
	}
	return nil
}

// ParseRecord decodes one JSONL line.
func ParseRecord(line string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec, nil
}

// Read parses every record in r. Blank lines are skipped; malformed lines
// are returned as LineErrors and do not stop the read.
func Read(r io.Reader) ([]Record, []LineError, error) {
	records := make([]Record, 0, 256)
	var skipped []LineError
	err := ScanLines(r, func(lineNo int, line string) error {
		if line == "" {
			return nil
		}
		rec, err := ParseRecord(line)
		if err != nil {
			skipped = append(skipped, LineError{Line: lineNo, Err: err})
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return records, skipped, nil
}

// Load reads the JSONL file at path.
func Load(path string) ([]Record, []LineError, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, errors.New("input path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	records, skipped, err := Read(file)
	if err != nil {
		return nil, nil, fmt.Errorf("read %q: %w", path, err)
	}
	return records, skipped, nil
}

// Writer encodes records one per line without HTML escaping, so CJK text
// stays readable.
type Writer struct {
	enc *json.Encoder
	n   int
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Write encodes v as one line.
func (w *Writer) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encode line %d: %w", w.n+1, err)
	}
	w.n++
	return nil
}

// Count is the number of lines written.
func (w *Writer) Count() int { return w.n }

// CreateFile creates path and its parent directory.
func CreateFile(path string) (*os.File, error) {
	if err := EnsureParentDir(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}
	return f, nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %q: %w", dir, err)
	}
	return nil
}
