package dataset

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
)

// MergeResult summarizes a Merge call.
type MergeResult struct {
	Lines   int
	Missing []string
}

// Merge concatenates the non-blank lines of the files at paths into w, in
// the given order. Missing files are listed in the result and skipped.
func Merge(w io.Writer, paths []string) (MergeResult, error) {
	var res MergeResult
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				res.Missing = append(res.Missing, path)
				continue
			}
			return res, fmt.Errorf("open %q: %w", path, err)
		}

		err = ScanLines(f, func(_ int, line string) error {
			if line == "" {
				return nil
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return fmt.Errorf("write merged line: %w", err)
			}
			res.Lines++
			return nil
		})
		f.Close()
		if err != nil {
			return res, fmt.Errorf("merge %q: %w", path, err)
		}
	}
	return res, nil
}

// Rewrite parses each record of r, applies fn and writes the result to w.
// Blank lines are dropped and malformed lines are skipped and returned.
// fn receives the 1-based index of the record among the written ones.
func Rewrite(r io.Reader, w io.Writer, fn func(n int, rec *Record)) (int, []LineError, error) {
	out := NewWriter(w)
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
		fn(out.Count()+1, &rec)
		return out.Write(rec)
	})
	if err != nil {
		return out.Count(), skipped, err
	}
	return out.Count(), skipped, nil
}

// TagGroup stamps group on every record of r.
func TagGroup(r io.Reader, w io.Writer, group string) (int, []LineError, error) {
	return Rewrite(r, w, func(_ int, rec *Record) {
		rec.Group = group
	})
}

// Renumber rewrites conv_id as prefix followed by a 1-based sequence.
func Renumber(r io.Reader, w io.Writer, prefix string) (int, []LineError, error) {
	return Rewrite(r, w, func(n int, rec *Record) {
		rec.ID = prefix + strconv.Itoa(n)
	})
}

// LineStatus classifies one line of a JSONL file.
type LineStatus string

const (
	LineOK      LineStatus = "ok"
	LineBlank   LineStatus = "blank"
	LineInvalid LineStatus = "invalid"
)

// LineReport is the check result for one line.
type LineReport struct {
	Line   int
	Status LineStatus
	Err    error
}

// Check reports the syntax status of every line of r.
func Check(r io.Reader) ([]LineReport, error) {
	var out []LineReport
	err := ScanLines(r, func(lineNo int, line string) error {
		if line == "" {
			out = append(out, LineReport{Line: lineNo, Status: LineBlank})
			return nil
		}
		if _, err := ParseRecord(line); err != nil {
			out = append(out, LineReport{Line: lineNo, Status: LineInvalid, Err: err})
			return nil
		}
		out = append(out, LineReport{Line: lineNo, Status: LineOK})
		return nil
	})
	return out, err
}
