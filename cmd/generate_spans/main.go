package main

/*
generate_spans adds an "entities" field to every record of a raw JSONL file
by locating each entity slot value in full_text.

Usage:
  go run ./cmd/generate_spans \
    --in data/raw/train.jsonl \
    --out data/labeled/train.jsonl

Flags:
  --in         Raw JSONL input.
  --out        Labeled JSONL output (one record per line, input order).
  --workers    Worker goroutines (0 means one per CPU).
  --log_level  debug, info, warn or error.
*/

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/logging"
	"github.com/tetraminz/slotner/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	in := flag.String("in", "", "raw JSONL input path")
	out := flag.String("out", "", "labeled JSONL output path")
	workers := flag.Int("workers", 0, "worker goroutines (0 = one per CPU)")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()

	if strings.TrimSpace(*in) == "" {
		return errors.New("--in is required")
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("--out is required")
	}
	if *workers < 0 {
		return errors.New("--workers must be >= 0")
	}

	logger, err := logging.New(os.Stderr, *logLevel, "text")
	if err != nil {
		return err
	}
	p := pipeline.New(pipeline.Options{Logger: logger, Workers: *workers})

	records, skipped, err := dataset.Load(*in)
	if err != nil {
		return err
	}
	p.ReportSkipped("prepare", *in, skipped)

	labeled, err := p.Prepare(ctx, records)
	if err != nil {
		return err
	}

	outFile, err := dataset.CreateFile(*out)
	if err != nil {
		return err
	}
	defer outFile.Close()

	w := dataset.NewWriter(outFile)
	for _, rec := range labeled {
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close %q: %w", *out, err)
	}

	fmt.Printf("Wrote %d records to %s\n", w.Count(), *out)
	return nil
}
