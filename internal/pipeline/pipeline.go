// Package pipeline runs span generation, alignment and validation over
// batches of records with a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/schema"
	"github.com/tetraminz/slotner/internal/spans"
	"github.com/tetraminz/slotner/internal/validate"
)

// Options configures a Pipeline.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Workers bounds the goroutines per stage; 0 means runtime.NumCPU().
	Workers int
}

// Pipeline composes the stages. It is safe for concurrent use.
type Pipeline struct {
	log     *slog.Logger
	metrics *Metrics
	workers int
}

// New returns a Pipeline. Metrics are optional.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{log: logger, metrics: opts.Metrics, workers: opts.Workers}
}

// ReportSkipped logs and counts lines a loader could not parse.
func (p *Pipeline) ReportSkipped(stage, path string, skipped []dataset.LineError) {
	for _, le := range skipped {
		p.log.Warn("skipping malformed line", "stage", stage, "path", path, "line", le.Line, "error", le.Err)
	}
	if p.metrics != nil && len(skipped) > 0 {
		p.metrics.recordsTotal.WithLabelValues(stage, StatusMalformed).Add(float64(len(skipped)))
	}
}

type prepared struct {
	rec        dataset.Record
	ungrounded []string
}

// Prepare returns copies of records with Entities filled from their slots.
// Slots whose value does not occur in the text are logged and dropped.
func (p *Pipeline) Prepare(ctx context.Context, records []dataset.Record) ([]dataset.Record, error) {
	results, err := Map(ctx, p.workers, records, func(_ context.Context, rec dataset.Record) (prepared, error) {
		out := rec.Clone()
		entities, ungrounded := spans.GenerateEntities(out.Text, out.Slots)
		out.Entities = entities
		return prepared{rec: out, ungrounded: ungrounded}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	out := make([]dataset.Record, len(results))
	for i, r := range results {
		for _, key := range r.ungrounded {
			p.log.Warn("slot value not found in text", "conv_id", r.rec.ID, "slot", key)
			if p.metrics != nil {
				p.metrics.ungroundedTotal.WithLabelValues(key).Inc()
			}
		}
		out[i] = r.rec
	}
	if p.metrics != nil {
		p.metrics.recordsTotal.WithLabelValues("prepare", StatusOK).Add(float64(len(out)))
	}
	return out, nil
}

// Validate runs every rule on every record. Violations keep input order.
func (p *Pipeline) Validate(ctx context.Context, records []dataset.Record) ([]validate.Violation, error) {
	results, err := Map(ctx, p.workers, records, func(_ context.Context, rec dataset.Record) ([]validate.Violation, error) {
		return validate.Record(rec), nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var out []validate.Violation
	for _, vs := range results {
		out = append(out, vs...)
		if p.metrics == nil {
			continue
		}
		status := StatusOK
		if len(vs) > 0 {
			status = StatusInvalid
		}
		p.metrics.recordsTotal.WithLabelValues("validate", status).Inc()
		for _, v := range vs {
			p.metrics.violationsTotal.WithLabelValues(string(v.Rule)).Inc()
		}
	}
	return out, nil
}

// EmailChange records one rewritten EMAIL slot.
type EmailChange struct {
	RecordID string
	Before   string
	After    string
}

// CleanEmails replaces every EMAIL slot value by the address extracted from
// it. Records are copied; only changed values are reported.
func CleanEmails(records []dataset.Record) ([]dataset.Record, []EmailChange) {
	out := make([]dataset.Record, len(records))
	var changes []EmailChange
	key := string(schema.Email)
	for i, rec := range records {
		out[i] = rec.Clone()
		raw, ok := out[i].Slots.Get(key)
		if !ok {
			continue
		}
		cleaned := validate.ExtractEmail(raw)
		if cleaned == raw {
			continue
		}
		out[i].Slots.Set(key, cleaned)
		changes = append(changes, EmailChange{RecordID: rec.ID, Before: raw, After: cleaned})
	}
	return out, changes
}
