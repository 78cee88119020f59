package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetraminz/slotner/internal/align"
	"github.com/tetraminz/slotner/internal/compute"
	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/schema"
	"github.com/tetraminz/slotner/internal/spans"
	"github.com/tetraminz/slotner/internal/tokenize"
)

// Split names.
const (
	SplitTrain      = "train"
	SplitEval       = "eval"
	SplitUnassigned = "unassigned"
)

// Splitter assigns a split from a record's group.
type Splitter struct {
	TrainGroups []string
	EvalGroups  []string
}

// DefaultSplitter trains on L1 and L2 and evaluates on L3.
func DefaultSplitter() Splitter {
	return Splitter{TrainGroups: []string{"L1", "L2"}, EvalGroups: []string{"L3"}}
}

func (s Splitter) Split(group string) string {
	switch {
	case slices.Contains(s.TrainGroups, group):
		return SplitTrain
	case slices.Contains(s.EvalGroups, group):
		return SplitEval
	}
	return SplitUnassigned
}

// AlignOptions configures Align.
type AlignOptions struct {
	Tokenizer tokenize.Tokenizer
	MaxLength int
	Splitter  Splitter
	// LabelSet overrides the vocabulary derived from the batch.
	LabelSet *align.LabelSet
}

// AlignedRecord is one tokenized, labeled training example.
type AlignedRecord struct {
	ConvID   string        `json:"conv_id"`
	Group    string        `json:"group,omitempty"`
	Split    string        `json:"split"`
	Tokens   [][2]int      `json:"tokens"`
	Labels   []align.Label `json:"labels"`
	LabelIDs []int         `json:"label_ids"`
}

// AlignResult is the output of Align.
type AlignResult struct {
	Records  []AlignedRecord
	LabelSet *align.LabelSet
	Metrics  compute.Metrics
	Dropped  int
	// SplitSizes counts records per split.
	SplitSizes map[string]int
}

type aligned struct {
	rec     AlignedRecord
	dropped int
}

// Align tokenizes every record and labels its tokens from its entities.
// Records without an entities field get them generated from their slots.
func (p *Pipeline) Align(ctx context.Context, records []dataset.Record, opts AlignOptions) (AlignResult, error) {
	if opts.Tokenizer == nil {
		return AlignResult{}, tokenize.ErrNoTokenizer
	}

	entities := make([][]schema.Entity, len(records))
	for i, rec := range records {
		entities[i] = rec.Entities
		if entities[i] == nil {
			entities[i], _ = spans.GenerateEntities(rec.Text, rec.Slots)
			continue
		}
		for _, e := range rec.Entities {
			if e.Text != "" && spans.Substring(rec.Text, e.Start, e.End) != e.Text {
				p.log.Warn("entity text does not match its span",
					"conv_id", rec.ID, "type", e.Type, "start", e.Start, "end", e.End, "text", e.Text)
			}
		}
	}

	ls := opts.LabelSet
	if ls == nil {
		ls = align.LabelSetFromEntities(entities)
	}

	indices := make([]int, len(records))
	for i := range indices {
		indices[i] = i
	}
	results, err := Map(ctx, p.workers, indices, func(_ context.Context, i int) (aligned, error) {
		rec := records[i]
		offsets, err := opts.Tokenizer.Offsets(rec.Text, opts.MaxLength)
		if err != nil {
			return aligned{}, fmt.Errorf("tokenize %q: %w", rec.ID, err)
		}
		labels, stats := align.AlignWithStats(offsets, entities[i])
		ids, err := ls.Encode(labels)
		if err != nil {
			return aligned{}, fmt.Errorf("encode %q: %w", rec.ID, err)
		}
		tokens := make([][2]int, len(offsets))
		for k, o := range offsets {
			tokens[k] = [2]int{o.Start, o.End}
		}
		return aligned{
			rec: AlignedRecord{
				ConvID:   rec.ID,
				Group:    rec.Group,
				Split:    opts.Splitter.Split(rec.Group),
				Tokens:   tokens,
				Labels:   labels,
				LabelIDs: ids,
			},
			dropped: len(stats.Dropped),
		}, nil
	})
	if err != nil {
		return AlignResult{}, fmt.Errorf("align: %w", err)
	}

	res := AlignResult{
		Records:    make([]AlignedRecord, len(results)),
		LabelSet:   ls,
		SplitSizes: make(map[string]int),
	}
	for i, r := range results {
		res.Records[i] = r.rec
		res.Dropped += r.dropped
		res.SplitSizes[r.rec.Split]++
		if r.dropped > 0 {
			p.log.Debug("entities dropped by truncation", "conv_id", r.rec.ConvID, "count", r.dropped)
		}
		res.Metrics.Add(compute.ComputeMetrics(r.rec.Labels))
	}

	if p.metrics != nil {
		p.metrics.recordsTotal.WithLabelValues("align", StatusOK).Add(float64(len(res.Records)))
		p.metrics.droppedTotal.Add(float64(res.Dropped))
		p.metrics.tokensTotal.WithLabelValues("ignored").Add(float64(res.Metrics.IgnoredTokens))
		p.metrics.tokensTotal.WithLabelValues("outside").Add(float64(res.Metrics.OutsideTokens))
		p.metrics.tokensTotal.WithLabelValues("entity").Add(float64(res.Metrics.EntityTokens))
	}
	return res, nil
}

// LabelSequences returns the label column of records.
func LabelSequences(records []AlignedRecord) [][]align.Label {
	out := make([][]align.Label, len(records))
	for i, r := range records {
		out[i] = r.Labels
	}
	return out
}

// Vocabulary is the labels.json document.
type Vocabulary struct {
	LabelList []align.Label  `json:"label_list"`
	Label2ID  map[string]int `json:"label2id"`
}

// LabelSet rebuilds the vocabulary and checks that label2id agrees with
// the label list.
func (v Vocabulary) LabelSet() (*align.LabelSet, error) {
	ls, err := align.ParseLabelSet(v.LabelList)
	if err != nil {
		return nil, err
	}
	if len(v.Label2ID) != ls.Len() {
		return nil, fmt.Errorf("label2id has %d entries, label_list has %d", len(v.Label2ID), ls.Len())
	}
	for name, id := range v.Label2ID {
		l, ok := ls.Label(id)
		if !ok || string(l) != name {
			return nil, fmt.Errorf("label2id[%q] = %d does not match label_list", name, id)
		}
	}
	return ls, nil
}

// NewVocabulary renders ls for labels.json.
func NewVocabulary(ls *align.LabelSet) Vocabulary {
	return Vocabulary{LabelList: ls.Labels(), Label2ID: ls.Label2ID()}
}
