package compute

import (
	"sort"

	"github.com/tetraminz/slotner/internal/align"
)

// Metrics are deterministic values computed directly from a label sequence.
type Metrics struct {
	TokenCount    int `json:"token_count"`
	IgnoredTokens int `json:"ignored_tokens"`
	OutsideTokens int `json:"outside_tokens"`
	EntityTokens  int `json:"entity_tokens"`
	EntitySpans   int `json:"entity_spans"`
}

// ComputeMetrics derives token metrics from one aligned record.
func ComputeMetrics(labels []align.Label) Metrics {
	var metrics Metrics
	metrics.TokenCount = len(labels)

	for _, label := range labels {
		switch {
		case label == align.Ignored:
			metrics.IgnoredTokens++
		case label == align.Outside:
			metrics.OutsideTokens++
		default:
			metrics.EntityTokens++
			if label.IsBegin() {
				metrics.EntitySpans++
			}
		}
	}
	return metrics
}

// Add accumulates other into m.
func (m *Metrics) Add(other Metrics) {
	m.TokenCount += other.TokenCount
	m.IgnoredTokens += other.IgnoredTokens
	m.OutsideTokens += other.OutsideTokens
	m.EntityTokens += other.EntityTokens
	m.EntitySpans += other.EntitySpans
}

// LabelCount is one row of a label distribution.
type LabelCount struct {
	Label align.Label `json:"label"`
	Count int         `json:"count"`
}

// LabelDistribution counts labels over the first n sequences, ignoring
// ignored tokens, and returns the top most frequent. n <= 0 means all
// sequences; top <= 0 means all labels. Ties order by label.
func LabelDistribution(seqs [][]align.Label, n, top int) []LabelCount {
	if n <= 0 || n > len(seqs) {
		n = len(seqs)
	}
	counts := make(map[align.Label]int)
	for _, seq := range seqs[:n] {
		for _, label := range seq {
			if label == align.Ignored {
				continue
			}
			counts[label]++
		}
	}

	out := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Label < out[j].Label
		}
		return out[i].Count > out[j].Count
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
