package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Record outcomes used as the status label of slotner_records_total.
const (
	StatusOK        = "ok"
	StatusMalformed = "malformed"
	StatusInvalid   = "invalid"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal    *prometheus.CounterVec
	ungroundedTotal *prometheus.CounterVec
	droppedTotal    prometheus.Counter
	violationsTotal *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotner_records_total",
			Help: "Records processed per stage",
		},
		[]string{"stage", "status"}, // status: ok, malformed, invalid
	)

	m.ungroundedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotner_ungrounded_slots_total",
			Help: "Entity slots whose value does not occur in the text",
		},
		[]string{"type"},
	)

	m.droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slotner_dropped_entities_total",
			Help: "Entities that overlapped no token after truncation",
		},
	)

	m.violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotner_violations_total",
			Help: "Validation violations per rule",
		},
		[]string{"rule"},
	)

	m.tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotner_tokens_total",
			Help: "Aligned tokens by kind",
		},
		[]string{"kind"}, // kind: ignored, outside, entity
	)
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.recordsTotal.Describe(ch)
	m.ungroundedTotal.Describe(ch)
	m.droppedTotal.Describe(ch)
	m.violationsTotal.Describe(ch)
	m.tokensTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.recordsTotal.Collect(ch)
	m.ungroundedTotal.Collect(ch)
	m.droppedTotal.Collect(ch)
	m.violationsTotal.Collect(ch)
	m.tokensTotal.Collect(ch)
}

// WriteTextfile dumps every metric of the registry in the text exposition
// format, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %q: %w", path, err)
	}
	return nil
}
