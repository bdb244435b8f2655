package observability

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// PromObs backs ports.Observability with Prometheus collectors and slog.
// Metric names not registered here are ignored.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

type Option func(*promConfig)

type promConfig struct {
	reg    prometheus.Registerer
	logger *slog.Logger
}

// WithRegisterer registers the collectors somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *promConfig) { c.reg = reg }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *promConfig) { c.logger = l }
}

func NewPromObs(opts ...Option) *PromObs {
	cfg := promConfig{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		logger: cfg.logger,
		counters: map[string]prometheus.Counter{
			"aegis_probe_polls_total":           counter("aegis_probe_polls_total", "Completed probe polls."),
			"aegis_probe_empty_polls_total":     counter("aegis_probe_empty_polls_total", "Polls that found nothing."),
			"aegis_observations_ingested_total": counter("aegis_observations_ingested_total", "Observations successfully written to the sink."),
			"aegis_queue_dropped_total":         counter("aegis_queue_dropped_total", "Observations lost to queue or WAL backpressure policies."),
			"aegis_dlq_total":                   counter("aegis_dlq_total", "Incomplete observations dead-lettered by the ingest pipeline."),
			"aegis_outcomes_total":              counter("aegis_outcomes_total", "Survey outcomes observed by the agent."),
			"aegis_deliveries_total":            counter("aegis_deliveries_total", "Decisions to deliver immediately."),
			"aegis_deferrals_total":             counter("aegis_deferrals_total", "Decisions to defer delivery."),
			"aegis_requests_relayed_total":      counter("aegis_requests_relayed_total", "Due delivery requests handed to the push relay."),
		},
		gauges: map[string]prometheus.Gauge{
			"aegis_wal_size_bytes":       gauge("aegis_wal_size_bytes", "Size of the observation WAL on disk."),
			"aegis_queue_length":         gauge("aegis_queue_length", "Observations buffered in the in-memory queue."),
			"aegis_delivery_probability": gauge("aegis_delivery_probability", "Current immediate-delivery probability."),
		},
		histos: map[string]prometheus.Observer{},
	}

	sinkLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_sink_latency_seconds",
		Help:    "Latency from dequeued batch to sink commit.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	pollLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_probe_poll_seconds",
		Help:    "Wall time of a probe poll including the scan wait.",
		Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
	})
	p.histos["ingest_sink_latency_seconds"] = sinkLatency
	p.histos["aegis_probe_poll_seconds"] = pollLatency

	collectors := []prometheus.Collector{sinkLatency, pollLatency}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	cfg.reg.MustRegister(collectors...)
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, obs *domain.Observation, err error) {
	p.IncCounter("aegis_dlq_total", 1)
	args := []any{slog.Uint64("wal_id", uint64(id)), slog.Any("err", err)}
	if obs != nil {
		args = append(args, slog.String("probe", obs.ProbeID), slog.String("sensor", obs.SensorID))
	}
	p.logger.Warn("observation_dlq", args...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
