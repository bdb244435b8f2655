package aegisprobe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisProbe/internal/adapters/capture"
	"github.com/ghalamif/AegisProbe/internal/adapters/mqtt"
	"github.com/ghalamif/AegisProbe/internal/adapters/observability"
	"github.com/ghalamif/AegisProbe/internal/adapters/opcua"
	"github.com/ghalamif/AegisProbe/internal/adapters/queue"
	"github.com/ghalamif/AegisProbe/internal/adapters/sink"
	"github.com/ghalamif/AegisProbe/internal/adapters/store"
	"github.com/ghalamif/AegisProbe/internal/adapters/wal"
	"github.com/ghalamif/AegisProbe/internal/app/agent"
	"github.com/ghalamif/AegisProbe/internal/app/config"
	"github.com/ghalamif/AegisProbe/internal/app/delivery"
	"github.com/ghalamif/AegisProbe/internal/app/pipeline"
	"github.com/ghalamif/AegisProbe/internal/app/probe"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	capture       Capture
	listener      Listener
	probe         Probe
	sink          Sink
	wal           WAL
	queue         ObservationQueue
	observability Observability
	policyStore   PolicyStore
	outcomes      OutcomeSource
	outbox        RequestOutbox
	random        RandomSource
	logger        *slog.Logger
}

// WithCapture drives the scan cycle with a caller-provided radio.
func WithCapture(c Capture) RuntimeOption {
	return func(o *runtimeOverrides) { o.capture = c }
}

// WithListener runs a listening probe over a caller-provided source.
func WithListener(l Listener) RuntimeOption {
	return func(o *runtimeOverrides) { o.listener = l }
}

// WithProbe replaces the probe entirely; capture and listener are ignored.
func WithProbe(p Probe) RuntimeOption {
	return func(o *runtimeOverrides) { o.probe = p }
}

// WithSink injects a custom sink so observations can go to any database or API.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) { o.sink = s }
}

// WithWAL lets callers bring their own WAL implementation or reuse an existing instance.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) { o.wal = w }
}

// WithQueue injects a custom queue implementation.
func WithQueue(q ObservationQueue) RuntimeOption {
	return func(o *runtimeOverrides) { o.queue = q }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithPolicyStore replaces the SQLite policy store.
func WithPolicyStore(s PolicyStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.policyStore = s }
}

// WithOutcomeSource feeds outcomes from somewhere other than MQTT.
func WithOutcomeSource(src OutcomeSource) RuntimeOption {
	return func(o *runtimeOverrides) { o.outcomes = src }
}

// WithOutbox sends built requests somewhere other than the SQLite outbox.
func WithOutbox(ob RequestOutbox) RuntimeOption {
	return func(o *runtimeOverrides) { o.outbox = ob }
}

// WithRandomSource makes delivery decisions reproducible.
func WithRandomSource(r RandomSource) RuntimeOption {
	return func(o *runtimeOverrides) { o.random = r }
}

// WithLogger sets the slog logger used by the default observability backend.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = l }
}

// Runtime wires probe → WAL → queue → sink, the outcome → agent loop and the
// delivery dispatcher, and exposes lifecycle hooks for embedding AegisProbe
// inside any Go service.
type Runtime struct {
	cfg        *Config
	policy     ports.IngestPolicy
	obs        ports.Observability
	registry   *prometheus.Registry
	wal        ports.WAL
	queue      ports.ObservationQueue
	probe      ports.Probe
	scheduler  *probe.Scheduler
	sink       ports.Sink
	agent      *agent.Agent
	dispatcher *delivery.Dispatcher
	store      ports.PolicyStore
	keeper     *pipeline.PolicyKeeper
	outcomes   ports.OutcomeSource
	outbox     ports.RequestOutbox
	pending    pipeline.DueOutbox

	db         *sql.DB
	storeDB    *sql.DB
	mqttClient paho.Client
	metrics    *metricsServer

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	probeDone   chan struct{}
	workers     sync.WaitGroup
	gaugeStopCh chan struct{}
}

// NewRuntime bootstraps the default adapters (simulated radio or OPC UA
// listener, file WAL, in-memory queue, Timescale sink, SQLite store,
// Prometheus observability). RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rt := &Runtime{cfg: cfg, policy: cfg.Ingest}
	ok := false
	defer func() {
		if !ok {
			rt.closeResources()
		}
	}()

	rt.obs = o.observability
	if rt.obs == nil {
		logger := o.logger
		if logger == nil {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		}
		rt.registry = prometheus.NewRegistry()
		rt.obs = observability.NewPromObs(observability.WithRegisterer(rt.registry), observability.WithLogger(logger))
	}

	rt.wal = o.wal
	if rt.wal == nil {
		w, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
		rt.wal = w
	}

	rt.queue = o.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Ingest.MaxQueueLen)
	}

	p, err := buildProbe(cfg, o, rt.obs)
	if err != nil {
		return nil, err
	}
	rt.probe = p
	rt.scheduler = probe.NewScheduler(p, cfg.Probe.PollInterval, cfg.Probe.ScanDuration, rt.obs)

	rt.sink = o.sink
	if rt.sink == nil {
		if cfg.Timescale.ConnString == "" {
			return nil, fmt.Errorf("no sink: set timescale.conn_string or use WithSink")
		}
		rt.db, err = sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return nil, err
		}
		if rt.sink, err = sink.NewTimescaleSink(rt.db, cfg.Timescale.Table); err != nil {
			return nil, err
		}
	}

	rt.store = o.policyStore
	rt.outbox = o.outbox
	if rt.store == nil || rt.outbox == nil {
		rt.storeDB, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s := store.New(rt.storeDB)
		if rt.store == nil {
			rt.store = s
		}
		if rt.outbox == nil {
			rt.outbox = s
			rt.pending = s
		}
	}
	rt.outcomes = o.outcomes

	rt.agent = agent.New(cfg.Agent.AgentSeed(), agent.WithRandomSource(o.random), agent.WithObservability(rt.obs))
	rt.keeper = pipeline.NewPolicyKeeper(rt.agent, rt.store)

	builder, err := delivery.NewBuilder(cfg.Delivery.ProtocolID)
	if err != nil {
		return nil, err
	}
	rt.dispatcher, err = delivery.NewDispatcher(rt.agent, builder, rt.outbox, delivery.DispatcherConfig{
		DefaultTarget: cfg.Delivery.DefaultTarget,
		DefaultFormat: cfg.Delivery.DefaultFormat,
	}, rt.obs)
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

func buildProbe(cfg *Config, o runtimeOverrides, obs ports.Observability) (ports.Probe, error) {
	if o.probe != nil {
		return o.probe, nil
	}

	if o.listener != nil || cfg.Probe.Kind == config.ProbeKindAmbient {
		l := o.listener
		if l == nil {
			al, err := opcua.NewAmbientListener(cfg.Probe.ID, cfg.OPCUA, obs)
			if err != nil {
				return nil, err
			}
			l = al
		}
		return probe.NewListeningProbe(cfg.Probe.ID, l, obs)
	}

	c := o.capture
	if c == nil {
		c = capture.NewSimulatedRadio(cfg.Probe.ID, cfg.Probe.Simulated)
	}
	return probe.NewScanController(cfg.Probe.ID, c,
		probe.WithObservability(obs),
		probe.WithScanDuration(cfg.Probe.ScanDuration),
	)
}

// Start restores the persisted policy, activates the probe and launches the
// pipelines and metrics server. It returns once everything is running.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}

	if err := r.restorePolicy(ctx); err != nil {
		return err
	}
	if err := r.probe.Initialize(ctx); err != nil {
		return fmt.Errorf("activate probe %s: %w", r.probe.ID(), err)
	}
	if err := r.probe.Start(ctx); err != nil {
		return fmt.Errorf("start probe %s: %w", r.probe.ID(), err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		if err := pipeline.RunIngestPipeline(runCtx, r.wal, r.queue, r.sink, r.policy, r.obs); err != nil {
			r.obs.LogError("ingest_pipeline_exited", err)
		}
	}()

	if _, err := pipeline.ReplayWAL(runCtx, r.wal, r.queue, r.policy, r.obs); err != nil {
		r.obs.LogError("wal_replay_failed", err)
	}

	r.probeDone = make(chan struct{})
	go func() {
		defer close(r.probeDone)
		if err := pipeline.RunProbePipeline(runCtx, r.scheduler, r.wal, r.queue, r.policy, r.obs, r.agent); err != nil {
			r.obs.LogError("probe_pipeline_exited", err, ports.F("probe", r.probe.ID()))
		}
	}()

	if err := r.startMQTT(runCtx); err != nil {
		r.obs.LogError("mqtt_unavailable", err, ports.F("broker", r.cfg.MQTT.Broker))
	}

	if r.cfg.Metrics.Addr != "" {
		m, err := startMetricsServer(r.cfg.Metrics.Addr, r.registry, r.obs)
		if err != nil {
			r.obs.LogError("metrics_server_failed", err, ports.F("addr", r.cfg.Metrics.Addr))
		} else {
			r.metrics = m
		}
	}
	r.gaugeStopCh = make(chan struct{})
	go r.recordResourceGauges(r.gaugeStopCh, time.Second)

	r.started = true
	return nil
}

func (r *Runtime) restorePolicy(ctx context.Context) error {
	p, found, err := r.keeper.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore policy: %w", err)
	}
	if found {
		r.obs.LogInfo("policy_restored", ports.F("policy", p.String()))
	}
	return nil
}

// startMQTT connects to the broker when one is configured. The connection
// feeds the outcome pipeline and relays due requests from the SQLite outbox.
func (r *Runtime) startMQTT(ctx context.Context) error {
	if r.cfg.MQTT.Broker != "" && (r.outcomes == nil || r.pending != nil) {
		client, err := mqtt.Connect(r.cfg.MQTT, r.obs)
		if err != nil {
			return err
		}
		r.mqttClient = client
		if r.outcomes == nil {
			r.outcomes = mqtt.NewOutcomeSource(client, r.cfg.MQTT, r.obs)
		}
		if r.pending != nil {
			pub := mqtt.NewRequestPublisher(client, r.cfg.MQTT)
			r.workers.Add(1)
			go func() {
				defer r.workers.Done()
				_ = pipeline.RunOutboxRelay(ctx, r.pending, pub, time.Second, r.cfg.Ingest.MaxBatchSize, r.obs)
			}()
		}
	}

	if r.outcomes == nil {
		return nil
	}
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		if err := pipeline.RunOutcomePipeline(ctx, r.outcomes, r.keeper, r.obs); err != nil {
			r.obs.LogError("outcome_pipeline_exited", err)
		}
	}()
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return errors.Join(err, r.Shutdown(context.Background()))
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the probe first so its last drain is spooled, then the
// pipelines, the metrics server and every connection.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.started {
		if err := r.probe.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		select {
		case <-r.probeDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("probe pipeline: %w", ctx.Err()))
		}

		r.cancel()
		done := make(chan struct{})
		go func() {
			r.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("pipelines: %w", ctx.Err()))
		}

		close(r.gaugeStopCh)
		if r.metrics != nil {
			if err := r.metrics.shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		r.started = false
	}

	if err := r.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeResources() error {
	var errs []error
	if r.outcomes != nil {
		if err := r.outcomes.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.mqttClient != nil {
		r.mqttClient.Disconnect(250)
		r.mqttClient = nil
	}
	if r.wal != nil {
		if err := r.wal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	if r.storeDB != nil {
		if err := r.storeDB.Close(); err != nil {
			errs = append(errs, err)
		}
		r.storeDB = nil
	}
	return errors.Join(errs...)
}

func (r *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.obs.SetGauge("aegis_wal_size_bytes", float64(r.wal.Stats().SizeBytes))
			r.obs.SetGauge("aegis_queue_length", float64(r.queue.Len()))
			r.obs.SetGauge("aegis_delivery_probability", r.agent.Policy().Probability)
		}
	}
}

// Offer asks the agent whether c goes out now and schedules the request.
// An empty payload is replaced by the configured survey text.
func (r *Runtime) Offer(ctx context.Context, c Candidate) (Offer, error) {
	if c.Payload == (SurveyPayload{}) {
		d := r.cfg.Delivery
		c.Payload = SurveyPayload{Title: d.Title, Body: d.Body, Sound: d.Sound, Command: d.Command}
	}
	return r.dispatcher.Offer(ctx, c)
}

// Observe feeds one outcome to the agent outside the outcome source and
// persists the resulting policy. It is serialized with the outcome pipeline.
func (r *Runtime) Observe(ctx context.Context, ev OutcomeEvent) (DeliveryPolicy, error) {
	return r.keeper.Observe(ctx, ev)
}

// SetPolicy replaces and persists the agent's policy.
func (r *Runtime) SetPolicy(ctx context.Context, p DeliveryPolicy) error {
	return r.keeper.Set(ctx, p)
}

// ResetPolicy returns the probability to the default midpoint and persists it.
func (r *Runtime) ResetPolicy(ctx context.Context) error {
	return r.keeper.Reset(ctx)
}

func (r *Runtime) Policy() DeliveryPolicy { return r.agent.Policy() }
func (r *Runtime) AgentID() string        { return r.agent.ID() }
func (r *Runtime) Describe() string       { return r.agent.Describe() }
func (r *Runtime) ProbeID() string        { return r.probe.ID() }

// ProbeState reports the probe lifecycle state when the probe exposes one.
func (r *Runtime) ProbeState() ScanState {
	type stater interface{ State() ScanState }
	if s, ok := r.probe.(stater); ok {
		return s.State()
	}
	return ScanUninitialized
}

// WALStats reports WAL positions and size.
func (r *Runtime) WALStats() WALStats { return r.wal.Stats() }

// MetricsAddr is the bound metrics listener address, empty when not serving.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metrics == nil {
		return ""
	}
	return r.metrics.addr()
}
