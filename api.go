package aegisprobe

import (
	"context"

	base "github.com/ghalamif/AegisProbe/pkg/aegisprobe"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull         = base.ErrQueueFull
	ErrWALFull           = base.ErrWALFull
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisProbe directly.
type (
	Config          = base.Config
	IngestPolicy    = base.IngestPolicy
	ProbeConfig     = base.ProbeConfig
	AgentConfig     = base.AgentConfig
	DeliveryConfig  = base.DeliveryConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	TimescaleConfig = base.TimescaleConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	StoreConfig     = base.StoreConfig
	MQTTConfig      = base.MQTTConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Observation     = base.Observation
	BatchFunc       = base.BatchFunc
	Capture         = base.Capture
	Listener        = base.Listener
	Emitter         = base.Emitter
	Probe           = base.Probe
	Sink            = base.Sink
	WAL             = base.WAL
	Observability   = base.Observability
	PolicyStore     = base.PolicyStore
	OutcomeSource   = base.OutcomeSource
	RequestOutbox   = base.RequestOutbox
	DeliveryPolicy  = base.DeliveryPolicy
	DeliveryRequest = base.DeliveryRequest
	OutcomeEvent    = base.OutcomeEvent
	Candidate       = base.Candidate
	Offer           = base.Offer
	Publisher       = base.Publisher
	PublisherConfig = base.PublisherConfig
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCapture(c Capture) StreamInOption {
	return base.StreamInCapture(c)
}

func StreamInListener(l Listener) StreamInOption {
	return base.StreamInListener(l)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutCallback(name string, fn BatchFunc) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func StreamOutOutbox(ob RequestOutbox) StreamOutOption {
	return base.StreamOutOutbox(ob)
}

func StreamOutOutcomes(src OutcomeSource) StreamOutOption {
	return base.StreamOutOutcomes(src)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCapture(c Capture) RuntimeOption {
	return base.WithCapture(c)
}

func WithListener(l Listener) RuntimeOption {
	return base.WithListener(l)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithPolicyStore(s PolicyStore) RuntimeOption {
	return base.WithPolicyStore(s)
}

func WithOutcomeSource(src OutcomeSource) RuntimeOption {
	return base.WithOutcomeSource(src)
}

func WithOutbox(ob RequestOutbox) RuntimeOption {
	return base.WithOutbox(ob)
}

// Run loads the config at path and runs the default runtime until ctx is done.
func Run(ctx context.Context, path string) error {
	f, err := base.Conf(path)
	if err != nil {
		return err
	}
	return f.Run(ctx)
}

// Sink adapters.
func NewCallbackSink(name string, fn BatchFunc) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Observation, func()) {
	return base.NewChannelSink(name, buffer)
}

// Observation publisher.
func NewPublisher(cfg PublisherConfig, sink Sink) (*Publisher, error) {
	return base.NewPublisher(cfg, sink)
}
