package aegisprobe

import (
	"context"
	"errors"
)

var errNilFlow = errors.New("aegisprobe: nil flow")

// Flow assembles a Runtime in two stages. The in stage decides where
// observations come from (radio, listener, WAL, queue); the out stage decides
// where they land and how surveys reach users (sink, outbox, outcome feed).
//
//	flow, _ := aegisprobe.Conf("config.yaml")
//	rt, _ := flow.StreamIN(aegisprobe.StreamInListener(l)).
//		StreamOUT(aegisprobe.StreamOutCallback("log", fn))
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption adjusts a Flow while it is created.
type FlowOption func(*Flow)

// StreamInOption overrides an acquisition-side dependency.
type StreamInOption RuntimeOption

// StreamOutOption overrides a sink or delivery-side dependency.
type StreamOutOption RuntimeOption

// Conf loads the YAML config at path and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("aegisprobe: config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config may be edited until StreamOUT builds the runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw runtime options, e.g. WithPolicyStore or WithRandomSource.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f != nil {
		f.add(opts...)
	}
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f != nil {
		for _, opt := range opts {
			f.add(RuntimeOption(opt))
		}
	}
	return f
}

// StreamOUT applies the out stage and builds the runtime. Nothing runs until
// Start or Run is called on it.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errNilFlow
	}
	for _, opt := range opts {
		f.add(RuntimeOption(opt))
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run builds the runtime and runs it until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.add(opts...) }
}

func (f *Flow) add(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}

// StreamInCapture scans with c instead of the simulated radio.
func StreamInCapture(c Capture) StreamInOption {
	if c == nil {
		return nil
	}
	return StreamInOption(WithCapture(c))
}

// StreamInListener replaces the scan cycle with a listening probe over l.
func StreamInListener(l Listener) StreamInOption {
	if l == nil {
		return nil
	}
	return StreamInOption(WithListener(l))
}

func StreamInQueue(q ObservationQueue) StreamInOption {
	if q == nil {
		return nil
	}
	return StreamInOption(WithQueue(q))
}

func StreamInWAL(w WAL) StreamInOption {
	if w == nil {
		return nil
	}
	return StreamInOption(WithWAL(w))
}

// StreamInObservability replaces the Prometheus metrics and slog logging.
func StreamInObservability(obs Observability) StreamInOption {
	if obs == nil {
		return nil
	}
	return StreamInOption(WithObservability(obs))
}

// StreamOutSink lands observation batches in s instead of TimescaleDB.
func StreamOutSink(s Sink) StreamOutOption {
	if s == nil {
		return nil
	}
	return StreamOutOption(WithSink(s))
}

// StreamOutCallback lands observation batches in fn.
func StreamOutCallback(name string, fn BatchFunc) StreamOutOption {
	return StreamOutOption(WithSink(NewCallbackSink(name, fn)))
}

// StreamOutOutbox hands built survey requests to ob instead of the SQLite outbox.
func StreamOutOutbox(ob RequestOutbox) StreamOutOption {
	if ob == nil {
		return nil
	}
	return StreamOutOption(WithOutbox(ob))
}

// StreamOutOutcomes trains the agent from src instead of MQTT.
func StreamOutOutcomes(src OutcomeSource) StreamOutOption {
	if src == nil {
		return nil
	}
	return StreamOutOption(WithOutcomeSource(src))
}
