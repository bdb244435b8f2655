// Package capture holds Capture implementations that are not tied to a
// platform radio stack.
package capture

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

var ErrRadioOff = errors.New("capture: radio is switched off")

// Device is a peer the simulated radio can discover.
type Device struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	RSSI    int    `yaml:"rssi"`
}

type SimulatedConfig struct {
	Devices []Device `yaml:"devices"`
	// Interval between sightings while a scan is running.
	Interval time.Duration `yaml:"interval"`
	// Presence is the chance a given device is seen on each tick.
	Presence float64 `yaml:"presence"`
	Disabled bool    `yaml:"disabled"`
	Seed     uint64  `yaml:"seed"`
}

// SimulatedRadio stands in for a BLE radio. While scanning it reports the
// configured devices with jittered signal strength from its own goroutine.
type SimulatedRadio struct {
	probeID string
	cfg     SimulatedConfig
	now     func() time.Time

	mu          sync.Mutex
	out         ports.Emitter
	enabled     bool
	rng         *rand.Rand
	seq         uint64
	scanCancel  context.CancelFunc
	scanDone    chan struct{}
	advertising bool
}

func NewSimulatedRadio(probeID string, cfg SimulatedConfig) *SimulatedRadio {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Presence <= 0 || cfg.Presence > 1 {
		cfg.Presence = 0.5
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SimulatedRadio{
		probeID: probeID,
		cfg:     cfg,
		now:     time.Now,
		enabled: !cfg.Disabled,
		rng:     rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (r *SimulatedRadio) Bind(out ports.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
}

func (r *SimulatedRadio) Enabled(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Enable switches the radio on unless the configuration pins it off.
func (r *SimulatedRadio) Enable(context.Context) error {
	if r.cfg.Disabled {
		return ErrRadioOff
	}
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	return nil
}

func (r *SimulatedRadio) StartScan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrRadioOff
	}
	if r.scanCancel != nil {
		return nil
	}
	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.scanCancel = cancel
	r.scanDone = done
	go r.scan(scanCtx, done)
	return nil
}

func (r *SimulatedRadio) StopScan(context.Context) error {
	r.mu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (r *SimulatedRadio) StartAdvertise(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrRadioOff
	}
	r.advertising = true
	return nil
}

func (r *SimulatedRadio) StopAdvertise(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertising = false
	return nil
}

func (r *SimulatedRadio) Advertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

func (r *SimulatedRadio) scan(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep()
		}
	}
}

// sweep reports every device that happens to be in range this tick.
func (r *SimulatedRadio) sweep() {
	r.mu.Lock()
	out := r.out
	var found []*domain.Observation
	for _, d := range r.cfg.Devices {
		if r.rng.Float64() >= r.cfg.Presence {
			continue
		}
		r.seq++
		found = append(found, &domain.Observation{
			ProbeID:   r.probeID,
			SensorID:  d.Address,
			Timestamp: r.now(),
			Seq:       r.seq,
			Values:    map[string]float64{"rssi": float64(d.RSSI + r.rng.IntN(9) - 4)},
			Tags:      map[string]string{"name": d.Name},
		})
	}
	r.mu.Unlock()

	if out == nil {
		return
	}
	for _, o := range found {
		out.Append(o)
	}
}

var (
	_ ports.Capture = (*SimulatedRadio)(nil)
	_ ports.Enabler = (*SimulatedRadio)(nil)
)
