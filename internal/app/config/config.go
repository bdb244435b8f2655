package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisProbe/internal/adapters/capture"
	"github.com/ghalamif/AegisProbe/internal/adapters/mqtt"
	"github.com/ghalamif/AegisProbe/internal/adapters/opcua"
	"github.com/ghalamif/AegisProbe/internal/app/agent"
	"github.com/ghalamif/AegisProbe/internal/app/probe"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

const (
	ProbeKindSimulated = "simulated"
	ProbeKindAmbient   = "ambient"
)

type Config struct {
	Probe     ProbeConfig        `yaml:"probe"`
	Agent     AgentConfig        `yaml:"agent"`
	Delivery  DeliveryConfig     `yaml:"delivery"`
	Ingest    ports.IngestPolicy `yaml:"ingest"`
	OPCUA     opcua.Config       `yaml:"opcua"`
	Timescale TimescaleConfig    `yaml:"timescale"`
	Metrics   MetricsConfig      `yaml:"metrics"`
	WAL       WALConfig          `yaml:"wal"`
	Store     StoreConfig        `yaml:"store"`
	MQTT      mqtt.Config        `yaml:"mqtt"`
}

type ProbeConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
	// ScanDuration is raised to the 5s minimum when shorter.
	ScanDuration time.Duration           `yaml:"scan_duration"`
	PollInterval time.Duration           `yaml:"poll_interval"`
	Simulated    capture.SimulatedConfig `yaml:"simulated"`
}

type AgentConfig struct {
	Probability *float64      `yaml:"probability"`
	Deferral    time.Duration `yaml:"deferral"`
	Rewards     agent.Rewards `yaml:"rewards"`
}

// AgentSeed converts the section into the agent's starting configuration.
func (a AgentConfig) AgentSeed() agent.Config {
	cfg := agent.Config{
		Policy:  domain.DeliveryPolicy{Probability: domain.DefaultProbability, Deferral: a.Deferral},
		Rewards: a.Rewards,
	}
	if a.Probability != nil {
		cfg.Policy.Probability = *a.Probability
	}
	return cfg
}

type DeliveryConfig struct {
	ProtocolID    string        `yaml:"protocol_id"`
	DefaultTarget string        `yaml:"default_target"`
	DefaultFormat domain.Format `yaml:"default_format"`
	Title         string        `yaml:"title"`
	Body          string        `yaml:"body"`
	Sound         string        `yaml:"sound"`
	Command       string        `yaml:"command"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Probe.ID == "" {
		c.Probe.ID = "bluetooth"
	}
	if c.Probe.Kind == "" {
		c.Probe.Kind = ProbeKindSimulated
	}
	if c.Probe.ScanDuration == 0 {
		c.Probe.ScanDuration = probe.DefaultScanDuration
	}
	c.Probe.ScanDuration = probe.ClampScanDuration(c.Probe.ScanDuration)

	if c.Agent.Deferral == 0 {
		c.Agent.Deferral = domain.DefaultDeferral
	}
	if c.Agent.Rewards == (agent.Rewards{}) {
		c.Agent.Rewards = agent.DefaultRewards()
	}

	if c.Delivery.DefaultFormat == domain.FormatUnspecified {
		c.Delivery.DefaultFormat = domain.FormatFirebase
	}

	if c.Ingest.MaxWALSizeBytes == 0 {
		c.Ingest.MaxWALSizeBytes = 1 << 30
	}
	if c.Ingest.MaxQueueLen == 0 {
		c.Ingest.MaxQueueLen = 10_000
	}
	if c.Ingest.MaxBatchSize == 0 {
		c.Ingest.MaxBatchSize = 500
	}
	if c.Ingest.IdleSleep == 0 {
		c.Ingest.IdleSleep = 50 * time.Millisecond
	}
	if c.Ingest.OnQueueFull == "" {
		c.Ingest.OnQueueFull = "block"
	}
	if c.Ingest.OnWALFull == "" {
		c.Ingest.OnWALFull = "block"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "observations"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./data/aegis-probe.db"
	}

	if c.Probe.Kind == ProbeKindAmbient {
		c.OPCUA.ApplyDefaults()
	}
	if c.MQTT.Broker != "" {
		c.MQTT.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	switch c.Probe.Kind {
	case ProbeKindSimulated:
	case ProbeKindAmbient:
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	default:
		return fmt.Errorf("probe.kind must be %q or %q, got %q", ProbeKindSimulated, ProbeKindAmbient, c.Probe.Kind)
	}
	if c.Probe.PollInterval < 0 {
		return fmt.Errorf("probe.poll_interval must be >= 0")
	}

	if p := c.Agent.Probability; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("agent.probability must be within [0,1], got %v", *p)
	}
	if c.Agent.Deferral < 0 {
		return fmt.Errorf("agent.deferral must be >= 0")
	}
	if c.Agent.Rewards.OpenCancel < 0 || c.Agent.Rewards.SubmitDeleteExpire < 0 {
		return fmt.Errorf("agent.rewards must be >= 0")
	}

	if c.Delivery.ProtocolID == "" {
		return fmt.Errorf("delivery.protocol_id is required")
	}

	if err := validOverflow("ingest.on_wal_full", c.Ingest.OnWALFull, "block", "drop"); err != nil {
		return err
	}
	if err := validOverflow("ingest.on_queue_full", c.Ingest.OnQueueFull, "block", "drop", "reject"); err != nil {
		return err
	}

	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	return nil
}

func validOverflow(field, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, got)
}
