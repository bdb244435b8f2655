package aegisprobe

import (
	"github.com/ghalamif/AegisProbe/internal/adapters/capture"
	"github.com/ghalamif/AegisProbe/internal/adapters/mqtt"
	"github.com/ghalamif/AegisProbe/internal/adapters/opcua"
	"github.com/ghalamif/AegisProbe/internal/app/config"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// IngestPolicy controls WAL/queue thresholds.
	IngestPolicy = ports.IngestPolicy
	// ProbeConfig selects and tunes the probe.
	ProbeConfig = config.ProbeConfig
	// SimulatedConfig describes the devices a simulated radio reports.
	SimulatedConfig = capture.SimulatedConfig
	// Device is one simulated peer.
	Device = capture.Device
	// AgentConfig seeds the adaptive delivery agent.
	AgentConfig = config.AgentConfig
	// DeliveryConfig holds request defaults.
	DeliveryConfig = config.DeliveryConfig
	// OPCUAConfig holds connection + node details for ambient listening.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored node.
	OPCUANodeConfig = opcua.NodeConfig
	// TimescaleConfig configures the sink.
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	// StoreConfig locates the SQLite policy store.
	StoreConfig = config.StoreConfig
	// MQTTConfig configures the outcome subscription.
	MQTTConfig = mqtt.Config
)

const (
	ProbeKindSimulated = config.ProbeKindSimulated
	ProbeKindAmbient   = config.ProbeKindAmbient
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig parses YAML already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
