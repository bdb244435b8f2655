package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
delivery:
  protocol_id: "mood-study"
ingest:
  max_queue_len: 1000
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Probe.Kind != ProbeKindSimulated || cfg.Probe.ScanDuration != 20*time.Second {
		t.Fatalf("unexpected probe defaults: %+v", cfg.Probe)
	}
	if cfg.Ingest.MaxQueueLen != 1000 || cfg.Ingest.MaxBatchSize != 500 || cfg.Ingest.OnWALFull != "block" {
		t.Fatalf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Delivery.DefaultFormat != domain.FormatFirebase {
		t.Fatalf("expected default format gcm, got %s", cfg.Delivery.DefaultFormat)
	}
	if cfg.Metrics.Addr != ":9100" || cfg.WAL.Dir != "./data/wal" || cfg.Store.Path == "" {
		t.Fatalf("unexpected path defaults: %+v %+v %+v", cfg.Metrics, cfg.WAL, cfg.Store)
	}

	seed := cfg.Agent.AgentSeed()
	if seed.Policy != domain.DefaultDeliveryPolicy() {
		t.Fatalf("expected default policy seed, got %+v", seed.Policy)
	}
	if seed.Rewards.OpenCancel != 0.1 || seed.Rewards.SubmitDeleteExpire != 0.2 {
		t.Fatalf("unexpected rewards %+v", seed.Rewards)
	}
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
probe:
  id: ambient-room
  kind: ambient
  scan_duration: 2s
agent:
  probability: 0
  deferral: 2m
  rewards:
    open_cancel: 0.05
    submit_delete_expire: 0.15
delivery:
  protocol_id: p1
  default_target: device-1
  default_format: apple
opcua:
  endpoint: opc.tcp://localhost:4840
  nodes:
    - node_id: "ns=2;s=Room.Temp"
mqtt:
  broker: tcp://localhost:1883
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Probe.ScanDuration != 5*time.Second {
		t.Fatalf("scan duration should clamp to 5s, got %s", cfg.Probe.ScanDuration)
	}
	if cfg.Delivery.DefaultFormat != domain.FormatApple {
		t.Fatalf("expected apple format, got %s", cfg.Delivery.DefaultFormat)
	}
	seed := cfg.Agent.AgentSeed()
	if seed.Policy.Probability != 0 || seed.Policy.Deferral != 2*time.Minute {
		t.Fatalf("explicit zero probability must survive defaults: %+v", seed.Policy)
	}
	if cfg.OPCUA.Nodes[0].SensorID != "ns=2;s=Room.Temp" {
		t.Fatalf("expected sensor ID fallback to node ID, got %s", cfg.OPCUA.Nodes[0].SensorID)
	}
	if cfg.MQTT.OutcomeTopic != "aegis/outcomes" {
		t.Fatalf("expected mqtt defaults, got %+v", cfg.MQTT)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"missing protocol": `probe: {kind: simulated}`,
		"bad kind":         "probe: {kind: lidar}\ndelivery: {protocol_id: p}",
		"bad probability":  "agent: {probability: 1.5}\ndelivery: {protocol_id: p}",
		"bad overflow":     "ingest: {on_queue_full: spill}\ndelivery: {protocol_id: p}",
		"bad format":       "delivery: {protocol_id: p, default_format: sms}",
		"ambient no opcua": "probe: {kind: ambient}\ndelivery: {protocol_id: p}",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "nope.yaml") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}
