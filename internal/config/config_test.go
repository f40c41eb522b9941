package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
hostguard:
  node:
    hostname: "edge-01"
  control:
    pid_file: "/tmp/test.pid"
    socket: "/tmp/test.sock"
  tun:
    name: "hg0"
    mtu: 1500
  engine:
    auto_start: false
    enforce_tcp: false
    flow_ttl: "45s"
    dns:
      response: "sinkhole"
      sinkhole_ipv4: "10.9.9.9"
      sinkhole_ipv6: "fd00::9"
      ttl: 30
  blocklist:
    domains: ["ads.example.com", "tracker.net"]
    sources:
      - path: "/etc/hostguard/hosts"
      - url: "https://lists.example.org/hosts.txt"
    reload_interval: "6h"
  log:
    level: "debug"
    format: "text"
  metrics:
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Node.Hostname != "edge-01" {
		t.Errorf("Expected hostname edge-01, got %s", cfg.Node.Hostname)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" || cfg.Control.Socket != "/tmp/test.sock" {
		t.Errorf("Unexpected control config: %+v", cfg.Control)
	}
	if cfg.Tun.Name != "hg0" || cfg.Tun.MTU != 1500 {
		t.Errorf("Unexpected tun config: %+v", cfg.Tun)
	}
	if cfg.Engine.AutoStart || cfg.Engine.EnforceTCP {
		t.Errorf("Expected auto_start and enforce_tcp false, got %+v", cfg.Engine)
	}
	if cfg.Engine.FlowTTL != 45*time.Second {
		t.Errorf("Expected flow_ttl 45s, got %s", cfg.Engine.FlowTTL)
	}
	if cfg.Engine.DNS.Response != "sinkhole" || cfg.Engine.DNS.SinkholeIPv4 != "10.9.9.9" || cfg.Engine.DNS.TTL != 30 {
		t.Errorf("Unexpected dns config: %+v", cfg.Engine.DNS)
	}
	if len(cfg.Blocklist.Domains) != 2 {
		t.Errorf("Expected 2 blocklist domains, got %v", cfg.Blocklist.Domains)
	}
	if len(cfg.Blocklist.Sources) != 2 || cfg.Blocklist.Sources[0].Path == "" || cfg.Blocklist.Sources[1].URL == "" {
		t.Errorf("Unexpected blocklist sources: %+v", cfg.Blocklist.Sources)
	}
	if cfg.Blocklist.ReloadInterval != 6*time.Hour {
		t.Errorf("Expected reload_interval 6h, got %s", cfg.Blocklist.ReloadInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "hostguard: {}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Control.PIDFile != "/var/run/hostguard.pid" {
		t.Errorf("Expected default PIDFile /var/run/hostguard.pid, got %s", cfg.Control.PIDFile)
	}
	if cfg.Control.Socket != "/var/run/hostguard.sock" {
		t.Errorf("Expected default socket /var/run/hostguard.sock, got %s", cfg.Control.Socket)
	}
	if cfg.Tun.MTU != 32767 {
		t.Errorf("Expected default MTU 32767, got %d", cfg.Tun.MTU)
	}
	if !cfg.Engine.AutoStart || !cfg.Engine.EnforceTCP {
		t.Errorf("Expected auto_start and enforce_tcp true by default, got %+v", cfg.Engine)
	}
	if cfg.Engine.FlowTTL != 30*time.Second {
		t.Errorf("Expected default flow_ttl 30s, got %s", cfg.Engine.FlowTTL)
	}
	if cfg.Engine.DNS.Response != "nxdomain" || cfg.Engine.DNS.TTL != 60 {
		t.Errorf("Unexpected default dns config: %+v", cfg.Engine.DNS)
	}
	if cfg.Blocklist.ReloadInterval != 0 || cfg.Blocklist.FetchTimeout != 30*time.Second {
		t.Errorf("Unexpected default blocklist config: %+v", cfg.Blocklist)
	}
	if cfg.CommandChannel.CommandTTL != 5*time.Minute {
		t.Errorf("Expected default command_ttl 5m, got %s", cfg.CommandChannel.CommandTTL)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected default log config: %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected default metrics config: %+v", cfg.Metrics)
	}
	if cfg.Node.Hostname == "" {
		t.Error("Expected hostname to be auto-detected")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
hostguard:
  log:
    level: "info"
`)
	t.Setenv("HOSTGUARD_LOG_LEVEL", "debug")
	t.Setenv("HOSTGUARD_ENGINE_FLOW_TTL", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Engine.FlowTTL != 2*time.Minute {
		t.Errorf("Expected flow_ttl 2m from env var, got %s", cfg.Engine.FlowTTL)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", "hostguard:\n  log:\n    level: verbose\n", "invalid log level"},
		{"log format", "hostguard:\n  log:\n    format: xml\n", "invalid log format"},
		{"mtu", "hostguard:\n  tun:\n    mtu: 70000\n", "invalid tun.mtu"},
		{"dns response", "hostguard:\n  engine:\n    dns:\n      response: refuse\n", "invalid engine.dns.response"},
		{"sinkhole v4", "hostguard:\n  engine:\n    dns:\n      response: sinkhole\n      sinkhole_ipv4: \"::1\"\n", "sinkhole_ipv4"},
		{"flow ttl", "hostguard:\n  engine:\n    flow_ttl: 0s\n", "invalid engine.flow_ttl"},
		{"empty source", "hostguard:\n  blocklist:\n    sources:\n      - {}\n", "path or url is required"},
		{"both source", "hostguard:\n  blocklist:\n    sources:\n      - {path: /a, url: http://b}\n", "not both"},
		{"url scheme", "hostguard:\n  blocklist:\n    sources:\n      - url: ftp://lists.example.org/x\n", "unsupported url scheme"},
		{"kafka brokers", "hostguard:\n  command_channel:\n    enabled: true\n", "brokers is required"},
		{"kafka type", "hostguard:\n  command_channel:\n    enabled: true\n    type: nats\n", "unsupported command_channel.type"},
	}
	for _, tt := range tests {
		_, err := Load(writeConfig(t, tt.content))
		if err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error %q does not contain %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestKafkaGroupIDDefault(t *testing.T) {
	path := writeConfig(t, `
hostguard:
  node:
    hostname: "edge-02"
  command_channel:
    enabled: true
    kafka:
      brokers: ["localhost:9092"]
      topic: "hostguard-commands"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.CommandChannel.Kafka.GroupID != "hostguard-edge-02" {
		t.Errorf("Expected group id hostguard-edge-02, got %s", cfg.CommandChannel.Kafka.GroupID)
	}
}
