// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `hostguard:` root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Control        ControlConfig        `mapstructure:"control"`
	Tun            TunConfig            `mapstructure:"tun"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Blocklist      BlocklistConfig      `mapstructure:"blocklist"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Tunnel ───

// TunConfig selects the TUN interface.
type TunConfig struct {
	Name string `mapstructure:"name"` // Empty = kernel assigned
	MTU  int    `mapstructure:"mtu"`  // read buffer size, max 65535
}

// ─── Engine ───

// EngineConfig controls classification and enforcement.
type EngineConfig struct {
	AutoStart           bool          `mapstructure:"auto_start"`
	EnforceTCP          bool          `mapstructure:"enforce_tcp"` // drop flows whose SNI/Host is blocked
	FlowTTL             time.Duration `mapstructure:"flow_ttl"`
	FlowCleanupInterval time.Duration `mapstructure:"flow_cleanup_interval"`
	PanicLogInterval    time.Duration `mapstructure:"panic_log_interval"`
	DNS                 DNSConfig     `mapstructure:"dns"`
}

// DNSConfig controls the answer synthesized for blocked queries.
type DNSConfig struct {
	Response     string `mapstructure:"response"` // nxdomain | sinkhole
	SinkholeIPv4 string `mapstructure:"sinkhole_ipv4"`
	SinkholeIPv6 string `mapstructure:"sinkhole_ipv6"`
	TTL          uint32 `mapstructure:"ttl"`
}

// ─── Blocklist ───

// BlocklistConfig lists the domains blocked at startup and where to load more from.
type BlocklistConfig struct {
	Domains        []string          `mapstructure:"domains"`
	Sources        []BlocklistSource `mapstructure:"sources"`
	ReloadInterval time.Duration     `mapstructure:"reload_interval"` // 0 = no periodic reload
	FetchTimeout   time.Duration     `mapstructure:"fetch_timeout"`
}

// BlocklistSource is a local file or an http(s) URL. Exactly one must be set.
type BlocklistSource struct {
	Path string `mapstructure:"path"`
	URL  string `mapstructure:"url"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote command channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL time.Duration      `mapstructure:"command_ttl"`
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // earliest | latest
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations. Stdout is always on.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `hostguard: ...`.
type configRoot struct {
	Hostguard GlobalConfig `mapstructure:"hostguard"`
}

// Load loads configuration from file.
// The YAML file uses `hostguard:` as root key; env vars use the HOSTGUARD_ prefix
// (e.g. HOSTGUARD_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `hostguard.` key prefix maps to HOSTGUARD_ through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Hostguard

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "hostguard." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("hostguard.control.pid_file", "/var/run/hostguard.pid")
	v.SetDefault("hostguard.control.socket", "/var/run/hostguard.sock")

	// Tunnel defaults
	v.SetDefault("hostguard.tun.name", "hostguard0")
	v.SetDefault("hostguard.tun.mtu", 32767)

	// Engine defaults
	v.SetDefault("hostguard.engine.auto_start", true)
	v.SetDefault("hostguard.engine.enforce_tcp", true)
	v.SetDefault("hostguard.engine.flow_ttl", "30s")
	v.SetDefault("hostguard.engine.flow_cleanup_interval", "1m")
	v.SetDefault("hostguard.engine.panic_log_interval", "1s")
	v.SetDefault("hostguard.engine.dns.response", "nxdomain")
	v.SetDefault("hostguard.engine.dns.sinkhole_ipv4", "0.0.0.0")
	v.SetDefault("hostguard.engine.dns.sinkhole_ipv6", "::")
	v.SetDefault("hostguard.engine.dns.ttl", 60)

	// Blocklist defaults
	v.SetDefault("hostguard.blocklist.reload_interval", "0s")
	v.SetDefault("hostguard.blocklist.fetch_timeout", "30s")

	// Log defaults
	v.SetDefault("hostguard.log.level", "info")
	v.SetDefault("hostguard.log.format", "json")
	v.SetDefault("hostguard.log.outputs.file.enabled", false)
	v.SetDefault("hostguard.log.outputs.file.path", "/var/log/hostguard/hostguard.log")
	v.SetDefault("hostguard.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("hostguard.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("hostguard.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("hostguard.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("hostguard.metrics.enabled", true)
	v.SetDefault("hostguard.metrics.listen", "127.0.0.1:9091")
	v.SetDefault("hostguard.metrics.path", "/metrics")

	// Command channel defaults
	v.SetDefault("hostguard.command_channel.enabled", false)
	v.SetDefault("hostguard.command_channel.type", "kafka")
	v.SetDefault("hostguard.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("hostguard.command_channel.command_ttl", "5m")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Tunnel ──
	if cfg.Tun.MTU <= 0 || cfg.Tun.MTU > 65535 {
		return fmt.Errorf("invalid tun.mtu: %d (must be 1..65535)", cfg.Tun.MTU)
	}

	// ── Engine ──
	if cfg.Engine.FlowTTL <= 0 {
		return fmt.Errorf("invalid engine.flow_ttl: %s (must be positive)", cfg.Engine.FlowTTL)
	}
	if err := cfg.Engine.DNS.validate(); err != nil {
		return err
	}

	// ── Blocklist ──
	if cfg.Blocklist.ReloadInterval < 0 {
		return fmt.Errorf("invalid blocklist.reload_interval: %s", cfg.Blocklist.ReloadInterval)
	}
	for i, src := range cfg.Blocklist.Sources {
		if err := src.validate(); err != nil {
			return fmt.Errorf("blocklist.sources[%d]: %w", i, err)
		}
	}

	// ── Command channel validation ──
	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "hostguard-" + cfg.Node.Hostname
		}
	}

	return nil
}

func (d DNSConfig) validate() error {
	switch d.Response {
	case "nxdomain":
	case "sinkhole":
		if a, err := netip.ParseAddr(d.SinkholeIPv4); err != nil || !a.Is4() {
			return fmt.Errorf("invalid engine.dns.sinkhole_ipv4: %q", d.SinkholeIPv4)
		}
		if a, err := netip.ParseAddr(d.SinkholeIPv6); err != nil || !a.Is6() {
			return fmt.Errorf("invalid engine.dns.sinkhole_ipv6: %q", d.SinkholeIPv6)
		}
	default:
		return fmt.Errorf("invalid engine.dns.response: %s (must be nxdomain/sinkhole)", d.Response)
	}
	return nil
}

func (s BlocklistSource) validate() error {
	switch {
	case s.Path != "" && s.URL != "":
		return fmt.Errorf("set either path or url, not both")
	case s.Path != "":
		return nil
	case s.URL != "":
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", s.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
		return nil
	default:
		return fmt.Errorf("path or url is required")
	}
}
