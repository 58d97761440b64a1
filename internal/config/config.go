// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netcore/internal/core"
)

// GlobalConfig represents the top-level global static configuration.
// Maps to the `netcore:` root key in YAML.
type GlobalConfig struct {
	Stack   StackConfig      `mapstructure:"stack"`
	Devices []DeviceConfig   `mapstructure:"devices"`
	Routes  []RouteConfig    `mapstructure:"routes"`
	ARP     []ARPEntryConfig `mapstructure:"arp"`
	Control ControlConfig    `mapstructure:"control"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Log     LogConfig        `mapstructure:"log"`
}

// ─── Stack Sizing ───

// StackConfig sizes the fixed tables owned by the stack.
type StackConfig struct {
	Buffers BuffersConfig `mapstructure:"buffers"`
	Sockets SocketsConfig `mapstructure:"sockets"`
	TCP     TCPConfig     `mapstructure:"tcp"`
	UDP     UDPConfig     `mapstructure:"udp"`
	ARP     ARPConfig     `mapstructure:"arp"`
	EventQ  EventQConfig  `mapstructure:"eventq"`
}

// BuffersConfig sizes the buffer arena.
type BuffersConfig struct {
	Count int `mapstructure:"count"`
	Size  int `mapstructure:"size"` // bytes per buffer
}

// SocketsConfig sizes the socket table.
type SocketsConfig struct {
	Max int `mapstructure:"max"`
}

// TCPConfig sizes the TCP port table.
type TCPConfig struct {
	MaxPorts      int `mapstructure:"max_ports"`
	DefaultWindow int `mapstructure:"default_window"`
}

// UDPConfig sizes the UDP port table.
type UDPConfig struct {
	MaxPorts int `mapstructure:"max_ports"`
}

// ARPConfig controls the ARP cache and resolver.
type ARPConfig struct {
	CacheLength     int           `mapstructure:"cache_length"`
	Timeout         time.Duration `mapstructure:"timeout"`          // entry lifetime
	RequestInterval time.Duration `mapstructure:"request_interval"` // gap between requests
	MaxRequests     int           `mapstructure:"max_requests"`
	MaxPending      int           `mapstructure:"max_pending"` // held packets per destination
	AgingInterval   time.Duration `mapstructure:"aging_interval"`

	// Address claiming on ethernet devices; zero counts disable it.
	ProbeCount       int           `mapstructure:"probe_count"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	AnnounceCount    int           `mapstructure:"announce_count"`
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`
}

// EventQConfig sizes the event queue used for timers.
type EventQConfig struct {
	Partitions int `mapstructure:"partitions"`
	QueueSize  int `mapstructure:"queue_size"`
}

// ─── Static Tables ───

// DeviceConfig declares one network device.
type DeviceConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"` // ethernet | loopback
	HWAddr  string `mapstructure:"hw_addr"`
	Address string `mapstructure:"address"` // CIDR, e.g. 192.0.2.10/24
	MTU     int    `mapstructure:"mtu"`
}

// RouteConfig declares one static route. A 0.0.0.0/0 prefix installs the default route.
type RouteConfig struct {
	Prefix  string `mapstructure:"prefix"`
	NextHop string `mapstructure:"next_hop"`
	Device  string `mapstructure:"device"`
	Metric  int    `mapstructure:"metric"`
}

// ARPEntryConfig declares one static ARP entry.
type ARPEntryConfig struct {
	Address   string `mapstructure:"address"`
	HWAddr    string `mapstructure:"hw_addr"`
	Permanent bool   `mapstructure:"permanent"`
}

// ─── Control Plane ───

// ControlConfig contains control plane settings.
type ControlConfig struct {
	Socket  string             `mapstructure:"socket"`
	PIDFile string             `mapstructure:"pid_file"`
	Kafka   CommandKafkaConfig `mapstructure:"kafka"`
}

// CommandKafkaConfig configures the optional remote command channel.
type CommandKafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	ResponseTopic   string        `mapstructure:"response_topic"` // empty disables responses
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // earliest / latest
	CommandTTL      time.Duration `mapstructure:"command_ttl"`
	Node            string        `mapstructure:"node"` // matched against the command target; hostname when empty
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
	Level      string           `mapstructure:"level"`  // debug / info / warn / error
	Format     string           `mapstructure:"format"` // json / text
	Pattern    string           `mapstructure:"pattern"`
	TimeFormat string           `mapstructure:"time_format"`
	Outputs    LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
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

// configRoot is the top-level wrapper matching the YAML structure `netcore: ...`.
type configRoot struct {
	Netcore GlobalConfig `mapstructure:"netcore"`
}

// Load loads configuration from file.
// The YAML file uses `netcore:` as root key; env vars use the NETCORE_ prefix (e.g., NETCORE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// key "netcore.log.level" -> env "NETCORE_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netcore

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultStackConfig returns the table sizes used when the file names none.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		Buffers: BuffersConfig{Count: 512, Size: 1536},
		Sockets: SocketsConfig{Max: 64},
		TCP:     TCPConfig{MaxPorts: 32, DefaultWindow: 16384},
		UDP:     UDPConfig{MaxPorts: 32},
		ARP: ARPConfig{
			CacheLength:     16,
			Timeout:         10 * time.Minute,
			RequestInterval: time.Second,
			MaxRequests:     5,
			MaxPending:      4,
			AgingInterval:   30 * time.Second,

			ProbeCount:       3,
			ProbeInterval:    time.Second,
			AnnounceCount:    2,
			AnnounceInterval: 2 * time.Second,
		},
		EventQ: EventQConfig{Partitions: 4, QueueSize: 256},
	}
}

// Default returns a fully defaulted configuration without reading a file.
func Default() *GlobalConfig {
	cfg := &GlobalConfig{
		Stack:   DefaultStackConfig(),
		Control: ControlConfig{Socket: "/var/run/netcore.sock", PIDFile: "/var/run/netcore.pid"},
		Metrics: MetricsConfig{Enabled: false, Listen: ":9092", Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
	_ = cfg.ValidateAndApplyDefaults()
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use "netcore." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	def := DefaultStackConfig()

	// Stack defaults
	v.SetDefault("netcore.stack.buffers.count", def.Buffers.Count)
	v.SetDefault("netcore.stack.buffers.size", def.Buffers.Size)
	v.SetDefault("netcore.stack.sockets.max", def.Sockets.Max)
	v.SetDefault("netcore.stack.tcp.max_ports", def.TCP.MaxPorts)
	v.SetDefault("netcore.stack.tcp.default_window", def.TCP.DefaultWindow)
	v.SetDefault("netcore.stack.udp.max_ports", def.UDP.MaxPorts)
	v.SetDefault("netcore.stack.arp.cache_length", def.ARP.CacheLength)
	v.SetDefault("netcore.stack.arp.timeout", def.ARP.Timeout.String())
	v.SetDefault("netcore.stack.arp.request_interval", def.ARP.RequestInterval.String())
	v.SetDefault("netcore.stack.arp.max_requests", def.ARP.MaxRequests)
	v.SetDefault("netcore.stack.arp.max_pending", def.ARP.MaxPending)
	v.SetDefault("netcore.stack.arp.aging_interval", def.ARP.AgingInterval.String())
	v.SetDefault("netcore.stack.arp.probe_count", def.ARP.ProbeCount)
	v.SetDefault("netcore.stack.arp.probe_interval", def.ARP.ProbeInterval.String())
	v.SetDefault("netcore.stack.arp.announce_count", def.ARP.AnnounceCount)
	v.SetDefault("netcore.stack.arp.announce_interval", def.ARP.AnnounceInterval.String())
	v.SetDefault("netcore.stack.eventq.partitions", def.EventQ.Partitions)
	v.SetDefault("netcore.stack.eventq.queue_size", def.EventQ.QueueSize)

	// Control defaults
	v.SetDefault("netcore.control.pid_file", "/var/run/netcore.pid")
	v.SetDefault("netcore.control.socket", "/var/run/netcore.sock")
	v.SetDefault("netcore.control.kafka.enabled", false)
	v.SetDefault("netcore.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("netcore.control.kafka.command_ttl", "5m")

	// Log defaults
	v.SetDefault("netcore.log.level", "info")
	v.SetDefault("netcore.log.format", "text")
	v.SetDefault("netcore.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("netcore.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("netcore.log.outputs.file.enabled", false)
	v.SetDefault("netcore.log.outputs.file.path", "/var/log/netcore/netcore.log")
	v.SetDefault("netcore.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netcore.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netcore.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netcore.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("netcore.metrics.enabled", true)
	v.SetDefault("netcore.metrics.listen", ":9092")
	v.SetDefault("netcore.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Pattern == "" {
		cfg.Log.Pattern = "%time [%level] %field %msg\n"
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = "2006-01-02 15:04:05.000"
	}

	// ── Stack sizing ──
	if err := cfg.Stack.validate(); err != nil {
		return err
	}

	// ── Devices ──
	seen := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("%w: devices[%d].name is required", core.ErrConfigInvalid, i)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate device %q", core.ErrConfigInvalid, d.Name)
		}
		seen[d.Name] = true
		if d.Type == "" {
			d.Type = "ethernet"
		}
		if d.Type != "ethernet" && d.Type != "loopback" {
			return fmt.Errorf("%w: device %s: unsupported type %q (must be ethernet/loopback)", core.ErrConfigInvalid, d.Name, d.Type)
		}
		if d.MTU == 0 {
			d.MTU = 1500
		}
		if d.Address != "" {
			if _, err := netip.ParsePrefix(d.Address); err != nil {
				return fmt.Errorf("%w: device %s: %v", core.ErrConfigInvalid, d.Name, err)
			}
		}
		if d.HWAddr != "" {
			if _, err := core.ParseHardwareAddr(d.HWAddr); err != nil {
				return fmt.Errorf("%w: device %s: %v", core.ErrConfigInvalid, d.Name, err)
			}
		}
	}

	// ── Routes ──
	for i, r := range cfg.Routes {
		if _, err := netip.ParsePrefix(r.Prefix); err != nil {
			return fmt.Errorf("%w: routes[%d]: %v", core.ErrConfigInvalid, i, err)
		}
		if r.NextHop != "" {
			if _, err := netip.ParseAddr(r.NextHop); err != nil {
				return fmt.Errorf("%w: routes[%d]: %v", core.ErrConfigInvalid, i, err)
			}
		}
		if r.Device != "" && !seen[r.Device] {
			return fmt.Errorf("%w: routes[%d]: unknown device %q", core.ErrConfigInvalid, i, r.Device)
		}
	}

	// ── Static ARP ──
	for i, a := range cfg.ARP {
		if _, err := netip.ParseAddr(a.Address); err != nil {
			return fmt.Errorf("%w: arp[%d]: %v", core.ErrConfigInvalid, i, err)
		}
		if _, err := core.ParseHardwareAddr(a.HWAddr); err != nil {
			return fmt.Errorf("%w: arp[%d]: %v", core.ErrConfigInvalid, i, err)
		}
	}
	if len(cfg.ARP) > cfg.Stack.ARP.CacheLength {
		return fmt.Errorf("%w: %d static arp entries exceed cache_length %d", core.ErrConfigInvalid, len(cfg.ARP), cfg.Stack.ARP.CacheLength)
	}

	// ── Remote command channel ──
	if kc := &cfg.Control.Kafka; kc.Enabled {
		if len(kc.Brokers) == 0 {
			return fmt.Errorf("%w: control.kafka.brokers is required when control.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if kc.Topic == "" {
			return fmt.Errorf("%w: control.kafka.topic is required when control.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if kc.AutoOffsetReset != "" && kc.AutoOffsetReset != "earliest" && kc.AutoOffsetReset != "latest" {
			return fmt.Errorf("%w: control.kafka.auto_offset_reset %q (must be earliest/latest)", core.ErrConfigInvalid, kc.AutoOffsetReset)
		}
		if kc.Node == "" {
			kc.Node, _ = os.Hostname()
		}
		if kc.GroupID == "" {
			kc.GroupID = "netcore-" + kc.Node
		}
		if kc.CommandTTL <= 0 {
			kc.CommandTTL = 5 * time.Minute
		}
	}

	return nil
}

func (s *StackConfig) validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"stack.buffers.count", s.Buffers.Count},
		{"stack.sockets.max", s.Sockets.Max},
		{"stack.tcp.max_ports", s.TCP.MaxPorts},
		{"stack.udp.max_ports", s.UDP.MaxPorts},
		{"stack.arp.cache_length", s.ARP.CacheLength},
		{"stack.arp.max_requests", s.ARP.MaxRequests},
		{"stack.eventq.partitions", s.EventQ.Partitions},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", core.ErrConfigInvalid, p.name, p.value)
		}
	}
	// one buffer must hold the Ethernet, IPv4 and UDP headers
	if s.Buffers.Size < 64 {
		return fmt.Errorf("%w: stack.buffers.size must be at least 64, got %d", core.ErrConfigInvalid, s.Buffers.Size)
	}
	if s.ARP.Timeout <= 0 || s.ARP.RequestInterval <= 0 {
		return fmt.Errorf("%w: stack.arp timeouts must be positive", core.ErrConfigInvalid)
	}
	if s.ARP.MaxPending <= 0 {
		s.ARP.MaxPending = 1
	}
	if s.ARP.AgingInterval <= 0 {
		s.ARP.AgingInterval = s.ARP.Timeout
	}
	if s.ARP.ProbeCount < 0 || s.ARP.AnnounceCount < 0 {
		return fmt.Errorf("%w: stack.arp probe and announce counts must not be negative", core.ErrConfigInvalid)
	}
	if s.ARP.ProbeInterval <= 0 {
		s.ARP.ProbeInterval = time.Second
	}
	if s.ARP.AnnounceInterval <= 0 {
		s.ARP.AnnounceInterval = 2 * time.Second
	}
	if s.EventQ.QueueSize <= 0 {
		s.EventQ.QueueSize = 256
	}
	if s.TCP.DefaultWindow <= 0 {
		s.TCP.DefaultWindow = 16384
	}
	return nil
}
