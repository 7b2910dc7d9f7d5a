package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"igmap/internal/direct"
	"igmap/internal/geo"
	"igmap/internal/geoip"
	"igmap/internal/ig"
	"igmap/internal/model"
)

const (
	DefaultLatencyBaseMs     = ig.DefaultLatencyBaseMs
	DefaultFallbackLatencyMs = ig.DefaultFallbackLatencyMs
	DefaultDuplicatePolicy   = string(ig.DuplicateReplace)
	DefaultProbeMethod       = "ping"
	DefaultProbeCount        = ig.DefaultProbeCount
	DefaultProbeTimeoutSec   = 5
	DefaultProbeAttempts     = 1
	DefaultProbeConcurrency  = 1
	DefaultUDPPort           = direct.DefaultPort
	DefaultLocateTimeoutSec  = 10
	DefaultSelfName          = "My Console (User)"
	DefaultSelfElevation     = 15.0
	DefaultListen            = "127.0.0.1:8080"
)

// Config is the igmap configuration file.
type Config struct {
	Transform   TransformConfig    `yaml:"transform"`
	Probe       ProbeConfig        `yaml:"probe"`
	Locate      LocateConfig       `yaml:"locate"`
	Nodes       []NodeConfig       `yaml:"nodes"`
	Connections []model.Connection `yaml:"connections"`
	Server      ServerConfig       `yaml:"server"`
	Output      OutputConfig       `yaml:"output"`
}

// TransformConfig holds the IG formula parameters.
type TransformConfig struct {
	LatencyBaseMs float64 `yaml:"latency_base_ms"`
	// FallbackLatencyMs is a pointer so that an explicit 0 survives defaults.
	FallbackLatencyMs *float64 `yaml:"fallback_latency_ms,omitempty"`
	DuplicatePolicy   string   `yaml:"duplicate_policy"`
}

// ProbeConfig selects and tunes the latency prober.
type ProbeConfig struct {
	Method      string `yaml:"method"` // ping|udp
	Count       int    `yaml:"count"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	Attempts    int    `yaml:"attempts"`
	Concurrency int    `yaml:"concurrency"`
	UDPPort     int    `yaml:"udp_port"`
}

// LocateConfig controls automatic registration of the user node.
type LocateConfig struct {
	Enabled            bool            `yaml:"enabled"`
	SelfName           string          `yaml:"self_name"`
	SelfElevationFloor *float64        `yaml:"self_elevation_floor,omitempty"`
	TimeoutSec         int             `yaml:"timeout_sec"`
	Services           []string        `yaml:"services"`
	STUNServers        []string        `yaml:"stun_servers"`
	Fallback           *geo.Coordinate `yaml:"fallback,omitempty"`
}

// NodeConfig is one statically configured node.
type NodeConfig struct {
	Name           string  `yaml:"name"`
	Lat            float64 `yaml:"lat"`
	Lon            float64 `yaml:"lon"`
	ElevationFloor float64 `yaml:"elevation_floor"`
	Address        string  `yaml:"address,omitempty"`
	User           bool    `yaml:"user,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// OutputConfig names default export paths.
type OutputConfig struct {
	CSVPath  string `yaml:"csv_path,omitempty"`
	YAMLPath string `yaml:"yaml_path,omitempty"`
	DOTPath  string `yaml:"dot_path,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations the transform or CLI cannot run with.
func Validate(cfg Config) error {
	if _, err := TransformSettings(cfg); err != nil {
		return err
	}
	if !ig.DuplicatePolicy(cfg.Transform.DuplicatePolicy).Valid() {
		return fmt.Errorf("transform.duplicate_policy must be replace or reject, got %q", cfg.Transform.DuplicatePolicy)
	}
	switch cfg.Probe.Method {
	case "ping", "udp":
	default:
		return fmt.Errorf("probe.method must be ping or udp, got %q", cfg.Probe.Method)
	}
	if cfg.Probe.Method == "udp" && cfg.Probe.UDPPort <= 0 {
		return fmt.Errorf("probe.udp_port is required for the udp method")
	}
	for _, name := range cfg.Locate.Services {
		if _, ok := geoip.ServiceByName(name); !ok {
			return fmt.Errorf("locate.services: unknown service %q", name)
		}
	}
	if cfg.Locate.Fallback != nil {
		if err := cfg.Locate.Fallback.Validate(); err != nil {
			return fmt.Errorf("locate.fallback: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		if n.Name == "" {
			return fmt.Errorf("nodes[%d].name is required", i)
		}
		if err := geo.Validate(n.Lat, n.Lon); err != nil {
			return fmt.Errorf("nodes[%d] %q: %w", i, n.Name, err)
		}
		seen[n.Name] = true
	}
	if cfg.Locate.Enabled {
		seen[cfg.Locate.SelfName] = true
	}
	for i, c := range cfg.Connections {
		if c.From == "" || c.To == "" {
			return fmt.Errorf("connections[%d] needs from and to", i)
		}
		for _, name := range []string{c.From, c.To} {
			if !seen[name] {
				return fmt.Errorf("connections[%d]: %w", i, &ig.UnknownNodeError{Name: name})
			}
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Transform.LatencyBaseMs == 0 {
		cfg.Transform.LatencyBaseMs = DefaultLatencyBaseMs
	}
	if cfg.Transform.FallbackLatencyMs == nil {
		v := DefaultFallbackLatencyMs
		cfg.Transform.FallbackLatencyMs = &v
	}
	if cfg.Transform.DuplicatePolicy == "" {
		cfg.Transform.DuplicatePolicy = DefaultDuplicatePolicy
	}

	if cfg.Probe.Method == "" {
		cfg.Probe.Method = DefaultProbeMethod
	}
	if cfg.Probe.Count == 0 {
		cfg.Probe.Count = DefaultProbeCount
	}
	if cfg.Probe.TimeoutSec == 0 {
		cfg.Probe.TimeoutSec = DefaultProbeTimeoutSec
	}
	if cfg.Probe.Attempts == 0 {
		cfg.Probe.Attempts = DefaultProbeAttempts
	}
	if cfg.Probe.Concurrency == 0 {
		cfg.Probe.Concurrency = DefaultProbeConcurrency
	}
	if cfg.Probe.UDPPort == 0 {
		cfg.Probe.UDPPort = DefaultUDPPort
	}

	if cfg.Locate.SelfName == "" {
		cfg.Locate.SelfName = DefaultSelfName
	}
	if cfg.Locate.SelfElevationFloor == nil {
		v := DefaultSelfElevation
		cfg.Locate.SelfElevationFloor = &v
	}
	if cfg.Locate.TimeoutSec == 0 {
		cfg.Locate.TimeoutSec = DefaultLocateTimeoutSec
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
}

// TransformSettings converts the file settings to an ig.Config and
// validates them.
func TransformSettings(cfg Config) (ig.Config, error) {
	out := ig.Config{
		LatencyBaseMs:     cfg.Transform.LatencyBaseMs,
		FallbackLatencyMs: DefaultFallbackLatencyMs,
		ProbeCount:        cfg.Probe.Count,
		ProbeTimeout:      time.Duration(cfg.Probe.TimeoutSec) * time.Second,
		Attempts:          cfg.Probe.Attempts,
		Concurrency:       cfg.Probe.Concurrency,
	}
	if cfg.Transform.FallbackLatencyMs != nil {
		out.FallbackLatencyMs = *cfg.Transform.FallbackLatencyMs
	}
	if err := out.Validate(); err != nil {
		return ig.Config{}, err
	}
	return out, nil
}

// Example returns the sample topology used by `igmap init`.
func Example() Config {
	fallback := geo.Coordinate{Lat: 37.7749, Lon: -122.4194}
	cfg := Config{
		Locate: LocateConfig{
			Enabled:     true,
			Services:    []string{"ip-api", "ipinfo"},
			STUNServers: []string{"stun.l.google.com:19302"},
			Fallback:    &fallback,
		},
		Nodes: []NodeConfig{
			{Name: "Cloudflare DNS (Global)", Lat: 37.7749, Lon: -122.3941, ElevationFloor: 5, Address: "1.1.1.1"},
			{Name: "Google DNS (NYC Area)", Lat: 40.7128, Lon: -74.0060, ElevationFloor: 30, Address: "8.8.8.8"},
			{Name: "OpenDNS (UK/Europe)", Lat: 51.5074, Lon: 0.1278, ElevationFloor: 10, Address: "208.67.222.222"},
		},
		Connections: []model.Connection{
			{From: DefaultSelfName, To: "Cloudflare DNS (Global)"},
			{From: DefaultSelfName, To: "Google DNS (NYC Area)"},
			{From: DefaultSelfName, To: "OpenDNS (UK/Europe)"},
			{From: "Cloudflare DNS (Global)", To: "Google DNS (NYC Area)"},
		},
	}
	ApplyDefaults(&cfg)
	return cfg
}
