// Package config loads the node's YAML configuration file, mirroring
// the teacher's config.go: a Config struct of nested XxxConfig structs
// tagged for gopkg.in/yaml.v3, loaded with yaml.Unmarshal, with
// defaults applied and cross-field validation run after parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level on-disk configuration for one node.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Radio    RadioConfig    `yaml:"radio"`
	PHY      PHYConfig      `yaml:"phy"`
	TunTap   TunTapConfig   `yaml:"tuntap"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Mandates []MandateConfig `yaml:"mandates"`
}

// NodeConfig identifies this node on the network.
type NodeConfig struct {
	ID    uint8   `yaml:"id"`    // this node's curhop/address octet
	Peers []uint8 `yaml:"peers"` // reachable neighbor node ids
}

// ScheduleConfig locates the channel x slot bitmap file.
type ScheduleConfig struct {
	File string `yaml:"file"`
}

// RadioConfig selects and parameterizes the radio driver.
type RadioConfig struct {
	Driver     string `yaml:"driver"` // "udp" or "loopback"
	RxAddr     string `yaml:"rx_addr"`
	TxAddr     string `yaml:"tx_addr"`
	Interface  string `yaml:"interface"`
	SampleRate uint32 `yaml:"sample_rate"`
	CenterFreq float64 `yaml:"center_freq"`
}

// PHYConfig selects the modulation/coding plugin.
type PHYConfig struct {
	Name string `yaml:"name"` // "reference" is the only built-in PHY
}

// TunTapConfig parameterizes the node's tun/tap network device.
type TunTapConfig struct {
	Device     string `yaml:"device"`
	MTU        int    `yaml:"mtu"`
	Persistent bool   `yaml:"persistent"`
}

// LoggingConfig locates the HDF5 session log.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
}

// MetricsConfig parameterizes the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9090"
}

// MandateConfig is one flow's default service-level objective, keyed
// by a human-readable flow name (the node wiring maps names to flow
// UIDs at startup).
type MandateConfig struct {
	Name             string  `yaml:"name"`
	MinThroughputBps float64 `yaml:"min_throughput_bps"`
	MaxLatencyS      float64 `yaml:"max_latency_s"`
	PointValue       float64 `yaml:"point_value"`
	Kind             string  `yaml:"kind"` // "throughput" or "file_transfer"
}

// Load reads and validates a Config from a YAML file, applying
// defaults for any field a caller omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Radio.Driver == "" {
		c.Radio.Driver = "udp"
	}
	if c.Radio.SampleRate == 0 {
		c.Radio.SampleRate = 48000
	}
	if c.PHY.Name == "" {
		c.PHY.Name = "reference"
	}
	if c.TunTap.Device == "" {
		c.TunTap.Device = "dr0"
	}
	if c.TunTap.MTU == 0 {
		c.TunTap.MTU = 1500
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "."
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
}

// Validate checks that the parsed configuration is self-consistent.
func (c *Config) Validate() error {
	if c.Schedule.File == "" {
		return fmt.Errorf("schedule.file is required")
	}
	if c.Radio.Driver != "udp" && c.Radio.Driver != "loopback" {
		return fmt.Errorf("radio.driver must be \"udp\" or \"loopback\", got %q", c.Radio.Driver)
	}
	if c.Radio.Driver == "udp" {
		if c.Radio.RxAddr == "" || c.Radio.TxAddr == "" {
			return fmt.Errorf("radio.rx_addr and radio.tx_addr are required for the udp driver")
		}
	}
	if c.PHY.Name != "reference" {
		return fmt.Errorf("phy.name %q is not a known PHY plugin", c.PHY.Name)
	}
	for _, m := range c.Mandates {
		if m.Kind != "" && m.Kind != "throughput" && m.Kind != "file_transfer" {
			return fmt.Errorf("mandates[%s]: kind must be \"throughput\" or \"file_transfer\", got %q", m.Name, m.Kind)
		}
	}
	return nil
}

// LeadTime is the fixed synthesizer-ahead-of-TX-deadline lead the MAC
// uses; not presently configurable per-node, matching the teacher's
// practice of hardcoding timing constants that aren't meant to be
// tuned per-deployment.
const LeadTime = 100 * time.Millisecond
