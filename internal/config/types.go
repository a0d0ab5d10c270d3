// Package config loads this library's own tunables using Viper, following
// the same file + environment-variable + defaults layering the rest of the
// pack uses. Environment variables use the HYDRALINK_ prefix and
// underscore-separated keys:
//   - HYDRALINK_DEVICE_LISTEN_PORT -> device.listen_port
//   - HYDRALINK_SEND_WORKERS -> send.workers
//   - HYDRALINK_SEND_FORCE_POLYFILL -> send.force_polyfill
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how a worker-pool size is determined.
type WorkersMode int

const (
	// WorkersAuto sizes the pool from available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting is a workers count that may be "auto" or a fixed number.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// DeviceConfig contains device lifecycle settings.
type DeviceConfig struct {
	ListenPort int `yaml:"listen_port" mapstructure:"listen_port" json:"listen_port"`
}

// SendConfig controls the send pipeline.
type SendConfig struct {
	WorkersRaw    string        `yaml:"workers"        mapstructure:"workers"        json:"workers"`
	Workers       WorkerSetting `yaml:"-"              mapstructure:"-"              json:"-"`
	BatchCeiling  int           `yaml:"batch_ceiling"  mapstructure:"batch_ceiling"  json:"batch_ceiling"`
	ForcePolyfill bool          `yaml:"force_polyfill" mapstructure:"force_polyfill" json:"force_polyfill"`
}

// RecvConfig controls the receive dispatcher.
type RecvConfig struct {
	BatchCeiling int `yaml:"batch_ceiling" mapstructure:"batch_ceiling" json:"batch_ceiling"`
}

// LoggingConfig contains logging settings, unchanged from the ambient
// convention the rest of the pack uses.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Device  DeviceConfig  `yaml:"device"  mapstructure:"device"`
	Send    SendConfig    `yaml:"send"    mapstructure:"send"`
	Recv    RecvConfig    `yaml:"recv"    mapstructure:"recv"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("HYDRALINK_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HYDRALINK_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
