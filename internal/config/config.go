// Package config provides configuration loading and validation for the
// device lifecycle and send/receive pipelines.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (HYDRALINK_* prefix)
//  2. YAML config file (if specified)
//  3. Hardcoded defaults
//
// Environment variables are mapped from HYDRALINK_CATEGORY_SETTING format,
// e.g., HYDRALINK_SEND_WORKERS maps to send.workers in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Uses HYDRALINK_ prefix: HYDRALINK_SEND_WORKERS -> send.workers
	v.SetEnvPrefix("HYDRALINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.listen_port", 0) // 0 lets the OS choose

	v.SetDefault("send.workers", "auto")
	v.SetDefault("send.batch_ceiling", 128)
	v.SetDefault("send.force_polyfill", false)

	v.SetDefault("recv.batch_ceiling", 128)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadDeviceConfig(v, cfg)
	loadSendConfig(v, cfg)
	loadRecvConfig(v, cfg)
	loadLoggingConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDeviceConfig(v *viper.Viper, cfg *Config) {
	cfg.Device.ListenPort = v.GetInt("device.listen_port")
}

func loadSendConfig(v *viper.Viper, cfg *Config) {
	cfg.Send.WorkersRaw = v.GetString("send.workers")
	cfg.Send.Workers = parseWorkers(cfg.Send.WorkersRaw)
	cfg.Send.BatchCeiling = v.GetInt("send.batch_ceiling")
	cfg.Send.ForcePolyfill = v.GetBool("send.force_polyfill")
}

func loadRecvConfig(v *viper.Viper, cfg *Config) {
	cfg.Recv.BatchCeiling = v.GetInt("recv.batch_ceiling")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Device.ListenPort < 0 || cfg.Device.ListenPort > 65535 {
		return errors.New("device.listen_port must be 0..65535")
	}

	if cfg.Send.BatchCeiling <= 0 {
		cfg.Send.BatchCeiling = 128
	}
	if cfg.Recv.BatchCeiling <= 0 {
		cfg.Recv.BatchCeiling = 128
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	return nil
}
