package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSettingString(t *testing.T) {
	tests := []struct {
		name string
		ws   WorkerSetting
		want string
	}{
		{"auto mode", WorkerSetting{Mode: WorkersAuto}, "auto"},
		{"fixed mode 4", WorkerSetting{Mode: WorkersFixed, Value: 4}, "4"},
		{"fixed mode 0", WorkerSetting{Mode: WorkersFixed, Value: 0}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ws.String()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HYDRALINK_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Device.ListenPort)
	assert.Equal(t, WorkersAuto, cfg.Send.Workers.Mode)
	assert.Equal(t, 128, cfg.Send.BatchCeiling)
	assert.False(t, cfg.Send.ForcePolyfill)
	assert.Equal(t, 128, cfg.Recv.BatchCeiling)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	content := `
device:
  listen_port: 51820

send:
  workers: "4"
  batch_ceiling: 64
  force_polyfill: true

recv:
  batch_ceiling: 32

logging:
  level: "DEBUG"
  structured: true
  structured_format: "keyvalue"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 51820, cfg.Device.ListenPort)
	assert.Equal(t, WorkersFixed, cfg.Send.Workers.Mode)
	assert.Equal(t, 4, cfg.Send.Workers.Value)
	assert.Equal(t, 64, cfg.Send.BatchCeiling)
	assert.True(t, cfg.Send.ForcePolyfill)
	assert.Equal(t, 32, cfg.Recv.BatchCeiling)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Structured)
	assert.Equal(t, "keyvalue", cfg.Logging.StructuredFormat)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  listen_port: [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidPort(t *testing.T) {
	content := `
device:
  listen_port: 70000
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidWorkersDefaultsToAuto(t *testing.T) {
	content := `
send:
  workers: "invalid"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, WorkersAuto, cfg.Send.Workers.Mode)
}

func TestNormalizeNonPositiveBatchCeilingFallsBackToDefault(t *testing.T) {
	content := `
send:
  batch_ceiling: 0
recv:
  batch_ceiling: -5
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Send.BatchCeiling)
	assert.Equal(t, 128, cfg.Recv.BatchCeiling)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYDRALINK_DEVICE_LISTEN_PORT", "51821")
	t.Setenv("HYDRALINK_SEND_WORKERS", "8")
	t.Setenv("HYDRALINK_SEND_FORCE_POLYFILL", "true")
	t.Setenv("HYDRALINK_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 51821, cfg.Device.ListenPort)
	assert.Equal(t, WorkersFixed, cfg.Send.Workers.Mode)
	assert.Equal(t, 8, cfg.Send.Workers.Value)
	assert.True(t, cfg.Send.ForcePolyfill)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}
