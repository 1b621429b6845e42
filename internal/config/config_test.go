package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.yaml")
	body := `
capture:
  endpoint_url: opc.tcp://plc-01:4840
  node_file: nodes.txt
  run_seconds: 3600
  subscription_update_timeout_ms: 2500
output:
  dir: /var/lib/opcuac
  rotate_every_cycles: 600
status_block:
  kind: modbus
  endpoint: 10.0.0.5:502
  unit_id: 7
  device_name: LINE-3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "opc.tcp://plc-01:4840", cfg.Capture.EndpointURL)
	assert.Equal(t, "nodes.txt", cfg.Capture.NodeFile)
	assert.Equal(t, int64(2500), cfg.Capture.SubscriptionUpdateTimeoutMs)
	assert.Equal(t, 600, cfg.Output.RotateEveryCycles)
	assert.Equal(t, "/var/lib/opcuac", cfg.Output.Dir)
	assert.Equal(t, uint8(7), cfg.StatusBlock.UnitID)

	// untouched sections keep defaults
	assert.Equal(t, 1000, cfg.Capture.PublishingIntervalMs)
	assert.Equal(t, 65536, cfg.Output.WriteBufferBytes)
	assert.Equal(t, 10_000, cfg.Session.ReconnectDelayMs)
}

func TestLoad_BadYAMLIsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OPCUAC_URL":                         "opc.tcp://env:4840",
		"OPCUAC_NODE_ID":                     "ns=3;i=1001",
		"OPCUAC_TIMEOUT":                     "30",
		"OPCUAC_AUTOACCEPT":                  "true",
		"OPCUAC_SUBSCRIPTION_UPDATE_TIMEOUT": "5000",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(cfg, lookup))

	assert.Equal(t, "opc.tcp://env:4840", cfg.Capture.EndpointURL)
	assert.Equal(t, "ns=3;i=1001", cfg.Capture.NodeID)
	assert.Equal(t, 30, cfg.Capture.RunSeconds)
	assert.True(t, cfg.Security.AutoAccept)
	assert.Equal(t, int64(5000), cfg.Capture.SubscriptionUpdateTimeoutMs)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "OPCUAC_TIMEOUT" {
			return "soon", true
		}
		return "", false
	}

	err := applyEnv(Default(), lookup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestRunDuration(t *testing.T) {
	assert.Zero(t, CaptureConfig{RunSeconds: 0}.RunDuration())
	assert.Zero(t, CaptureConfig{RunSeconds: -1}.RunDuration())
	assert.Equal(t, "1m0s", CaptureConfig{RunSeconds: 60}.RunDuration().String())
}
