package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge_id: file\nmqtt_interval: 30s\n"), 0o600))

	cfg, err := buildConfig(options{
		configPath:          path,
		bridgeID:            "flag",
		forceUpdateInterval: "600",
		speedThreshold:      "3",
		verbose:             "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "flag", cfg.BridgeID)
	assert.Equal(t, 30*time.Second, cfg.MQTTInterval, "file value survives when no flag is given")
	assert.Equal(t, 10*time.Minute, cfg.ForceUpdateInterval)
	assert.Equal(t, 3.0, cfg.SpeedThreshold)
	assert.True(t, cfg.Verbose)
}

func TestBuildConfigRejectsBadValues(t *testing.T) {
	_, err := buildConfig(options{mqttInterval: "soon"})
	assert.ErrorContains(t, err, "mqtt interval")

	_, err = buildConfig(options{mqttURL: "http://broker"})
	assert.ErrorContains(t, err, "supported protocol")

	_, err = buildConfig(options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
