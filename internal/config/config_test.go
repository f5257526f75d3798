package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialFileFillsDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	confDir := filepath.Join(dir, appName)
	require.NoError(t, os.MkdirAll(confDir, 0755))
	partial := []byte(`{"voice_debug": true, "stt_fallback_ms": 1200}`)
	require.NoError(t, os.WriteFile(filepath.Join(confDir, configFileName), partial, 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.VoiceDebug)
	assert.Equal(t, 1200, cfg.STTFallbackMs)
	assert.Equal(t, 1800, cfg.STTExtendedMs, "unspecified field keeps its default")
	assert.True(t, cfg.VoiceEnabled, "unspecified bool keeps its default")
}

func TestSave_RoundTrips(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.VoiceDebug = true
	cfg.MaxSocketFailures = 5
	require.NoError(t, cfg.Save())

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, true, m["voice_enabled"])
	assert.Equal(t, true, m["sps_enabled"])
	assert.Equal(t, float64(800), m["stt_fallback_ms"])
	assert.Equal(t, float64(1800), m["stt_extended_ms"])
	assert.Equal(t, false, m["voice_debug"])
	assert.Equal(t, false, m["voice_autostart"])
	assert.Equal(t, float64(3), m["max_socket_failures"])
	assert.Equal(t, float64(5000), m["session_ack_timeout_ms"])
	assert.Equal(t, true, m["adaptive_vad_enabled"])
}
