// Package config handles runtime configuration for the conversation core.
// Grounded on the teacher's config.Load/Save JSON-in-user-config-dir
// pattern, stripped of credential/profile storage and legacy migration
// (neither applies to this domain).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appName        = "voicecore"
	configFileName = "config.json"
)

// Config holds the recognized runtime configuration, spec.md §6.5. All
// fields are optional; Load fills unset fields with their defaults.
type Config struct {
	VoiceEnabled         bool `json:"voice_enabled"`
	SPSEnabled           bool `json:"sps_enabled"`
	STTFallbackMs        int  `json:"stt_fallback_ms"`
	STTExtendedMs        int  `json:"stt_extended_ms"`
	VoiceDebug           bool `json:"voice_debug"`
	VoiceAutostart       bool `json:"voice_autostart"`
	MaxSocketFailures    int  `json:"max_socket_failures"`
	SessionAckTimeoutMs  int  `json:"session_ack_timeout_ms"`
	AdaptiveVADEnabled   bool `json:"adaptive_vad_enabled"`
	BackendRelayEnabled  bool `json:"backend_relay_enabled"`
	APIBaseURL           string `json:"api_base_url"`
}

// Default returns the configuration defaults named in spec.md §6.5.
func Default() *Config {
	return &Config{
		VoiceEnabled:        true,
		SPSEnabled:          true,
		STTFallbackMs:       800,
		STTExtendedMs:       1800,
		VoiceDebug:          false,
		VoiceAutostart:      false,
		MaxSocketFailures:   3,
		SessionAckTimeoutMs: 5000,
		AdaptiveVADEnabled:  true,
		BackendRelayEnabled: true,
	}
}

// Load reads configuration from the user config directory, filling any
// field absent from an existing file with its default (a partial file
// on disk is common when a new field is added across versions); fields
// present in the file keep their values, including zero values. Returns
// defaults if no file exists yet.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
