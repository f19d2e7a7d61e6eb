package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jkaberg/fueltrim-hass/internal/sensors"
)

// Config holds all configuration options for the fueltrim-hass bridge.
// Every field can be set from the YAML file; main lets flags and
// FUELTRIM_HASS_* environment variables override it.
type Config struct {
	// MQTT Configuration
	MQTTUrl             string        `yaml:"mqtt_url"`              // ws://, wss://, mqtt:// or mqtts://
	DiscoveryPrefix     string        `yaml:"discovery_prefix"`      // Home Assistant discovery prefix
	MQTTInterval        time.Duration `yaml:"mqtt_interval"`         // minimum spacing between state publishes per device
	ForceUpdateInterval time.Duration `yaml:"force_update_interval"` // republish unchanged state after this long, 0 = never

	// Webhook Configuration
	ListenAddr     string  `yaml:"listen_addr"`     // address the Traccar webhook server binds
	SpeedThreshold float64 `yaml:"speed_threshold"` // km/h below which GPS speed is reported as 0

	// Bridge Configuration
	BridgeID   string          `yaml:"bridge_id"`  // MQTT client id suffix
	Sensors    []string        `yaml:"sensors"`    // Traccar keys to publish, empty = defaults
	Transforms []TransformRule `yaml:"transforms"` // raw topic -> label topic rules

	// Application Configuration
	Verbose bool `yaml:"verbose"` // Enable verbose logging
}

// TransformRule classifies every message on Source and publishes the label to Target.
type TransformRule struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"` // defaults to Source + "/status"
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		DiscoveryPrefix: "homeassistant",
		MQTTInterval:    MQTTTransmitInterval,
		ListenAddr:      DefaultListenAddr,
		SpeedThreshold:  DefaultSpeedThreshold,
		BridgeID:        "fueltrim",
		Verbose:         false,
	}
}

// Load reads the YAML file at path on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid and fills derived defaults.
func (c *Config) Validate() error {
	if c.BridgeID == "" {
		return fmt.Errorf("bridge ID is required")
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}
	if len(c.Transforms) > 0 && c.MQTTUrl == "" {
		return fmt.Errorf("transforms require an MQTT URL")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MQTTInterval < 0 || c.ForceUpdateInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.SpeedThreshold < 0 {
		return fmt.Errorf("speed threshold must not be negative")
	}

	if unknown := sensors.UnknownKeys(c.Sensors); len(unknown) > 0 {
		return fmt.Errorf("unknown sensor keys: %s", strings.Join(unknown, ", "))
	}

	for i := range c.Transforms {
		rule := &c.Transforms[i]
		if rule.Source == "" {
			return fmt.Errorf("transform %d: source topic is required", i)
		}
		if strings.ContainsAny(rule.Source, "+#") {
			return fmt.Errorf("transform %d: wildcard source %q has no single target", i, rule.Source)
		}
		if rule.Target == "" {
			rule.Target = rule.Source + "/status"
		}
		if rule.Target == rule.Source {
			return fmt.Errorf("transform %d: target must differ from source", i)
		}
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}
