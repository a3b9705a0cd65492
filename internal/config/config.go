package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scan sensor configuration
type Config struct {
	InstanceID       string       `yaml:"instance_id"`
	SiteID           string       `yaml:"site_id"`
	ShutdownTimeoutS int          `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig `yaml:"camera"`
	Scan             ScanConfig   `yaml:"scan"`
	MQTT             MQTTConfig   `yaml:"mqtt"`
}

// CameraConfig contains camera source settings
type CameraConfig struct {
	Source             string `yaml:"source"`      // sim, rtsp
	RTSPURL            string `yaml:"rtsp_url"`    // required when source is rtsp
	Resolution         string `yaml:"resolution"`  // 480p, 720p, 1080p (sim source)
	OrientationDegrees int    `yaml:"orientation"` // 0, 90, 180, 270
}

// ScanConfig contains scan scheduling settings
type ScanConfig struct {
	Trigger    string   `yaml:"trigger"`     // periodic, autofocus
	IntervalMs int      `yaml:"interval_ms"` // periodic trigger cadence (default: 250)
	Formats    []string `yaml:"formats"`     // accepted barcode formats, empty accepts all
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Codec  string          `yaml:"codec"` // json, msgpack (default: json)
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Decodes string `yaml:"decodes"`
	Health  string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
