package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/orion-scan-sensor/decode"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Resolutions accepted for any camera source: the sim frame size, or the
// size the GStreamer pipeline scales RTSP frames to.
var resolutions = map[string][2]int{
	"480p":  {640, 480},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
}

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5 // default
	}

	// Validate camera source
	switch cfg.Camera.Source {
	case "":
		cfg.Camera.Source = "sim"
	case "sim":
	case "rtsp":
		if cfg.Camera.RTSPURL == "" {
			return fmt.Errorf("camera.rtsp_url is required when camera.source is rtsp")
		}
	default:
		return fmt.Errorf("camera.source must be 'sim' or 'rtsp', got '%s'", cfg.Camera.Source)
	}
	if cfg.Camera.Resolution == "" {
		cfg.Camera.Resolution = "480p"
	}
	if _, ok := resolutions[cfg.Camera.Resolution]; !ok {
		return fmt.Errorf("camera.resolution must be 480p, 720p or 1080p, got '%s'", cfg.Camera.Resolution)
	}
	switch cfg.Camera.OrientationDegrees {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera.orientation must be 0, 90, 180 or 270, got %d", cfg.Camera.OrientationDegrees)
	}

	// Validate scan settings
	switch cfg.Scan.Trigger {
	case "":
		cfg.Scan.Trigger = "periodic"
	case "periodic", "autofocus":
	default:
		return fmt.Errorf("scan.trigger must be 'periodic' or 'autofocus', got '%s'", cfg.Scan.Trigger)
	}
	if cfg.Scan.Trigger == "autofocus" && cfg.Camera.Source == "rtsp" {
		return fmt.Errorf("scan.trigger 'autofocus' requires a camera with autofocus; rtsp cameras are fixed-focus")
	}
	if cfg.Scan.IntervalMs < 0 {
		return fmt.Errorf("scan.interval_ms must be >= 0")
	}
	if cfg.Scan.IntervalMs == 0 {
		cfg.Scan.IntervalMs = 250 // default
	}
	for _, f := range cfg.Scan.Formats {
		if !decode.KnownFormat(decode.Format(f)) {
			return fmt.Errorf("scan.formats: unknown format '%s'", f)
		}
	}

	// Validate MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	switch cfg.MQTT.Codec {
	case "":
		cfg.MQTT.Codec = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.codec must be 'json' or 'msgpack', got '%s'", cfg.MQTT.Codec)
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Decodes == "" {
		cfg.MQTT.Topics.Decodes = fmt.Sprintf("scan/decodes/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("scan/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"decodes": 1,
			"health":  0,
		}
	}

	return nil
}

// Dimensions returns the pixel dimensions for the configured resolution.
// Call after Validate.
func (c *CameraConfig) Dimensions() (int, int) {
	dims := resolutions[c.Resolution]
	return dims[0], dims[1]
}
