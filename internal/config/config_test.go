package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scand.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
instance_id: dock-gate-7
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Camera.Source != "sim" {
		t.Errorf("camera.source default = %q, want sim", cfg.Camera.Source)
	}
	if cfg.Camera.Resolution != "480p" {
		t.Errorf("camera.resolution default = %q, want 480p", cfg.Camera.Resolution)
	}
	if cfg.Scan.Trigger != "periodic" {
		t.Errorf("scan.trigger default = %q, want periodic", cfg.Scan.Trigger)
	}
	if cfg.Scan.IntervalMs != 250 {
		t.Errorf("scan.interval_ms default = %d, want 250", cfg.Scan.IntervalMs)
	}
	if cfg.MQTT.Codec != "json" {
		t.Errorf("mqtt.codec default = %q, want json", cfg.MQTT.Codec)
	}
	if cfg.MQTT.Topics.Decodes != "scan/decodes/dock-gate-7" {
		t.Errorf("decodes topic = %q", cfg.MQTT.Topics.Decodes)
	}
	if cfg.MQTT.QoS["decodes"] != 1 {
		t.Errorf("decodes qos = %d, want 1", cfg.MQTT.QoS["decodes"])
	}
	if cfg.ShutdownTimeoutS != 5 {
		t.Errorf("shutdown_timeout_s default = %d, want 5", cfg.ShutdownTimeoutS)
	}

	w, h := cfg.Camera.Dimensions()
	if w != 640 || h != 480 {
		t.Errorf("resolution = %dx%d, want 640x480", w, h)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
instance_id: warehouse-a
site_id: bldg-3
shutdown_timeout_s: 10
camera:
  source: rtsp
  rtsp_url: rtsp://10.0.0.5:554/stream
  orientation: 90
scan:
  trigger: autofocus
  formats: [qr_code, ean_13]
mqtt:
  broker: tcp://broker.local:1883
  codec: msgpack
  topics:
    decodes: custom/decodes
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Source != "rtsp" || cfg.Camera.RTSPURL == "" {
		t.Error("rtsp source not parsed")
	}
	if cfg.Camera.OrientationDegrees != 90 {
		t.Errorf("orientation = %d, want 90", cfg.Camera.OrientationDegrees)
	}
	if cfg.Scan.Trigger != "autofocus" {
		t.Errorf("trigger = %q", cfg.Scan.Trigger)
	}
	if len(cfg.Scan.Formats) != 2 {
		t.Errorf("formats = %v", cfg.Scan.Formats)
	}
	if cfg.MQTT.Codec != "msgpack" {
		t.Errorf("codec = %q", cfg.MQTT.Codec)
	}
	if cfg.MQTT.Topics.Decodes != "custom/decodes" {
		t.Errorf("custom topic overridden: %q", cfg.MQTT.Topics.Decodes)
	}
	// Health topic still defaulted.
	if cfg.MQTT.Topics.Health != "scan/health/warehouse-a" {
		t.Errorf("health topic = %q", cfg.MQTT.Topics.Health)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing instance_id", `
mqtt:
  broker: tcp://localhost:1883
`},
		{"bad instance_id chars", `
instance_id: Dock_Gate
mqtt:
  broker: tcp://localhost:1883
`},
		{"missing broker", `
instance_id: dock-gate-7
`},
		{"rtsp without url", `
instance_id: dock-gate-7
camera:
  source: rtsp
mqtt:
  broker: tcp://localhost:1883
`},
		{"unknown trigger", `
instance_id: dock-gate-7
scan:
  trigger: motion
mqtt:
  broker: tcp://localhost:1883
`},
		{"unknown format", `
instance_id: dock-gate-7
scan:
  formats: [qr_code, cuneiform]
mqtt:
  broker: tcp://localhost:1883
`},
		{"bad orientation", `
instance_id: dock-gate-7
camera:
  orientation: 45
mqtt:
  broker: tcp://localhost:1883
`},
		{"unknown resolution on rtsp source", `
instance_id: dock-gate-7
camera:
  source: rtsp
  rtsp_url: rtsp://10.0.0.5:554/stream
  resolution: 600p
mqtt:
  broker: tcp://localhost:1883
`},
		{"autofocus on fixed-focus rtsp", `
instance_id: dock-gate-7
camera:
  source: rtsp
  rtsp_url: rtsp://10.0.0.5:554/stream
scan:
  trigger: autofocus
mqtt:
  broker: tcp://localhost:1883
`},
		{"unknown codec", `
instance_id: dock-gate-7
mqtt:
  broker: tcp://localhost:1883
  codec: protobuf
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Errorf("expected rejection")
			} else {
				t.Logf("rejected: %v", err)
			}
		})
	}
}
