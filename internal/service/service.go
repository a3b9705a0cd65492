// Package service wires the configured camera, decoder, scanner and
// emitter into the scand daemon lifecycle.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/device/gstcam"
	"github.com/e7canasta/orion-scan-sensor/internal/config"
	"github.com/e7canasta/orion-scan-sensor/internal/emitter"
	"github.com/e7canasta/orion-scan-sensor/scan"
)

const healthInterval = 30 * time.Second

// Service owns the daemon's components and their shutdown order.
type Service struct {
	cfg     *config.Config
	scanner scan.Scanner
	emit    *emitter.MQTTEmitter

	readyFailed chan struct{}
}

// New loads the config and constructs every component. Nothing is
// connected or started yet.
func New(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	codec, err := emitter.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		return nil, err
	}

	cam, err := buildCamera(cfg)
	if err != nil {
		return nil, err
	}

	formats := make([]decode.Format, 0, len(cfg.Scan.Formats))
	for _, f := range cfg.Scan.Formats {
		formats = append(formats, decode.Format(f))
	}

	trigger := scan.TriggerPeriodic
	if cfg.Scan.Trigger == "autofocus" {
		trigger = scan.TriggerAutofocus
	}

	scanner, err := scan.New(scan.Config{
		Camera:   cam,
		Decoder:  decode.NewPatternDecoder(formats),
		Trigger:  trigger,
		Interval: time.Duration(cfg.Scan.IntervalMs) * time.Millisecond,
		Formats:  formats,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:         cfg,
		scanner:     scanner,
		emit:        emitter.NewMQTTEmitter(cfg, codec),
		readyFailed: make(chan struct{}),
	}, nil
}

// buildCamera constructs the configured camera source.
func buildCamera(cfg *config.Config) (device.Camera, error) {
	switch cfg.Camera.Source {
	case "sim":
		w, h := cfg.Camera.Dimensions()
		return device.NewSimCamera(device.SimConfig{
			Width:              w,
			Height:             h,
			OrientationDegrees: cfg.Camera.OrientationDegrees,
		})
	case "rtsp":
		w, h := cfg.Camera.Dimensions()
		return gstcam.New(gstcam.Config{
			RTSPURL:            cfg.Camera.RTSPURL,
			Width:              w,
			Height:             h,
			OrientationDegrees: cfg.Camera.OrientationDegrees,
		})
	default:
		return nil, fmt.Errorf("service: unknown camera source '%s'", cfg.Camera.Source)
	}
}

// Run connects the emitter, starts the scanner and blocks until the
// context is cancelled or the camera fails to initialize.
func (s *Service) Run(ctx context.Context) error {
	if err := s.emit.Connect(ctx); err != nil {
		return fmt.Errorf("service: %w", err)
	}

	s.scanner.OnCameraReady(func(initialized bool) {
		if initialized {
			slog.Info("service: camera ready",
				"orientation", s.scanner.OrientationDegrees(),
			)
			return
		}
		slog.Error("service: camera initialization failed")
		close(s.readyFailed)
	})

	s.scanner.OnDecodeCompleted(func(ev scan.DecodeEvent) {
		msg := emitter.MessageFromEvent(s.cfg.InstanceID, s.cfg.SiteID, ev)
		if err := s.emit.PublishDecode(msg); err != nil {
			slog.Warn("service: decode publish failed",
				"error", err,
				"trace_id", ev.TraceID,
			)
		}
	})

	if err := s.scanner.Start(ctx); err != nil {
		return fmt.Errorf("service: %w", err)
	}

	slog.Info("service: scanning",
		"instance_id", s.cfg.InstanceID,
		"camera", s.cfg.Camera.Source,
		"trigger", s.cfg.Scan.Trigger,
	)

	health := time.NewTicker(healthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.readyFailed:
			return fmt.Errorf("service: camera initialization failed")
		case <-health.C:
			s.publishHealth()
		}
	}
}

// publishHealth emits a scanner and emitter counter snapshot. Best
// effort; a disconnected broker drops the snapshot, not the daemon.
func (s *Service) publishHealth() {
	scanStats := s.scanner.Stats()
	emitStats := s.emit.Stats()

	payload, err := json.Marshal(map[string]any{
		"instance_id":      s.cfg.InstanceID,
		"state":            scanStats.State,
		"triggers_fired":   scanStats.TriggersFired,
		"triggers_dropped": scanStats.TriggersDropped,
		"cycles":           scanStats.Cycles,
		"found":            scanStats.Found,
		"mqtt_connected":   emitStats.Connected,
		"mqtt_errors":      emitStats.Errors,
		"at":               time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("service: health marshal failed", "error", err)
		return
	}
	if err := s.emit.PublishHealth(payload); err != nil {
		slog.Debug("service: health publish skipped", "error", err)
	}
}

// Shutdown stops the scanner and disconnects the emitter. The context
// bounds how long a hung stop may take before the daemon gives up.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.scanner.Stop()
	}()

	select {
	case err := <-done:
		s.emit.Disconnect()
		return err
	case <-ctx.Done():
		return fmt.Errorf("service: shutdown timed out: %w", ctx.Err())
	}
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
}
