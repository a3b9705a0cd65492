// Package gstcam implements the camera capability on top of a GStreamer
// RTSP pipeline. Network cameras are fixed-focus and have no torch, so
// Focus and SetFlash report ErrUnsupported; the scan session absorbs both.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-scan-sensor/device"
	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// Config configures the RTSP luminance camera.
type Config struct {
	// RTSPURL of the H.264 stream (required).
	RTSPURL string
	// Width and Height the pipeline scales frames to (required).
	Width  int
	Height int
	// TargetFPS caps the frame rate delivered by the pipeline. The scan
	// cadence is much lower than typical stream rates; capping here drops
	// frames before the H.264 decoder spends CPU on them. Zero means 4.
	TargetFPS float64
	// OrientationDegrees the camera is mounted at (0, 90, 180, 270).
	OrientationDegrees int
}

// Camera is a device.Camera backed by a GStreamer pipeline. Readiness is
// signaled on the first delivered frame, not on pipeline state: a PLAYING
// pipeline with no frames is not a usable camera.
type Camera struct {
	cfg    Config
	events chan device.Event

	mu       sync.Mutex
	elements *pipelineElements
	latest   []byte // most recent GRAY8 plane, nil until first frame
	ready    bool
	closed   bool
	seq      uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ device.Camera = (*Camera)(nil)

// New creates an RTSP camera with fail-fast validation.
func New(cfg Config) (*Camera, error) {
	if cfg.RTSPURL == "" {
		return nil, fmt.Errorf("gstcam: rtsp url is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstcam: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TargetFPS == 0 {
		cfg.TargetFPS = 4
	}
	return &Camera{
		cfg:    cfg,
		events: make(chan device.Event, 8),
	}, nil
}

// Open builds and starts the pipeline. Asynchronous: EventOpened fires
// once the first frame arrives at the appsink.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return device.ErrNotReady
	}
	if c.elements != nil {
		c.mu.Unlock()
		return fmt.Errorf("gstcam: camera already opened")
	}
	c.mu.Unlock()

	elements, err := createPipeline(pipelineConfig{
		RTSPURL:   c.cfg.RTSPURL,
		Width:     c.cfg.Width,
		Height:    c.cfg.Height,
		TargetFPS: c.cfg.TargetFPS,
	})
	if err != nil {
		return fmt.Errorf("gstcam: %w", err)
	}

	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	// rtspsrc pads appear only after stream negotiation.
	depay := elements.Depay
	elements.RTSPSrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("gstcam: failed to get sink pad from rtph264depay")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("gstcam: failed to link pads", "pad", srcPad.GetName(), "ret", ret)
		}
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return fmt.Errorf("gstcam: failed to start pipeline: %w", err)
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.elements = elements
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.monitorBus(monitorCtx, elements)

	slog.Info("gstcam: pipeline started",
		"url", c.cfg.RTSPURL,
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"target_fps", c.cfg.TargetFPS,
	)
	return nil
}

// onSample runs on the GStreamer streaming thread for every delivered
// frame. It copies the GRAY8 plane into the latest-frame slot; the first
// frame also signals readiness.
func (c *Camera) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single corrupted frame should not kill the pipeline.
		slog.Warn("gstcam: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstcam: empty buffer received")
		return gst.FlowOK
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		buffer.Unmap()
		return gst.FlowOK
	}
	if len(c.latest) != len(data) {
		c.latest = make([]byte, len(data))
	}
	copy(c.latest, data)
	c.seq++
	first := !c.ready
	c.ready = true
	c.mu.Unlock()
	buffer.Unmap()

	if first {
		slog.Info("gstcam: first frame received, camera ready")
		c.emit(device.Event{Kind: device.EventOpened})
	}
	return gst.FlowOK
}

// monitorBus watches the pipeline bus; errors and EOS become device
// faults for the session to absorb.
func (c *Camera) monitorBus(ctx context.Context, elements *pipelineElements) {
	defer c.wg.Done()
	bus := elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			switch msg.Type() {
			case gst.MessageEOS:
				slog.Warn("gstcam: end of stream", "url", c.cfg.RTSPURL)
				c.emit(device.Event{Kind: device.EventFault, Err: fmt.Errorf("gstcam: end of stream")})
				return
			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("gstcam: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"url", c.cfg.RTSPURL,
				)
				c.emit(device.Event{Kind: device.EventFault, Err: fmt.Errorf("gstcam: %s", gerr.Error())})
			}
		}
	}
}

// Close stops the pipeline and releases the device. Idempotent.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	elements := c.elements
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	var err error
	if elements != nil {
		err = destroyPipeline(elements)
	}

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
	return err
}

// Events returns the device signal channel.
func (c *Camera) Events() <-chan device.Event { return c.events }

// Resolution returns the pipeline output size once the first frame
// arrived, (0,0) before.
func (c *Camera) Resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0, 0
	}
	return c.cfg.Width, c.cfg.Height
}

// OrientationDegrees returns the configured mounting rotation, 0 before ready.
func (c *Camera) OrientationDegrees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0
	}
	return c.cfg.OrientationDegrees
}

// SetFlash is unsupported on network cameras.
func (c *Camera) SetFlash(on bool) error { return device.ErrUnsupported }

// Focus is unsupported on network cameras; they are fixed-focus. Periodic
// triggering is the right mode for this camera.
func (c *Camera) Focus() error { return device.ErrUnsupported }

// emit sends an event without blocking. Events are signals, not a queue:
// if the consumer is behind, the occurrence is dropped.
func (c *Camera) emit(ev device.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		slog.Debug("gstcam: event dropped, channel full", "kind", ev.Kind.String())
	}
}

// CopyLuminanceInto overwrites the buffer with the most recent frame.
func (c *Camera) CopyLuminanceInto(buf *luminance.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready || c.latest == nil {
		return device.ErrNotReady
	}
	if buf.Width() != c.cfg.Width || buf.Height() != c.cfg.Height {
		return fmt.Errorf("gstcam: buffer %dx%d does not match pipeline output %dx%d",
			buf.Width(), buf.Height(), c.cfg.Width, c.cfg.Height)
	}
	if len(c.latest) < len(buf.Data()) {
		// Stride padding mismatch would land here; GRAY8 at even widths
		// is tightly packed so this indicates a broken negotiation.
		return fmt.Errorf("gstcam: short frame %d bytes, need %d", len(c.latest), len(buf.Data()))
	}
	copy(buf.Data(), c.latest)
	return nil
}
