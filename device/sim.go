package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// SimConfig configures the simulated camera.
type SimConfig struct {
	// Width and Height of the synthetic frames (required).
	Width  int
	Height int
	// OrientationDegrees reported by the sensor (0, 90, 180, 270).
	OrientationDegrees int
	// OpenDelay before EventOpened fires. Zero means "next tick".
	OpenDelay time.Duration
	// FocusLatency between Focus() and EventFocusDone. Zero means 20ms.
	FocusLatency time.Duration
	// Fill overwrites the full buffer with the current synthetic frame.
	// When nil, frames are a flat mid-grey field (no decodable pattern).
	Fill func(buf *luminance.Buffer, seq uint64)
}

// SimCamera generates synthetic luminance frames for development and tests.
// It implements the full Camera capability set including autofocus, so both
// trigger modes can be exercised without hardware.
type SimCamera struct {
	cfg    SimConfig
	events chan Event

	mu      sync.Mutex
	ready   bool
	closed  bool
	flash   bool
	seq     uint64
	opening bool
}

var _ Camera = (*SimCamera)(nil)

// NewSimCamera creates a simulated camera with fail-fast validation.
func NewSimCamera(cfg SimConfig) (*SimCamera, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("device: invalid sim resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FocusLatency == 0 {
		cfg.FocusLatency = 20 * time.Millisecond
	}
	return &SimCamera{
		cfg:    cfg,
		events: make(chan Event, 8),
	}, nil
}

// Open begins asynchronous initialization. EventOpened fires after OpenDelay.
func (c *SimCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.ready || c.opening {
		c.mu.Unlock()
		return fmt.Errorf("device: sim camera already opened")
	}
	c.opening = true
	c.mu.Unlock()

	go func() {
		if c.cfg.OpenDelay > 0 {
			select {
			case <-time.After(c.cfg.OpenDelay):
			case <-ctx.Done():
				return
			}
		}
		c.mu.Lock()
		c.ready = true
		c.opening = false
		c.mu.Unlock()

		slog.Debug("device: sim camera opened",
			"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		)
		c.emit(Event{Kind: EventOpened})
	}()

	return nil
}

// Close releases the simulated device. Idempotent.
func (c *SimCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ready = false
	close(c.events)
	return nil
}

// Events returns the device signal channel.
func (c *SimCamera) Events() <-chan Event { return c.events }

// Resolution returns the synthetic frame size once opened, (0,0) before.
func (c *SimCamera) Resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0, 0
	}
	return c.cfg.Width, c.cfg.Height
}

// OrientationDegrees returns the configured mounting rotation, 0 before ready.
func (c *SimCamera) OrientationDegrees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return 0
	}
	return c.cfg.OrientationDegrees
}

// SetFlash toggles the simulated torch.
func (c *SimCamera) SetFlash(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	c.flash = on
	return nil
}

// FlashEnabled reports the simulated torch state (test helper).
func (c *SimCamera) FlashEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flash
}

// Focus requests one autofocus cycle; EventFocusDone fires after FocusLatency.
func (c *SimCamera) Focus() error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.mu.Unlock()

	time.AfterFunc(c.cfg.FocusLatency, func() {
		c.emit(Event{Kind: EventFocusDone})
	})
	return nil
}

// CopyLuminanceInto overwrites the full buffer with the next synthetic frame.
func (c *SimCamera) CopyLuminanceInto(buf *luminance.Buffer) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	if buf.Width() != c.cfg.Width || buf.Height() != c.cfg.Height {
		return fmt.Errorf("device: buffer %dx%d does not match sim resolution %dx%d",
			buf.Width(), buf.Height(), c.cfg.Width, c.cfg.Height)
	}

	if c.cfg.Fill != nil {
		c.cfg.Fill(buf, seq)
		return nil
	}
	data := buf.Data()
	for i := range data {
		data[i] = 0x80
	}
	return nil
}

// emit sends an event without blocking. Events are signals, not a queue:
// if the consumer is behind, the occurrence is dropped.
func (c *SimCamera) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		slog.Debug("device: sim event dropped, channel full", "kind", ev.Kind.String())
	}
}
