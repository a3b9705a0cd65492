// Package luminance provides the reusable greyscale frame buffer shared
// between camera acquisition and decode attempts.
//
// Philosophy: "One allocation per resolution, reused forever."
//
// The buffer is exclusively owned by the scan loop goroutine. A camera
// overwrites it in full on every acquisition, a decoder borrows it for the
// duration of a single decode call, and nothing else ever aliases it. This
// eliminates data races by construction rather than by locking.
package luminance

import "fmt"

// Buffer holds one frame worth of 8-bit luminance samples, row-major,
// len(data) == width*height.
//
// OWNERSHIP CONTRACT:
//   - The scan loop owns the buffer for the whole session.
//   - Camera: overwrites the full buffer during acquire (never partial).
//   - Decoder: read-only borrow for one decode call, no retention.
type Buffer struct {
	width  int
	height int
	data   []byte
}

// NewBuffer creates an empty buffer. Storage is allocated on the first
// Resize call, once the camera has negotiated its resolution.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Resize reallocates the backing storage only if the dimensions differ from
// the current ones; a Resize to the identical resolution is a no-op and the
// existing storage (including stale samples) is kept.
//
// Returns an error for non-positive dimensions. That is a precondition
// violation of the caller (the camera reported an unusable resolution), not
// a transient fault.
func (b *Buffer) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("luminance: invalid resolution %dx%d", width, height)
	}
	if width == b.width && height == b.height {
		return nil
	}
	b.width = width
	b.height = height
	b.data = make([]byte, width*height)
	return nil
}

// Width returns the buffer width in pixels (0 before the first Resize).
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels (0 before the first Resize).
func (b *Buffer) Height() int { return b.height }

// Data returns the backing storage. Callers writing into it must fill it
// completely; callers reading from it must not retain the slice past the
// current scan cycle.
func (b *Buffer) Data() []byte { return b.data }

// Row returns the y-th row as a sub-slice of the backing storage.
// Same borrow rules as Data.
func (b *Buffer) Row(y int) []byte {
	return b.data[y*b.width : (y+1)*b.width]
}
