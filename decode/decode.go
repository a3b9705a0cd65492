// Package decode defines the decode capability consumed by the scan engine
// and the attempt wrapper that guards every invocation of it.
//
// Philosophy: "A frame without a code is not an error."
//
// Decoders fail constantly in normal operation (most frames simply contain
// no code). The Attempt wrapper therefore coerces every decoder fault,
// error returns and panics alike, into the NotFound outcome. The consumer
// only ever sees Found/NotFound, never a decode error path.
package decode

import (
	"errors"
	"log/slog"

	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// Format identifies an accepted code symbology. Values are stable string
// identifiers suitable for configuration files.
type Format string

const (
	FormatQR         Format = "qr_code"
	FormatDataMatrix Format = "data_matrix"
	FormatAztec      Format = "aztec"
	FormatPDF417     Format = "pdf417"
	FormatEAN8       Format = "ean_8"
	FormatEAN13      Format = "ean_13"
	FormatCode39     Format = "code_39"
	FormatCode128    Format = "code_128"
	FormatUPCA       Format = "upc_a"
	FormatUPCE       Format = "upc_e"
	FormatITF        Format = "itf"
	FormatCodabar    Format = "codabar"
)

// KnownFormat reports whether f is one of the supported identifiers.
func KnownFormat(f Format) bool {
	switch f {
	case FormatQR, FormatDataMatrix, FormatAztec, FormatPDF417,
		FormatEAN8, FormatEAN13, FormatCode39, FormatCode128,
		FormatUPCA, FormatUPCE, FormatITF, FormatCodabar:
		return true
	}
	return false
}

// Result is one successfully decoded payload.
type Result struct {
	// Text is the decoded payload.
	Text string
	// Format is the symbology the payload was decoded from.
	Format Format
	// Raw contains the raw payload bytes when the decoder provides them.
	Raw []byte
}

// Outcome is the found/not-found result of one scan cycle. Decoder faults
// never appear here; they are coerced to the not-found outcome by Attempt.
type Outcome struct {
	// Result is non-nil only when a code was found.
	Result *Result
}

// Found reports whether the cycle decoded a payload.
func (o Outcome) Found() bool { return o.Result != nil }

// NotFound is the outcome of a cycle whose frame contained no decodable code.
var NotFound = Outcome{}

// ErrNotFound is the sentinel decoders return when the frame contains no
// code. It is a normal condition, not a failure.
var ErrNotFound = errors.New("decode: no code found")

// Decoder is the external decode capability. The accepted format set is
// fixed at decoder construction and immutable for the session's lifetime.
//
// Decode borrows the buffer for the duration of the call only; it must not
// retain the buffer or its backing storage.
type Decoder interface {
	Decode(buf *luminance.Buffer) (*Result, error)
}

// Attempt wraps a Decoder with the fault-absorption contract: any error or
// panic raised by the capability is converted to NotFound.
//
// Run is synchronous and potentially expensive (proportional to frame size).
// It must execute on the same goroutine as frame acquisition so the buffer
// is never concurrently mutated; the scan loop guarantees that.
type Attempt struct {
	dec Decoder
}

// NewAttempt creates an attempt wrapper around the decode capability.
func NewAttempt(dec Decoder) *Attempt {
	return &Attempt{dec: dec}
}

// Run invokes the decoder against the borrowed buffer and returns the
// cycle outcome. Never returns an error and never panics.
func (a *Attempt) Run(buf *luminance.Buffer) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking decoder is treated the same as "no code
			// present": the frame is gone, the next one is coming.
			slog.Warn("decode: decoder panicked, treating as not found", "panic", r)
			out = NotFound
		}
	}()

	res, err := a.dec.Decode(buf)
	if err != nil || res == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Debug("decode: decoder fault absorbed", "error", err)
		}
		return NotFound
	}
	return Outcome{Result: res}
}
