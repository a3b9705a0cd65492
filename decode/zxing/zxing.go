// Package zxing adapts a zxinggo barcode reader to the decode.Decoder
// capability consumed by the scan engine.
//
// The adapter builds a zero-copy luminance source over the scan buffer,
// binarizes it and hands it to the configured reader. Reader faults,
// including "no pattern found", surface as decode.ErrNotFound, which the
// attempt wrapper already treats as a normal outcome.
package zxing

import (
	"fmt"
	"strings"

	zxinggo "github.com/ericlevine/zxinggo"
	"github.com/ericlevine/zxinggo/binarizer"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// Decoder implements decode.Decoder on top of a zxinggo.Reader.
//
// The accepted format set is fixed at construction and immutable for the
// session's lifetime, matching the scan engine's contract.
type Decoder struct {
	reader zxinggo.Reader
	opts   zxinggo.DecodeOptions
}

// Config configures the adapter.
type Config struct {
	// Reader is the zxinggo reader to delegate to (required).
	Reader zxinggo.Reader
	// Formats limits decoding to the given symbologies. Empty means the
	// reader's full format set.
	Formats []zxinggo.Format
	// TryHarder spends more time per frame. Costly: the decode runs on
	// the scan loop and directly delays the next trigger.
	TryHarder bool
}

// New creates a zxinggo-backed decoder with fail-fast validation.
func New(cfg Config) (*Decoder, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("zxing: reader is required")
	}
	return &Decoder{
		reader: cfg.Reader,
		opts: zxinggo.DecodeOptions{
			PossibleFormats: cfg.Formats,
			TryHarder:       cfg.TryHarder,
		},
	}, nil
}

// formatNames maps ZXing's canonical format identifiers to the local
// taxonomy the config and scan layers validate against.
var formatNames = map[string]decode.Format{
	"QR_CODE":     decode.FormatQR,
	"DATA_MATRIX": decode.FormatDataMatrix,
	"AZTEC":       decode.FormatAztec,
	"PDF_417":     decode.FormatPDF417,
	"EAN_8":       decode.FormatEAN8,
	"EAN_13":      decode.FormatEAN13,
	"CODE_39":     decode.FormatCode39,
	"CODE_128":    decode.FormatCode128,
	"UPC_A":       decode.FormatUPCA,
	"UPC_E":       decode.FormatUPCE,
	"ITF":         decode.FormatITF,
	"CODABAR":     decode.FormatCodabar,
}

// mapFormat translates a reader format into the local identifier. An
// unmapped format keeps its lowercased ZXing name so the payload is not
// lost, even though KnownFormat will not recognize it.
func mapFormat(f zxinggo.Format) decode.Format {
	name := fmt.Sprint(f)
	if mapped, ok := formatNames[name]; ok {
		return mapped
	}
	return decode.Format(strings.ToLower(name))
}

// Decode binarizes the borrowed buffer and runs the reader over it.
func (d *Decoder) Decode(buf *luminance.Buffer) (*decode.Result, error) {
	src := &bufferSource{buf: buf}
	bitmap := zxinggo.NewBinaryBitmap(binarizer.NewHybrid(src))

	opts := d.opts
	res, err := d.reader.Decode(bitmap, &opts)
	if err != nil || res == nil {
		// Every reader fault is "no code in this frame". The next
		// frame is already on its way.
		return nil, decode.ErrNotFound
	}

	return &decode.Result{
		Text:   res.Text,
		Format: mapFormat(res.Format),
		Raw:    res.RawBytes,
	}, nil
}

// bufferSource exposes a luminance.Buffer as a zxinggo.LuminanceSource
// without copying. The source is valid only for the single decode call
// that borrows the buffer.
type bufferSource struct {
	buf *luminance.Buffer
}

var _ zxinggo.LuminanceSource = (*bufferSource)(nil)
var _ decode.Decoder = (*Decoder)(nil)

func (s *bufferSource) Row(y int, row []byte) []byte {
	src := s.buf.Row(y)
	if cap(row) < len(src) {
		row = make([]byte, len(src))
	}
	row = row[:len(src)]
	copy(row, src)
	return row
}

func (s *bufferSource) Matrix() []byte { return s.buf.Data() }
func (s *bufferSource) Width() int     { return s.buf.Width() }
func (s *bufferSource) Height() int    { return s.buf.Height() }
