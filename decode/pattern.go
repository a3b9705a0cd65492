package decode

import (
	"fmt"

	"github.com/e7canasta/orion-scan-sensor/luminance"
)

// Calibration pattern layout, first row of the frame:
//
//	[0x00 0xFF 0x00 0xFF] [len] [payload bytes...]
//
// The pattern carries an ASCII payload in a form trivial to synthesize and
// recognize. It exists so the scan pipeline can be exercised end to end
// (simulated camera, daemon smoke runs, tests) without real optics; it is
// not a barcode symbology.
var patternMagic = []byte{0x00, 0xFF, 0x00, 0xFF}

// PatternDecoder recognizes the synthetic calibration pattern. It honors
// the fixed-format contract: the accepted set is taken at construction and
// a pattern decodes only when FormatQR is in that set.
type PatternDecoder struct {
	accept map[Format]bool
}

// NewPatternDecoder creates the calibration decoder. An empty format set
// accepts everything.
func NewPatternDecoder(formats []Format) *PatternDecoder {
	d := &PatternDecoder{}
	if len(formats) > 0 {
		d.accept = make(map[Format]bool, len(formats))
		for _, f := range formats {
			d.accept[f] = true
		}
	}
	return d
}

// Decode scans the first row for the calibration pattern.
func (d *PatternDecoder) Decode(buf *luminance.Buffer) (*Result, error) {
	if d.accept != nil && !d.accept[FormatQR] {
		return nil, ErrNotFound
	}
	if buf.Height() < 1 || buf.Width() < len(patternMagic)+1 {
		return nil, ErrNotFound
	}

	row := buf.Row(0)
	for i, m := range patternMagic {
		if row[i] != m {
			return nil, ErrNotFound
		}
	}

	n := int(row[len(patternMagic)])
	start := len(patternMagic) + 1
	if n == 0 || start+n > len(row) {
		return nil, ErrNotFound
	}

	payload := make([]byte, n)
	copy(payload, row[start:start+n])
	return &Result{
		Text:   string(payload),
		Format: FormatQR,
		Raw:    payload,
	}, nil
}

// WritePattern embeds the calibration pattern carrying text into the first
// row of the buffer. Counterpart of PatternDecoder, used by the simulated
// camera fill and by tests.
func WritePattern(buf *luminance.Buffer, text string) error {
	need := len(patternMagic) + 1 + len(text)
	if buf.Height() < 1 || buf.Width() < need {
		return fmt.Errorf("decode: buffer row too small for pattern (%d < %d)", buf.Width(), need)
	}
	if len(text) > 255 {
		return fmt.Errorf("decode: pattern payload too long (%d > 255)", len(text))
	}

	row := buf.Row(0)
	copy(row, patternMagic)
	row[len(patternMagic)] = byte(len(text))
	copy(row[len(patternMagic)+1:], text)
	return nil
}
