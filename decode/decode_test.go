package decode_test

import (
	"errors"
	"testing"

	"github.com/e7canasta/orion-scan-sensor/decode"
	"github.com/e7canasta/orion-scan-sensor/luminance"
)

type funcDecoder func(buf *luminance.Buffer) (*decode.Result, error)

func (f funcDecoder) Decode(buf *luminance.Buffer) (*decode.Result, error) { return f(buf) }

func newBuffer(t *testing.T, w, h int) *luminance.Buffer {
	t.Helper()
	buf := luminance.NewBuffer()
	if err := buf.Resize(w, h); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	return buf
}

// TestAttemptCoercesFaultsToNotFound validates the fault-absorption
// contract: error returns, the not-found sentinel and panics all yield
// NotFound and Run never raises.
func TestAttemptCoercesFaultsToNotFound(t *testing.T) {
	buf := newBuffer(t, 16, 16)

	cases := []struct {
		name string
		dec  decode.Decoder
	}{
		{"not-found sentinel", funcDecoder(func(*luminance.Buffer) (*decode.Result, error) {
			return nil, decode.ErrNotFound
		})},
		{"arbitrary error", funcDecoder(func(*luminance.Buffer) (*decode.Result, error) {
			return nil, errors.New("binarizer blew up")
		})},
		{"nil result, nil error", funcDecoder(func(*luminance.Buffer) (*decode.Result, error) {
			return nil, nil
		})},
		{"panicking decoder", funcDecoder(func(*luminance.Buffer) (*decode.Result, error) {
			panic("index out of range")
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := decode.NewAttempt(tc.dec).Run(buf)
			if out.Found() {
				t.Errorf("outcome Found (expected NotFound)")
			}
		})
	}
}

// TestAttemptPassesThroughResult validates a successful decode yields Found.
func TestAttemptPassesThroughResult(t *testing.T) {
	buf := newBuffer(t, 16, 16)
	attempt := decode.NewAttempt(funcDecoder(func(*luminance.Buffer) (*decode.Result, error) {
		return &decode.Result{Text: "hello", Format: decode.FormatQR}, nil
	}))

	out := attempt.Run(buf)
	if !out.Found() {
		t.Fatal("outcome NotFound (expected Found)")
	}
	if out.Result.Text != "hello" || out.Result.Format != decode.FormatQR {
		t.Errorf("result %+v (expected hello/qr_code)", out.Result)
	}
}

// TestPatternRoundTrip validates WritePattern output decodes back to the
// same payload, and frames without the pattern yield the not-found sentinel.
func TestPatternRoundTrip(t *testing.T) {
	buf := newBuffer(t, 64, 4)
	if err := decode.WritePattern(buf, "ticket-42"); err != nil {
		t.Fatalf("WritePattern failed: %v", err)
	}

	dec := decode.NewPatternDecoder(nil)
	res, err := dec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.Text != "ticket-42" {
		t.Errorf("decoded %q (expected %q)", res.Text, "ticket-42")
	}

	// Blank frame: not found, never an application error class.
	blank := newBuffer(t, 64, 4)
	if _, err := dec.Decode(blank); !errors.Is(err, decode.ErrNotFound) {
		t.Errorf("blank frame error %v (expected ErrNotFound)", err)
	}
}

// TestPatternFormatFiltering validates the fixed accepted-format contract.
func TestPatternFormatFiltering(t *testing.T) {
	buf := newBuffer(t, 64, 4)
	if err := decode.WritePattern(buf, "x"); err != nil {
		t.Fatalf("WritePattern failed: %v", err)
	}

	only1D := decode.NewPatternDecoder([]decode.Format{decode.FormatEAN13})
	if _, err := only1D.Decode(buf); !errors.Is(err, decode.ErrNotFound) {
		t.Errorf("EAN-only decoder error %v (expected ErrNotFound)", err)
	}

	withQR := decode.NewPatternDecoder([]decode.Format{decode.FormatQR, decode.FormatEAN13})
	if res, err := withQR.Decode(buf); err != nil || res == nil {
		t.Errorf("QR-accepting decoder failed: res=%v err=%v", res, err)
	}
}
