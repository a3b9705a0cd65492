package gstcam

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig contains configuration for GStreamer pipeline creation
type pipelineConfig struct {
	RTSPURL   string
	Width     int
	Height    int
	TargetFPS float64
}

// pipelineElements holds references to GStreamer pipeline elements
// needed for callback wiring and cleanup
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	RTSPSrc  *gst.Element
	Depay    *gst.Element
}

// createPipeline creates and configures a GStreamer pipeline that delivers
// the luminance plane of an RTSP stream.
//
// Pipeline structure:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter(GRAY8) → appsink
//
// GRAY8 output means the appsink buffer IS the luminance plane: one byte
// per pixel, row-major, exactly what the decoder consumes. videoconvert
// does the Y extraction, no per-frame conversion happens in Go.
//
// The pipeline is configured but NOT started (state remains NULL).
// Caller must call pipeline.SetState(gst.StatePlaying) to start.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	// protocols=4 (TCP only) avoids UDP negotiation stalls behind NAT
	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.RTSPURL)
	rtspsrc.SetProperty("protocols", 4)
	rtspsrc.SetProperty("latency", 200)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	rtph264depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtph264depay: %w", err)
	}
	// Request keyframes on packet loss for faster recovery
	rtph264depay.SetProperty("request-keyframe", true)

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0) // auto-detect cores
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)
	converter.SetProperty("dither", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)     // only drop frames, never duplicate
	videorate.SetProperty("skip-to-first", true) // skip to first frame on start

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	caps := gst.NewCapsFromString(buildLuminanceCaps(cfg.Width, cfg.Height, cfg.TargetFPS))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // no clock sync, real-time
	appsink.SetProperty("max-buffers", 1) // keep only latest frame
	appsink.SetProperty("drop", true)     // drop old frames
	appsink.SetProperty("qos", true)      // upstream pre-decode drops

	pipeline.AddMany(
		rtspsrc,
		rtph264depay,
		decoder,
		converter,
		scaler,
		videorate,
		capsfilter,
		appsink.Element,
	)

	// Link static elements (rtspsrc has dynamic pads, linked in pad-added callback)
	if err := gst.ElementLinkMany(
		rtph264depay,
		decoder,
		converter,
		scaler,
		videorate,
		capsfilter,
		appsink.Element,
	); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	return &pipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
		RTSPSrc:  rtspsrc,
		Depay:    rtph264depay,
	}, nil
}

// destroyPipeline sets the pipeline state to NULL and releases resources.
// Safe to call even if the pipeline is already destroyed.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildLuminanceCaps builds the GRAY8 caps string with framerate constraint.
//
// Handles fractional framerates:
//   - fps >= 1.0: framerate = fps/1 (e.g., 4.0 → 4/1)
//   - fps < 1.0: framerate = 1/(1/fps) (e.g., 0.5 → 1/2)
func buildLuminanceCaps(width, height int, fps float64) string {
	numerator := 1
	denominator := 1

	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}

	return fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d,framerate=%d/%d",
		width, height, numerator, denominator,
	)
}
