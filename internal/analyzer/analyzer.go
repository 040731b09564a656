// Package analyzer runs one frame through the detector, the metrics engine
// and the annotator.
package analyzer

import (
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/trafficvision/internal/annotate"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/metrics"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/andresmejia3/trafficvision/internal/types"
	"github.com/cyclopcam/logs"
)

const (
	DefaultConfidence = 0.4
	DefaultIoU        = 0.5
)

// Params are the detector thresholds.
type Params struct {
	Confidence float64 // minimum class confidence, 0..1
	IoU        float64 // NMS overlap threshold, 0..1
}

func DefaultParams() Params {
	return Params{Confidence: DefaultConfidence, IoU: DefaultIoU}
}

func (p Params) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return errs.Config("invalid confidence threshold", fmt.Errorf("must be between 0.0 and 1.0, got %f", p.Confidence))
	}
	if p.IoU < 0 || p.IoU > 1 {
		return errs.Config("invalid IoU threshold", fmt.Errorf("must be between 0.0 and 1.0, got %f", p.IoU))
	}
	return nil
}

// Detector finds vehicles in an RGB frame. Implementations are expensive to
// construct and are not safe for concurrent use.
type Detector interface {
	Detect(frame *image.RGBA, p Params) ([]types.RawDetection, error)
}

type Analyzer struct {
	detector  Detector
	policy    *traffic.Policy
	annotator *annotate.Annotator
	log       logs.Log
	metrics   *metrics.Metrics
}

// New wires an analyzer. m may be nil.
func New(d Detector, policy *traffic.Policy, annotator *annotate.Annotator, log logs.Log, m *metrics.Metrics) *Analyzer {
	return &Analyzer{
		detector:  d,
		policy:    policy,
		annotator: annotator,
		log:       log,
		metrics:   m,
	}
}

func (a *Analyzer) Annotator() *annotate.Annotator {
	return a.annotator
}

// Analyze detects vehicles in frame and derives its report. A frame with no
// vehicles is not an error; it yields zeroed metrics and an unmodified copy.
// A zero-area frame is never sent to the detector.
func (a *Analyzer) Analyze(frame *image.RGBA, p Params) (*traffic.FrameReport, error) {
	if frame == nil {
		return nil, errs.Input("missing frame", nil)
	}
	start := time.Now()

	var raw []types.RawDetection
	if !frame.Rect.Empty() {
		var err error
		if raw, err = a.detector.Detect(frame, p); err != nil {
			return nil, fmt.Errorf("detector failed: %w", err)
		}
	}

	dets, unknown := a.policy.Resolve(raw)
	if unknown > 0 {
		a.log.Warnf("Dropped %v detection(s) with a class index outside the class table", unknown)
	}
	counts := traffic.Count(dets)
	counts.Unknown = unknown

	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	report := &traffic.FrameReport{
		Analytics:  a.policy.Analyze(counts, w, h),
		Detections: dets,
		Width:      w,
		Height:     h,
		Annotated:  a.annotator.Detections(frame, dets),
	}

	a.metrics.Analyzed(time.Since(start), map[string]int{
		traffic.Bus.String(): counts.Bus,
		traffic.Car.String(): counts.Car,
		traffic.Van.String(): counts.Van,
	}, unknown, report.Congestion.Index)
	return report, nil
}
