package analyzer

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/andresmejia3/trafficvision/internal/annotate"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/metrics"
	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/andresmejia3/trafficvision/internal/types"
	"github.com/cyclopcam/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	dets   []types.RawDetection
	err    error
	params []Params
}

func (s *stubDetector) Detect(frame *image.RGBA, p Params) ([]types.RawDetection, error) {
	s.params = append(s.params, p)
	return s.dets, s.err
}

func newAnalyzer(t *testing.T, d Detector, m *metrics.Metrics) *Analyzer {
	return New(d, traffic.DefaultPolicy(), annotate.New(annotate.DefaultPalette()), logs.NewTestingLog(t), m)
}

func TestAnalyzeZeroDetections(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 640, 640))
	frame.Pix[100] = 42

	d := &stubDetector{}
	report, err := newAnalyzer(t, d, nil).Analyze(frame, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, traffic.Counts{}, report.Counts)
	assert.Zero(t, report.Density.Score)
	assert.Equal(t, traffic.DensityLow, report.Density.Level)
	assert.Equal(t, traffic.Balanced, report.Ratio.Kind)
	assert.Zero(t, report.Congestion.Index)
	assert.Equal(t, traffic.Smooth, report.Congestion.Level)
	assert.Empty(t, report.Detections)
	assert.True(t, bytes.Equal(frame.Pix, report.Annotated.Pix))
	assert.Equal(t, []Params{{Confidence: 0.4, IoU: 0.5}}, d.params)
}

func TestAnalyzeCountsAndUnknownClasses(t *testing.T) {
	d := &stubDetector{dets: []types.RawDetection{
		{ClassIndex: 0, Confidence: 0.91, Box: [4]float64{10, 10, 80, 60}},
		{ClassIndex: 0, Confidence: 0.88, Box: [4]float64{100, 10, 180, 60}},
		{ClassIndex: 2, Confidence: 0.75, Box: [4]float64{10, 100, 60, 140}},
		{ClassIndex: 5, Confidence: 0.60, Box: [4]float64{200, 200, 220, 220}},
	}}
	for i := 0; i < 10; i++ {
		d.dets = append(d.dets, types.RawDetection{ClassIndex: 1, Confidence: 0.5, Box: [4]float64{float64(i * 20), 300, float64(i*20 + 15), 320}})
	}
	m := metrics.New()

	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	report, err := newAnalyzer(t, d, m).Analyze(frame, Params{Confidence: 0.25, IoU: 0.45})
	require.NoError(t, err)

	assert.Equal(t, traffic.Counts{Bus: 2, Car: 10, Van: 1, Total: 13, Unknown: 1}, report.Counts)
	assert.Len(t, report.Detections, 13)
	assert.Equal(t, 36.0, report.Congestion.Index)
	assert.Equal(t, traffic.LightlyCongested, report.Congestion.Level)
	assert.Equal(t, 640, report.Width)
	assert.Equal(t, 480, report.Height)
	assert.False(t, bytes.Equal(frame.Pix, report.Annotated.Pix))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Detections.WithLabelValues("bus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnknownClasses))
}

func TestAnalyzeDetectorFailure(t *testing.T) {
	boom := errors.New("model crashed")
	_, err := newAnalyzer(t, &stubDetector{err: boom}, nil).Analyze(image.NewRGBA(image.Rect(0, 0, 4, 4)), DefaultParams())
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeZeroAreaFrame(t *testing.T) {
	d := &stubDetector{dets: []types.RawDetection{{ClassIndex: 0, Confidence: 0.9, Box: [4]float64{0, 0, 10, 10}}}}
	frame := image.NewRGBA(image.Rect(0, 0, 640, 0))

	report, err := newAnalyzer(t, d, nil).Analyze(frame, DefaultParams())
	require.NoError(t, err)

	assert.Empty(t, d.params, "detector must not see a zero-area frame")
	assert.Equal(t, traffic.Counts{}, report.Counts)
	assert.Zero(t, report.Density.Score)
	assert.Equal(t, traffic.DensityLow, report.Density.Level)
	assert.Zero(t, report.Ratio.Ratio.Value)
	assert.Equal(t, traffic.Balanced, report.Ratio.Kind)
	assert.Zero(t, report.Congestion.Index)
	assert.Equal(t, traffic.Smooth, report.Congestion.Level)
	assert.Equal(t, frame.Rect, report.Annotated.Rect)
	assert.Equal(t, 640, report.Width)
	assert.Zero(t, report.Height)
}

func TestAnalyzeNilFrame(t *testing.T) {
	_, err := newAnalyzer(t, &stubDetector{}, nil).Analyze(nil, DefaultParams())
	assert.ErrorIs(t, err, errs.ErrInput)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.NoError(t, Params{Confidence: 0, IoU: 1}.Validate())
	assert.ErrorIs(t, Params{Confidence: 1.2, IoU: 0.5}.Validate(), errs.ErrConfig)
	assert.ErrorIs(t, Params{Confidence: 0.4, IoU: -0.1}.Validate(), errs.ErrConfig)
}
