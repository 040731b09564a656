package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
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

const frameW, frameH = 400, 300

// fakeSource yields n white frames and optionally fails at failAt.
type fakeSource struct {
	n      int
	failAt int
	next   int
	closed int
}

func (s *fakeSource) Info() types.VideoInfo {
	return types.VideoInfo{Width: frameW, Height: frameH, FPS: 10, Rate: "10/1"}
}

func (s *fakeSource) Next() (*image.RGBA, error) {
	if s.failAt > 0 && s.next == s.failAt {
		return nil, errors.New("truncated frame")
	}
	if s.next >= s.n {
		return nil, io.EOF
	}
	s.next++
	frame := image.NewRGBA(image.Rect(0, 0, frameW, frameH))
	for i := range frame.Pix {
		frame.Pix[i] = 255
	}
	return frame, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeSink struct {
	frames   []*image.RGBA
	writeErr error
	closed   int
}

func (s *fakeSink) Write(frame *image.RGBA) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	cp := image.NewRGBA(frame.Rect)
	copy(cp.Pix, frame.Pix)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

type carDetector struct {
	calls int
	err   error
}

func (d *carDetector) Detect(frame *image.RGBA, p analyzer.Params) ([]types.RawDetection, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return []types.RawDetection{{ClassIndex: 1, Confidence: 0.9, Box: [4]float64{200, 180, 260, 240}}}, nil
}

func newPipeline(t *testing.T, d analyzer.Detector, m *metrics.Metrics) *Pipeline {
	log := logs.NewTestingLog(t)
	an := analyzer.New(d, traffic.DefaultPolicy(), annotate.New(annotate.DefaultPalette()), log, m)
	return New(an, log, m)
}

func opts(sampleEvery, maxFrames int) Options {
	return Options{Params: analyzer.DefaultParams(), SampleEvery: sampleEvery, MaxFrames: maxFrames}
}

var white = color.RGBA{255, 255, 255, 255}

func TestRunMaxFrames(t *testing.T) {
	src := &fakeSource{n: 10}
	sink := &fakeSink{}
	d := &carDetector{}

	res, err := newPipeline(t, d, nil).Run(context.Background(), src, sink, opts(1, 5))
	require.NoError(t, err)

	require.Len(t, res.Records, 5)
	for i, r := range res.Records {
		assert.Equal(t, i, r.FrameIndex)
		assert.Equal(t, 1, r.Car)
		assert.Equal(t, 1, r.Total)
	}
	assert.Equal(t, 0.4, res.Records[4].TimeSec)
	assert.Equal(t, 5, res.FramesRead)
	assert.Equal(t, 5, res.FramesSampled)
	assert.Equal(t, 5, d.calls)
	assert.Len(t, sink.frames, 5)
	assert.Equal(t, 5, src.next, "no frame is read past the limit")
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRunCarriesReportForward(t *testing.T) {
	src := &fakeSource{n: 10}
	sink := &fakeSink{}
	d := &carDetector{}
	m := metrics.New()

	var sampled []int
	o := opts(3, 0)
	o.OnFrame = func(index int, s bool) {
		if s {
			sampled = append(sampled, index)
		}
	}

	res, err := newPipeline(t, d, m).Run(context.Background(), src, sink, o)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 3, 6, 9}, sampled)
	require.Len(t, res.Records, 4)
	assert.Equal(t, 6, res.Records[2].FrameIndex)
	assert.Equal(t, 4, d.calls)
	require.Len(t, sink.frames, 10)

	for i, f := range sink.frames {
		assert.NotEqual(t, white, f.RGBAAt(20, 20), "frame %d is missing the HUD", i)
		onBox := f.RGBAAt(200, 210)
		if i%3 == 0 {
			assert.NotEqual(t, white, onBox, "sampled frame %d is missing its box", i)
		} else {
			assert.Equal(t, white, onBox, "carried frame %d has a stale box", i)
		}
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(m.FramesRead))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FramesSampled))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.FramesWritten))
}

func TestRunStopsAtReadError(t *testing.T) {
	src := &fakeSource{n: 10, failAt: 4}
	sink := &fakeSink{}
	m := metrics.New()

	res, err := newPipeline(t, &carDetector{}, m).Run(context.Background(), src, sink, opts(2, 0))
	require.NoError(t, err)

	assert.Equal(t, 4, res.FramesRead)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Records[1].FrameIndex)
	assert.Len(t, sink.frames, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadErrors))
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRunEmptySource(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}

	res, err := newPipeline(t, &carDetector{}, nil).Run(context.Background(), src, sink, opts(1, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.FramesRead)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRunDetectorFailure(t *testing.T) {
	src := &fakeSource{n: 10}
	sink := &fakeSink{}
	d := &carDetector{err: errors.New("cuda out of memory")}

	_, err := newPipeline(t, d, nil).Run(context.Background(), src, sink, opts(1, 0))
	require.Error(t, err)
	assert.ErrorContains(t, err, "cuda out of memory")
	assert.ErrorContains(t, err, "frame 0")
	assert.Empty(t, sink.frames)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRunWriteFailure(t *testing.T) {
	src := &fakeSource{n: 10}
	sink := &fakeSink{writeErr: errors.New("broken pipe")}

	_, err := newPipeline(t, &carDetector{}, nil).Run(context.Background(), src, sink, opts(1, 0))
	assert.ErrorContains(t, err, "broken pipe")
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{n: 10}
	sink := &fakeSink{}

	_, err := newPipeline(t, &carDetector{}, nil).Run(ctx, src, sink, opts(1, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.next)
	assert.Equal(t, 1, sink.closed)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		o    Options
	}{
		{"zero sampling", opts(0, 0)},
		{"negative max frames", opts(1, -1)},
		{"bad confidence", Options{Params: analyzer.Params{Confidence: 1.5, IoU: 0.5}, SampleEvery: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.o.Validate(), errs.ErrConfig)
		})
	}
	assert.NoError(t, opts(3, 100).Validate())
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	src := &fakeSource{n: 3}
	sink := &fakeSink{}
	_, err := newPipeline(t, &carDetector{}, nil).Run(context.Background(), src, sink, opts(0, 0))
	assert.ErrorIs(t, err, errs.ErrConfig)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, sink.closed)
}
