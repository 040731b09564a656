package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so callers never need to check.
type Metrics struct {
	FramesRead      prometheus.Counter
	FramesSampled   prometheus.Counter
	FramesWritten   prometheus.Counter
	ReadErrors      prometheus.Counter
	Detections      *prometheus.CounterVec
	UnknownClasses  prometheus.Counter
	AnalyzeLatency  prometheus.Histogram
	CongestionIndex prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficvision_frames_read_total",
			Help: "Total frames read from the video source",
		}),
		FramesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficvision_frames_sampled_total",
			Help: "Total frames sent through full analysis",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficvision_frames_written_total",
			Help: "Total frames written to the annotated output",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficvision_read_errors_total",
			Help: "Frame reads that ended the stream early",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficvision_detections_total",
			Help: "Vehicles detected, by class",
		}, []string{"class"}),
		UnknownClasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficvision_unknown_class_detections_total",
			Help: "Detections dropped because their class index is not in the class table",
		}),
		AnalyzeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trafficvision_analyze_seconds",
			Help:    "Time spent analyzing one frame (detector, metrics, annotation)",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		CongestionIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficvision_congestion_index",
			Help: "Congestion index of the most recently analyzed frame",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.FramesRead, m.FramesSampled, m.FramesWritten, m.ReadErrors,
		m.Detections, m.UnknownClasses, m.AnalyzeLatency, m.CongestionIndex,
	)
	return m
}

func (m *Metrics) FrameRead() {
	if m != nil {
		m.FramesRead.Inc()
	}
}

func (m *Metrics) FrameSampled() {
	if m != nil {
		m.FramesSampled.Inc()
	}
}

func (m *Metrics) FrameWritten() {
	if m != nil {
		m.FramesWritten.Inc()
	}
}

func (m *Metrics) ReadError() {
	if m != nil {
		m.ReadErrors.Inc()
	}
}

// Analyzed records the outcome of one frame analysis.
func (m *Metrics) Analyzed(elapsed time.Duration, perClass map[string]int, unknown int, congestion float64) {
	if m == nil {
		return
	}
	m.AnalyzeLatency.Observe(elapsed.Seconds())
	for class, n := range perClass {
		m.Detections.WithLabelValues(class).Add(float64(n))
	}
	m.UnknownClasses.Add(float64(unknown))
	m.CongestionIndex.Set(congestion)
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
