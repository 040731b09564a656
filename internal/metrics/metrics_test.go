package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameRead()
		m.FrameSampled()
		m.FrameWritten()
		m.ReadError()
		m.Analyzed(time.Millisecond, map[string]int{"car": 1}, 0, 10)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.FrameRead()
	m.FrameRead()
	m.FrameSampled()
	m.FrameWritten()
	m.Analyzed(20*time.Millisecond, map[string]int{"bus": 2, "car": 10}, 1, 36)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSampled))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Detections.WithLabelValues("car")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnknownClasses))
	assert.Equal(t, 36.0, testutil.ToFloat64(m.CongestionIndex))
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameRead()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "trafficvision_frames_read_total 1"))
}
