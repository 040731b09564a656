package traffic

import (
	"image"
	"math"
)

// FrameReport is the result of analyzing one frame. It is owned by the caller.
type FrameReport struct {
	Analytics
	Detections []Detection `json:"detections"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Annotated  *image.RGBA `json:"-"`
}

// VideoFrameRecord is one row of the per-video time series.
type VideoFrameRecord struct {
	FrameIndex      int     `json:"frame_index"`
	TimeSec         float64 `json:"time_sec"`
	Bus             int     `json:"bus"`
	Car             int     `json:"car"`
	Van             int     `json:"van"`
	Total           int     `json:"total"`
	CongestionIndex float64 `json:"congestion_index"`
	CongestionLevel string  `json:"congestion_level"`
}

// NewVideoFrameRecord builds the time-series row for a sampled frame.
func NewVideoFrameRecord(frameIndex int, fps float64, a Analytics) VideoFrameRecord {
	t := 0.0
	if fps > 0 {
		t = round(float64(frameIndex)/fps, 2)
	}
	return VideoFrameRecord{
		FrameIndex:      frameIndex,
		TimeSec:         t,
		Bus:             a.Counts.Bus,
		Car:             a.Counts.Car,
		Van:             a.Counts.Van,
		Total:           a.Counts.Total,
		CongestionIndex: a.Congestion.Index,
		CongestionLevel: a.Congestion.Label,
	}
}

// Summary aggregates a video's time series.
type Summary struct {
	Frames        int
	AvgTotal      float64
	MaxTotal      int
	AvgCongestion float64
	MaxCongestion float64
	DominantLevel string
}

// Summarize returns aggregate statistics. Ties for the dominant level go to
// the lexically smallest label.
func Summarize(records []VideoFrameRecord) Summary {
	s := Summary{DominantLevel: "-"}
	if len(records) == 0 {
		return s
	}

	var sumTotal, sumCong float64
	s.MaxCongestion = math.Inf(-1)
	seen := make(map[string]int)
	for _, r := range records {
		sumTotal += float64(r.Total)
		sumCong += r.CongestionIndex
		if r.Total > s.MaxTotal {
			s.MaxTotal = r.Total
		}
		if r.CongestionIndex > s.MaxCongestion {
			s.MaxCongestion = r.CongestionIndex
		}
		seen[r.CongestionLevel]++
	}
	best := 0
	for level, n := range seen {
		if n > best || (n == best && level < s.DominantLevel) {
			best = n
			s.DominantLevel = level
		}
	}
	s.Frames = len(records)
	s.AvgTotal = sumTotal / float64(len(records))
	s.AvgCongestion = sumCong / float64(len(records))
	return s
}
