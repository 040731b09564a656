package types

// FrameTask represents a single frame sent to the detector worker
type FrameTask struct {
	Index  int
	Width  int
	Height int
	Data   []byte // packed RGB, 3 bytes per pixel
}

// RawDetection is one object as reported by the detector, before class lookup
type RawDetection struct {
	ClassIndex int        `json:"class_index"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
}

// VideoInfo describes a video stream as reported by ffprobe
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	Rate       string // the rate as ffprobe reported it, e.g. "30000/1001"
	FrameCount int    // 0 when unknown
}
