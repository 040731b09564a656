package traffic

import (
	"image"
	"math"
	"strconv"

	"github.com/andresmejia3/trafficvision/internal/types"
)

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Rect rounds the box to integer pixel bounds.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Detection is one classified vehicle in one frame.
type Detection struct {
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

type Counts struct {
	Bus   int `json:"bus"`
	Car   int `json:"car"`
	Van   int `json:"van"`
	Total int `json:"total"`
	// Unknown counts detections whose class index is not in the class table.
	// They are excluded from Total.
	Unknown int `json:"unknown"`
}

type Density struct {
	Score float64      `json:"score"` // vehicles per 100,000 pixels
	Level DensityLevel `json:"level"`
	Label string       `json:"label"`
	Color string       `json:"color"`
}

// Ratio is large/small. Unbounded is set when there are large vehicles but
// no small ones; Value is then meaningless.
type Ratio struct {
	Value     float64
	Unbounded bool
}

func (r Ratio) String() string {
	if r.Unbounded {
		return "inf"
	}
	return strconv.FormatFloat(r.Value, 'f', 2, 64)
}

// Float returns the ratio with +Inf for the unbounded case.
func (r Ratio) Float() float64 {
	if r.Unbounded {
		return math.Inf(1)
	}
	return r.Value
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Unbounded {
		return []byte(`"inf"`), nil
	}
	return []byte(strconv.FormatFloat(r.Value, 'f', -1, 64)), nil
}

type CompositionKind int

const (
	Balanced CompositionKind = iota
	LargeDominant
	SmallDominant
)

func (k CompositionKind) String() string {
	return [...]string{"Balanced", "LargeDominant", "SmallDominant"}[k]
}

func (k CompositionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Composition struct {
	Large    int             `json:"large"`
	Small    int             `json:"small"`
	Ratio    Ratio           `json:"ratio"`
	PctLarge float64         `json:"pct_large"`
	PctSmall float64         `json:"pct_small"`
	Kind     CompositionKind `json:"composition"`
}

type Congestion struct {
	Index       float64         `json:"index"`
	Level       CongestionLevel `json:"level"`
	Label       string          `json:"label"`
	Color       string          `json:"color"`
	Description string          `json:"description"`
}

// Analytics is everything derived from one frame's counts.
type Analytics struct {
	Counts     Counts      `json:"vehicle_counts"`
	Density    Density     `json:"density"`
	Ratio      Composition `json:"ratio"`
	Congestion Congestion  `json:"congestion"`
}

// Resolve classifies raw detector output. Detections with an unknown class
// index are dropped and returned as a count so callers can report them.
func (p *Policy) Resolve(raw []types.RawDetection) ([]Detection, int) {
	dets := make([]Detection, 0, len(raw))
	unknown := 0
	for _, r := range raw {
		c, ok := p.Classify(r.ClassIndex)
		if !ok {
			unknown++
			continue
		}
		dets = append(dets, Detection{
			Class:      c,
			Confidence: r.Confidence,
			Box:        Box{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]},
		})
	}
	return dets, unknown
}

// Count tallies detections by class.
func Count(dets []Detection) Counts {
	var c Counts
	for _, d := range dets {
		switch d.Class {
		case Bus:
			c.Bus++
		case Car:
			c.Car++
		case Van:
			c.Van++
		}
	}
	c.Total = c.Bus + c.Car + c.Van
	return c
}

// Density normalizes the vehicle total by frame area. A zero-area frame scores 0.
func (p *Policy) Density(total, width, height int) Density {
	area := width * height
	score := 0.0
	if area > 0 {
		score = float64(total) / float64(area) * 100_000
	}
	band := p.densityBand(score)
	return Density{
		Score: round(score, 3),
		Level: band.Level,
		Label: band.Label,
		Color: band.Color,
	}
}

func (p *Policy) Composition(c Counts) Composition {
	large := c.Bus + c.Van
	small := c.Car
	total := c.Total

	comp := Composition{Large: large, Small: small}
	switch {
	case small > 0:
		comp.Ratio = Ratio{Value: round(float64(large)/float64(small), 2)}
	case large > 0:
		comp.Ratio = Ratio{Unbounded: true}
	}
	if total > 0 {
		comp.PctLarge = round(float64(large)/float64(total)*100, 1)
		comp.PctSmall = round(float64(small)/float64(total)*100, 1)
	}
	switch {
	case large > small:
		comp.Kind = LargeDominant
	case small > large:
		comp.Kind = SmallDominant
	default:
		comp.Kind = Balanced
	}
	return comp
}

// Congestion weighs each class by road occupancy. A load of `saturation`
// car-equivalents maps to 100.
func (p *Policy) Congestion(c Counts) Congestion {
	weighted := float64(c.Bus)*p.Weight(Bus) +
		float64(c.Van)*p.Weight(Van) +
		float64(c.Car)*p.Weight(Car)
	index := math.Min(100, weighted/p.saturation*100)
	band := p.congestionBand(index)
	return Congestion{
		Index:       round(index, 1),
		Level:       band.Level,
		Label:       band.Label,
		Color:       band.Color,
		Description: band.Description,
	}
}

// Analyze derives the full analytics bundle for one frame.
func (p *Policy) Analyze(c Counts, width, height int) Analytics {
	return Analytics{
		Counts:     c,
		Density:    p.Density(c.Total, width, height),
		Ratio:      p.Composition(c),
		Congestion: p.Congestion(c),
	}
}
