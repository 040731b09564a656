package traffic

import (
	"fmt"
	"math"
)

// Class is a vehicle category the detector was trained on.
type Class int

const (
	Bus Class = iota
	Car
	Van
)

func (c Class) String() string {
	switch c {
	case Bus:
		return "bus"
	case Car:
		return "car"
	case Van:
		return "van"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Large reports whether the class counts towards the large-vehicle share.
func (c Class) Large() bool {
	return c == Bus || c == Van
}

type DensityLevel int

const (
	DensityLow DensityLevel = iota
	DensityMedium
	DensityHigh
	DensityVeryHigh
)

func (l DensityLevel) String() string {
	return [...]string{"Low", "Medium", "High", "VeryHigh"}[l]
}

func (l DensityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

type CongestionLevel int

const (
	Smooth CongestionLevel = iota
	LightlyCongested
	Congested
	HeavyCongestion
	Gridlock
)

func (l CongestionLevel) String() string {
	return [...]string{"Smooth", "LightlyCongested", "Congested", "HeavyCongestion", "Gridlock"}[l]
}

func (l CongestionLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// DensityBand applies to scores strictly below Below.
type DensityBand struct {
	Below float64
	Level DensityLevel
	Label string
	Color string
}

// CongestionBand applies to indices at or above From, up to the next band.
type CongestionBand struct {
	From        float64
	Level       CongestionLevel
	Label       string
	Color       string
	Description string
}

// Policy holds the lookup tables and constants the metrics are derived from.
// It is built once and shared read-only; the zero value is not usable.
type Policy struct {
	classes    []Class
	weights    map[Class]float64
	saturation float64
	density    []DensityBand
	congestion []CongestionBand
}

// DefaultPolicy returns the class table, weights and bands used by the
// deployed model. Consumers compare outputs against these exact values.
func DefaultPolicy() *Policy {
	return &Policy{
		classes: []Class{Bus, Car, Van},
		weights: map[Class]float64{
			Bus: 3.0,
			Van: 2.0,
			Car: 1.0,
		},
		saturation: 50,
		density: []DensityBand{
			{Below: 0.5, Level: DensityLow, Label: "Rendah", Color: "#22c55e"},
			{Below: 1.5, Level: DensityMedium, Label: "Sedang", Color: "#eab308"},
			{Below: 3.0, Level: DensityHigh, Label: "Tinggi", Color: "#f97316"},
			{Below: math.Inf(1), Level: DensityVeryHigh, Label: "Sangat Tinggi", Color: "#ef4444"},
		},
		congestion: []CongestionBand{
			{From: 0, Level: Smooth, Label: "Lancar", Color: "#22c55e", Description: "Lalu lintas lancar, tidak ada hambatan"},
			{From: 20, Level: LightlyCongested, Label: "Ramai Lancar", Color: "#eab308", Description: "Ramai namun masih mengalir"},
			{From: 40, Level: Congested, Label: "Padat", Color: "#f97316", Description: "Mulai ada perlambatan signifikan"},
			{From: 60, Level: HeavyCongestion, Label: "Macet", Color: "#ef4444", Description: "Kemacetan parah, kecepatan sangat rendah"},
			{From: 80, Level: Gridlock, Label: "Macet Total", Color: "#7f1d1d", Description: "Hampir tidak bergerak"},
		},
	}
}

// Classify maps a detector class index to a Class.
func (p *Policy) Classify(index int) (Class, bool) {
	if index < 0 || index >= len(p.classes) {
		return 0, false
	}
	return p.classes[index], true
}

// Weight is the road-capacity weight of one vehicle of class c.
func (p *Policy) Weight(c Class) float64 {
	return p.weights[c]
}

func (p *Policy) densityBand(score float64) DensityBand {
	for _, b := range p.density {
		if score < b.Below {
			return b
		}
	}
	return p.density[len(p.density)-1]
}

func (p *Policy) congestionBand(index float64) CongestionBand {
	band := p.congestion[0]
	for _, b := range p.congestion {
		if index >= b.From {
			band = b
		}
	}
	return band
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
