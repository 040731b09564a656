// Package annotate draws detection boxes and the video HUD onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/inconsolata"
)

// Palette maps each vehicle class to its box color.
type Palette struct {
	colors   map[traffic.Class]color.RGBA
	fallback color.RGBA
}

func DefaultPalette() Palette {
	return Palette{
		colors: map[traffic.Class]color.RGBA{
			traffic.Bus: {R: 0xFF, G: 0x57, B: 0x22, A: 0xFF},
			traffic.Car: {R: 0x21, G: 0x96, B: 0xF3, A: 0xFF},
			traffic.Van: {R: 0x4C, G: 0xAF, B: 0x50, A: 0xFF},
		},
		fallback: color.RGBA{R: 200, G: 200, B: 200, A: 0xFF},
	}
}

func (p Palette) Color(c traffic.Class) color.RGBA {
	if col, ok := p.colors[c]; ok {
		return col
	}
	return p.fallback
}

const (
	boxLineWidth = 2
	labelPadding = 3
)

// HUD panel geometry, in pixels from the top-left corner.
var hudPanel = image.Rect(8, 8, 340, 130)

var (
	hudBackground = color.RGBA{R: 15, G: 15, B: 15, A: 166} // 65% opaque
	hudCounts     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	hudTotal      = color.RGBA{R: 255, G: 230, B: 80, A: 255}
	hudCongestion = color.RGBA{R: 80, G: 255, B: 140, A: 255}
)

type Annotator struct {
	palette   Palette
	labelFace font.Face
	hudFace   font.Face
}

func New(p Palette) *Annotator {
	return &Annotator{
		palette:   p,
		labelFace: basicfont.Face7x13,
		hudFace:   inconsolata.Regular8x16,
	}
}

// Detections returns a copy of frame with a box and label tag per detection.
func (a *Annotator) Detections(frame *image.RGBA, dets []traffic.Detection) *image.RGBA {
	out := clone(frame)
	if len(dets) == 0 {
		return out
	}
	dc := gg.NewContextForRGBA(out)
	a.drawBoxes(dc, dets, true)
	return out
}

// HUD returns a copy of frame with the summary panel for report burned in.
// Boxes are drawn only when withBoxes is set, i.e. when report was computed
// from this very frame.
func (a *Annotator) HUD(frame *image.RGBA, report *traffic.FrameReport, withBoxes bool) *image.RGBA {
	out := clone(frame)
	dc := gg.NewContextForRGBA(out)
	if withBoxes {
		a.drawBoxes(dc, report.Detections, false)
	}

	dc.SetColor(hudBackground)
	dc.DrawRectangle(float64(hudPanel.Min.X), float64(hudPanel.Min.Y), float64(hudPanel.Dx()), float64(hudPanel.Dy()))
	dc.Fill()

	c := report.Counts
	g := report.Congestion
	dc.SetFontFace(a.hudFace)
	lines := []struct {
		text string
		col  color.RGBA
	}{
		{fmt.Sprintf("Bus:%d  Car:%d  Van:%d", c.Bus, c.Car, c.Van), hudCounts},
		{fmt.Sprintf("Total Kendaraan: %d", c.Total), hudTotal},
		{fmt.Sprintf("Kemacetan: %s (%.0f/100)", g.Label, g.Index), hudCongestion},
	}
	for i, l := range lines {
		dc.SetColor(l.col)
		dc.DrawString(l.text, 18, float64(38+30*i))
	}
	return out
}

func (a *Annotator) drawBoxes(dc *gg.Context, dets []traffic.Detection, labels bool) {
	dc.SetLineWidth(boxLineWidth)
	dc.SetFontFace(a.labelFace)
	for _, d := range dets {
		col := a.palette.Color(d.Class)
		x1, y1 := d.Box.X1, d.Box.Y1
		dc.SetColor(col)
		dc.DrawRectangle(x1, y1, d.Box.X2-x1, d.Box.Y2-y1)
		dc.Stroke()
		if !labels {
			continue
		}

		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		tw, th := dc.MeasureString(label)
		tagH := th + 2*labelPadding
		tagY := y1 - tagH
		if tagY < 0 {
			// no room above the box, put the tag inside it
			tagY = y1
		}
		dc.DrawRectangle(x1, tagY, tw+2*labelPadding, tagH)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(label, x1+labelPadding, tagY+tagH-labelPadding)
	}
}

func clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
