// Package annotate draws detections onto frames: a corner-marker box per detection
// and a label with class name and confidence.
package annotate

import (
	iface "ObjDetector/interface"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// DefaultPalette avoids pure red so the red label text stays readable.
var DefaultPalette = []color.RGBA{
	{R: 163, G: 81, B: 251, A: 0},
	{R: 255, G: 182, B: 51, A: 0},
	{R: 76, G: 251, B: 18, A: 0},
	{R: 64, G: 222, B: 138, A: 0},
	{R: 26, G: 152, B: 255, A: 0},
	{R: 0, G: 211, B: 232, A: 0},
	{R: 255, G: 255, B: 255, A: 0},
	{R: 209, G: 212, B: 53, A: 0},
}

var Red = color.RGBA{R: 255, G: 0, B: 0, A: 0}

type Annotator struct {
	Palette      []color.RGBA
	TextColor    color.RGBA
	Thickness    int
	CornerLength int
	TextScale    float64
	TextPadding  int
}

func New() *Annotator {
	return &Annotator{
		Palette:      DefaultPalette,
		TextColor:    Red,
		Thickness:    4,
		CornerLength: 15,
		TextScale:    0.5,
		TextPadding:  5,
	}
}

// Label is the text drawn above a detection.
func Label(d iface.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Annotate returns a copy of frame with dets drawn on it. Boxes are clamped to the
// frame; a box with no area inside the frame is skipped. frame and dets are not modified.
// The caller closes the returned Mat, which is empty when err is set.
func (a *Annotator) Annotate(frame gocv.Mat, dets []iface.Detection) (gocv.Mat, error) {
	out := frame.Clone()
	if out.Empty() {
		return out, nil
	}
	bounds := image.Rect(0, 0, out.Cols(), out.Rows())
	for _, d := range dets {
		box := d.Box.Canon().Intersect(bounds)
		if box.Empty() {
			continue
		}
		col := a.color(d.ClassID)
		if err := a.drawCorners(&out, box, col); err != nil {
			_ = out.Close()
			return gocv.NewMat(), fmt.Errorf("draw box: %w", err)
		}
		if err := a.drawLabel(&out, box, bounds, Label(d), col); err != nil {
			_ = out.Close()
			return gocv.NewMat(), fmt.Errorf("draw label: %w", err)
		}
	}
	return out, nil
}

func (a *Annotator) color(classID int) color.RGBA {
	if len(a.Palette) == 0 {
		return DefaultPalette[0]
	}
	if classID < 0 {
		classID = -classID
	}
	return a.Palette[classID%len(a.Palette)]
}

func (a *Annotator) drawCorners(img *gocv.Mat, box image.Rectangle, col color.RGBA) error {
	x0, y0 := box.Min.X, box.Min.Y
	x1, y1 := box.Max.X-1, box.Max.Y-1
	l := min(a.CornerLength, box.Dx()/2, box.Dy()/2)
	if l < 1 {
		l = 1
	}
	segments := [][2]image.Point{
		{{x0, y0}, {x0 + l, y0}}, {{x0, y0}, {x0, y0 + l}},
		{{x1, y0}, {x1 - l, y0}}, {{x1, y0}, {x1, y0 + l}},
		{{x0, y1}, {x0 + l, y1}}, {{x0, y1}, {x0, y1 - l}},
		{{x1, y1}, {x1 - l, y1}}, {{x1, y1}, {x1, y1 - l}},
	}
	for _, s := range segments {
		if err := gocv.Line(img, s[0], s[1], col, a.Thickness); err != nil {
			return err
		}
	}
	return nil
}

// drawLabel puts the label on a filled background just above box, or inside the
// top of box when there is no room above it.
func (a *Annotator) drawLabel(img *gocv.Mat, box, bounds image.Rectangle, text string, bg color.RGBA) error {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, a.TextScale, 1)
	w, h := size.X+2*a.TextPadding, size.Y+2*a.TextPadding

	x, y := box.Min.X, box.Min.Y-h
	if y < bounds.Min.Y {
		y = box.Min.Y
	}
	if x+w > bounds.Max.X {
		x = max(bounds.Min.X, bounds.Max.X-w)
	}
	rect := image.Rect(x, y, x+w, y+h).Intersect(bounds)
	if rect.Empty() {
		return nil
	}
	if err := gocv.Rectangle(img, rect, bg, -1); err != nil {
		return err
	}
	origin := image.Pt(x+a.TextPadding, y+a.TextPadding+size.Y)
	return gocv.PutText(img, text, origin, gocv.FontHersheySimplex, a.TextScale, a.TextColor, 1)
}
