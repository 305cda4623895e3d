package gesture

import "github.com/dunamismax/pixelframe/internal/surface"

// Rect is an element's on-screen bounding box in client pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport relates an element's displayed box to the pixel buffer behind it.
// Displayed and buffer sizes differ whenever the element is CSS-scaled.
type Viewport struct {
	Rect   Rect         `json:"rect"`
	Buffer surface.Size `json:"buffer"`
}

func (v Viewport) Valid() bool {
	return v.Rect.Width > 0 && v.Rect.Height > 0 && !v.Buffer.Empty()
}

// ToFrame converts client coordinates into frame pixels.
func (v Viewport) ToFrame(clientX, clientY float64) surface.Point {
	if !v.Valid() {
		return surface.Point{}
	}
	return surface.Point{
		X: (clientX - v.Rect.Left) * v.Buffer.W / v.Rect.Width,
		Y: (clientY - v.Rect.Top) * v.Buffer.H / v.Rect.Height,
	}
}
