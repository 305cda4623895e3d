package surface

import (
	"image"
	"math"
)

const (
	MinScale = 0.1
	MaxScale = 10.0

	scaleEpsilon = 1e-12
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

func (s Size) Empty() bool {
	return s.W <= 0 || s.H <= 0
}

// Placement is the serializable geometry of a loaded surface.
type Placement struct {
	Position Point `json:"position"`
	Size     Size  `json:"size"`
	Baseline Size  `json:"baseline"`
}

type Renderer interface {
	Clear(frame Size)
	Draw(bitmap image.Image, pos Point, size Size, frame Size)
}

// Surface is a bitmap placed within a fixed frame. The frame never changes
// after New; Load replaces the bitmap and resets the placement.
type Surface struct {
	frame    Size
	bitmap   image.Image
	pos      Point
	size     Size
	baseline Size
}

func New(frame Size) *Surface {
	return &Surface{frame: frame}
}

func (s *Surface) Frame() Size {
	return s.frame
}

func (s *Surface) Bitmap() image.Image {
	return s.bitmap
}

func (s *Surface) HasBitmap() bool {
	return s.bitmap != nil
}

// Placed reports whether the surface has something to draw.
func (s *Surface) Placed() bool {
	return s.bitmap != nil && !s.size.Empty()
}

func (s *Surface) Load(bitmap image.Image) {
	s.bitmap = bitmap
	s.pos = Point{}
	s.size = Size{}
	s.baseline = Size{}
	if bitmap == nil {
		return
	}

	b := bitmap.Bounds()
	fit, ok := ContainFit(Size{W: float64(b.Dx()), H: float64(b.Dy())}, s.frame)
	if !ok {
		return
	}
	s.baseline = fit
	s.size = fit
	s.pos = Point{X: (s.frame.W - fit.W) / 2, Y: (s.frame.H - fit.H) / 2}
}

// Restore reinstates a previously captured placement for bitmap. The
// baseline is recomputed from the bitmap so it stays tied to the load.
func (s *Surface) Restore(bitmap image.Image, p Placement) {
	s.Load(bitmap)
	if !s.Placed() || p.Size.Empty() {
		return
	}
	s.pos = p.Position
	rel := clamp(p.Size.W/s.baseline.W, MinScale, MaxScale)
	s.size = Size{W: s.baseline.W * rel, H: s.baseline.H * rel}
}

func (s *Surface) Reset() {
	s.Load(nil)
}

func (s *Surface) Placement() Placement {
	return Placement{Position: s.pos, Size: s.size, Baseline: s.baseline}
}

func (s *Surface) RelativeScale() float64 {
	if s.baseline.W <= 0 {
		return 0
	}
	return s.size.W / s.baseline.W
}

func (s *Surface) Contains(p Point) bool {
	if !s.Placed() {
		return false
	}
	return p.X >= s.pos.X && p.X <= s.pos.X+s.size.W &&
		p.Y >= s.pos.Y && p.Y <= s.pos.Y+s.size.H
}

func (s *Surface) PanBy(dx, dy float64) {
	if !s.Placed() {
		return
	}
	s.pos.X += dx
	s.pos.Y += dy
}

// ZoomAtPoint scales the bitmap by factor around anchor, keeping the bitmap
// content under anchor fixed. The relative scale is clamped to
// [MinScale, MaxScale]; it reports false when nothing changed.
func (s *Surface) ZoomAtPoint(anchor Point, factor float64) bool {
	if !s.Placed() || factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return false
	}

	current := s.RelativeScale()
	target := clamp(current*factor, MinScale, MaxScale)
	if math.Abs(target-current) <= scaleEpsilon*target {
		return false
	}
	applied := target / current

	s.pos.X -= (anchor.X - s.pos.X) * (applied - 1)
	s.pos.Y -= (anchor.Y - s.pos.Y) * (applied - 1)
	if target == MinScale || target == MaxScale {
		s.size = Size{W: s.baseline.W * target, H: s.baseline.H * target}
	} else {
		s.size = Size{W: s.size.W * applied, H: s.size.H * applied}
	}
	return true
}

func (s *Surface) Render(r Renderer) {
	if r == nil {
		return
	}
	if !s.Placed() {
		r.Clear(s.frame)
		return
	}
	r.Draw(s.bitmap, s.pos, s.size, s.frame)
}

// ContainFit scales src to fit entirely inside frame with its aspect ratio
// preserved. It reports false for zero-area inputs.
func ContainFit(src, frame Size) (Size, bool) {
	if src.Empty() || frame.Empty() {
		return Size{}, false
	}
	srcAspect := src.W / src.H
	frameAspect := frame.W / frame.H
	if srcAspect > frameAspect {
		return Size{W: frame.W, H: frame.W / srcAspect}, true
	}
	return Size{W: frame.H * srcAspect, H: frame.H}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
