package surface

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strconv"

	xdraw "golang.org/x/image/draw"
)

// CanvasRenderer redraws a surface into a raster. Origin is the frame's
// top-left corner in Dst and Scale converts frame pixels to Dst pixels, so
// the same surface can be drawn at its own resolution or into a larger
// poster raster. Draws are cropped to the frame.
type CanvasRenderer struct {
	Dst    draw.Image
	Origin image.Point
	Scale  float64
	// Mask clips the draw in Dst coordinates; nil draws unclipped.
	Mask         image.Image
	Interpolator xdraw.Interpolator
}

func (r *CanvasRenderer) Clear(frame Size) {
	if r.Dst == nil {
		return
	}
	draw.Draw(r.Dst, r.frameRect(frame), image.Transparent, image.Point{}, draw.Src)
}

func (r *CanvasRenderer) Draw(bitmap image.Image, pos Point, size Size, frame Size) {
	if r.Dst == nil || bitmap == nil || size.Empty() {
		return
	}
	k := r.scale()
	dr := image.Rect(
		r.Origin.X+round(pos.X*k),
		r.Origin.Y+round(pos.Y*k),
		r.Origin.X+round((pos.X+size.W)*k),
		r.Origin.Y+round((pos.Y+size.H)*k),
	)
	clip := r.frameRect(frame)
	if dr.Empty() || clip.Empty() || !dr.Overlaps(clip) {
		return
	}

	interp := r.Interpolator
	if interp == nil {
		interp = xdraw.CatmullRom
	}
	var opts *xdraw.Options
	if r.Mask != nil {
		opts = &xdraw.Options{DstMask: r.Mask, DstMaskP: image.Point{}}
	}
	interp.Scale(clipTo(r.Dst, clip), dr, bitmap, bitmap.Bounds(), draw.Over, opts)
}

func (r *CanvasRenderer) scale() float64 {
	if r.Scale <= 0 {
		return 1
	}
	return r.Scale
}

func (r *CanvasRenderer) frameRect(frame Size) image.Rectangle {
	k := r.scale()
	return image.Rect(
		r.Origin.X,
		r.Origin.Y,
		r.Origin.X+round(frame.W*k),
		r.Origin.Y+round(frame.H*k),
	).Intersect(r.Dst.Bounds())
}

func round(v float64) int {
	const limit = 1 << 30
	v = math.Round(v)
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return int(v)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func clipTo(dst draw.Image, rect image.Rectangle) draw.Image {
	si, ok := dst.(subImager)
	if !ok {
		return dst
	}
	if d, ok := si.SubImage(rect).(draw.Image); ok {
		return d
	}
	return dst
}

// TransformRenderer expresses a placement as a CSS transform for an element
// that shows the bitmap at its natural size with transform-origin "0 0"
// inside an overflow-hidden frame.
type TransformRenderer struct {
	Visible   bool    `json:"visible"`
	Transform string  `json:"transform"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

func (r *TransformRenderer) Clear(Size) {
	*r = TransformRenderer{}
}

func (r *TransformRenderer) Draw(bitmap image.Image, pos Point, size Size, _ Size) {
	b := bitmap.Bounds()
	if b.Dx() == 0 || size.Empty() {
		r.Clear(Size{})
		return
	}
	r.Visible = true
	r.Width = size.W
	r.Height = size.H
	r.Transform = fmt.Sprintf(
		"translate(%spx, %spx) scale(%s)",
		formatFloat(pos.X),
		formatFloat(pos.Y),
		formatFloat(size.W/float64(b.Dx())),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
