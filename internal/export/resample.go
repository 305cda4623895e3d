package export

import (
	"context"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// DrawResampler scales with an x/image/draw interpolator, CatmullRom by
// default.
type DrawResampler struct {
	Interpolator xdraw.Interpolator
}

func (DrawResampler) Name() string {
	return "xdraw"
}

func (r DrawResampler) Resample(ctx context.Context, img image.Image, size image.Point) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interp := r.Interpolator
	if interp == nil {
		interp = xdraw.CatmullRom
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}
