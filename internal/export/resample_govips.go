//go:build govips && cgo

package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newResampler() Resampler {
	return vipsResampler{}
}

// vipsResampler scales with libvips Lanczos3, non-uniformly when the aspect
// ratio of the raster is off by rounding.
type vipsResampler struct{}

func (vipsResampler) Name() string {
	return "vips"
}

func (vipsResampler) Resample(ctx context.Context, img image.Image, size image.Point) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("stage raster: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load raster: %w", err)
	}
	defer ref.Close()

	if ref.Width() <= 0 || ref.Height() <= 0 {
		return nil, fmt.Errorf("raster has invalid dimensions")
	}
	hscale := float64(size.X) / float64(ref.Width())
	vscale := float64(size.Y) / float64(ref.Height())
	if err := ref.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize raster: %w", err)
	}

	out, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("export raster: %w", err)
	}
	if out.Bounds().Size() != size {
		return DrawResampler{}.Resample(ctx, out, size)
	}
	return out, nil
}
