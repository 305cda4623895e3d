package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync/atomic"
)

var (
	ErrExportInProgress = errors.New("export already in progress")
	ErrRasterize        = errors.New("rasterize failed")
	ErrEncode           = errors.New("encode failed")
	ErrNoSource         = errors.New("nothing to export")
)

// Source is a composition that can be captured as a raster.
type Source interface {
	Rasterize(ctx context.Context) (image.Image, error)
	TargetSize() image.Point
	ExportName() string
}

// Sink receives a finished PNG. It is only called with complete data.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
}

type Result struct {
	Name      string      `json:"name"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Bytes     int         `json:"bytes"`
	Native    image.Point `json:"native"`
	Resampled bool        `json:"resampled"`
}

// Exporter turns a Source into a PNG at exactly the source's target size.
// One export runs at a time; overlapping calls fail fast.
type Exporter struct {
	resampler Resampler
	inFlight  atomic.Bool
}

func New() *Exporter {
	return &Exporter{resampler: newResampler()}
}

func NewWithResampler(r Resampler) *Exporter {
	if r == nil {
		r = newResampler()
	}
	return &Exporter{resampler: r}
}

func (e *Exporter) Busy() bool {
	return e.inFlight.Load()
}

func (e *Exporter) Export(ctx context.Context, src Source, sink Sink) (Result, error) {
	if src == nil || sink == nil {
		return Result{}, ErrNoSource
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrExportInProgress
	}
	defer e.inFlight.Store(false)

	data, res, err := e.render(ctx, src)
	if err != nil {
		return Result{}, err
	}
	if err := sink.Write(ctx, res.Name, data); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", res.Name, err)
	}
	return res, nil
}

func (e *Exporter) render(ctx context.Context, src Source) ([]byte, Result, error) {
	img, err := src.Rasterize(ctx)
	if err != nil {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrRasterize, err)
	}
	if img == nil {
		return nil, Result{}, fmt.Errorf("%w: empty raster", ErrRasterize)
	}

	native := img.Bounds().Size()
	target := src.TargetSize()
	if target.X <= 0 || target.Y <= 0 {
		return nil, Result{}, fmt.Errorf("%w: invalid target size %v", ErrRasterize, target)
	}

	resampled := false
	if native != target {
		img, err = e.resampler.Resample(ctx, img, target)
		if err != nil {
			return nil, Result{}, fmt.Errorf("%w: resample %v to %v: %w", ErrRasterize, native, target, err)
		}
		if got := img.Bounds().Size(); got != target {
			return nil, Result{}, fmt.Errorf("%w: resampler produced %v, want %v", ErrRasterize, got, target)
		}
		resampled = true
	}

	if err := ctx.Err(); err != nil {
		return nil, Result{}, err
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	name := strings.TrimSpace(src.ExportName())
	if name == "" {
		name = "export.png"
	}
	return buf.Bytes(), Result{
		Name:      name,
		Width:     target.X,
		Height:    target.Y,
		Bytes:     buf.Len(),
		Native:    native,
		Resampled: resampled,
	}, nil
}

// Resampler scales an image to an exact size.
type Resampler interface {
	Name() string
	Resample(ctx context.Context, img image.Image, size image.Point) (image.Image, error)
}

func (e *Exporter) Resampler() Resampler {
	return e.resampler
}
