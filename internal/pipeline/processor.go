package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/poster"
	"github.com/dunamismax/pixelframe/internal/storage"
	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

var (
	ErrInvalidScene = errors.New("invalid scene")
	// ErrPhotoMissing means a scene names a photo that no longer exists,
	// usually because its session replaced or released it.
	ErrPhotoMissing = errors.New("photo missing")
)

// Permanent reports whether retrying the same request cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidScene) ||
		errors.Is(err, ErrPhotoMissing) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, cover.ErrUnknownTemplate)
}

type Request struct {
	JobID string
	Scene domain.Scene
}

type Output struct {
	Name      string
	Path      string
	Bytes     int
	Width     int
	Height    int
	Native    image.Point
	Resampled bool
	Duration  time.Duration
}

func (o Output) Stats() *domain.ExportStats {
	return &domain.ExportStats{
		Width:         o.Width,
		Height:        o.Height,
		NativeWidth:   o.Native.X,
		NativeHeight:  o.Native.Y,
		Bytes:         int64(o.Bytes),
		Resampled:     o.Resampled,
		ComputeTimeMS: o.Duration.Milliseconds(),
	}
}

// Fetcher reads the bytes of a photo referenced by a scene.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Emitter stores a finished export and returns where it went.
type Emitter interface {
	Emit(ctx context.Context, req Request, name string, data []byte) (string, error)
}

type Processor struct {
	fetcher   Fetcher
	emitter   Emitter
	templates cover.TemplateSource
	cache     *cover.TemplateCache
	exporter  *export.Exporter
}

func NewProcessor(fetcher Fetcher, emitter Emitter, templates cover.TemplateSource, cache *cover.TemplateCache) *Processor {
	if cache == nil {
		cache = cover.NewTemplateCache()
	}
	return &Processor{
		fetcher:   fetcher,
		emitter:   emitter,
		templates: templates,
		cache:     cache,
		exporter:  export.New(),
	}
}

func NewLocalProcessor(templateDir, outputDir string) *Processor {
	var templates cover.TemplateSource
	if strings.TrimSpace(templateDir) != "" {
		templates = cover.DirSource{FS: os.DirFS(templateDir), Root: templateDir}
	}
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, templates, nil)
}

// Process renders the request's scene and hands the PNG to the emitter.
// Processors are not meant to be shared by concurrent callers; the worker
// gives each slot its own.
func (p *Processor) Process(ctx context.Context, req Request) (Output, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Output{}, errors.New("job_id is required")
	}
	if err := req.Scene.Validate(); err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrInvalidScene, err)
	}

	started := time.Now()
	src, err := p.Compose(ctx, req.Scene)
	if err != nil {
		return Output{}, fmt.Errorf("compose stage: %w", err)
	}

	sink := &emitSink{emitter: p.emitter, req: req}
	res, err := p.exporter.Export(ctx, src, sink)
	if err != nil {
		return Output{}, fmt.Errorf("export stage: %w", err)
	}

	return Output{
		Name:      res.Name,
		Path:      sink.path,
		Bytes:     res.Bytes,
		Width:     res.Width,
		Height:    res.Height,
		Native:    res.Native,
		Resampled: res.Resampled,
		Duration:  time.Since(started),
	}, nil
}

type emitSink struct {
	emitter Emitter
	req     Request
	path    string
}

func (s *emitSink) Write(ctx context.Context, name string, data []byte) error {
	if s.emitter == nil {
		return errors.New("emitter is required")
	}
	path, err := s.emitter.Emit(ctx, s.req, name, data)
	if err != nil {
		return err
	}
	s.path = path
	return nil
}

// Compose rebuilds a compositor from a scene, ready to export.
func (p *Processor) Compose(ctx context.Context, scene domain.Scene) (export.Source, error) {
	switch scene.Kind {
	case domain.KindCover:
		return p.composeCover(ctx, scene.Cover)
	case domain.KindPoster:
		return p.composePoster(ctx, scene.Poster)
	default:
		return nil, fmt.Errorf("unsupported kind: %s", scene.Kind)
	}
}

func (p *Processor) composeCover(ctx context.Context, sc *domain.CoverScene) (export.Source, error) {
	variant, err := cover.ParseVariant(sc.Variant)
	if err != nil {
		return nil, err
	}
	c := cover.New(variant, p.templates, p.cache)

	if sc.Template != "" && variant == cover.Overlay {
		if _, err := c.RefreshTemplates(ctx); err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		if err := c.Select(ctx, sc.Template); err != nil {
			return nil, fmt.Errorf("select template: %w", err)
		}
	}

	if sc.Photo != nil {
		img, err := p.fetchBitmap(ctx, sc.Photo.ObjectKey)
		if err != nil {
			return nil, err
		}
		c.SetPhoto(img)
		Place(c.Photo(), img, sc.Photo)
	}
	return c, nil
}

func (p *Processor) composePoster(ctx context.Context, sc *domain.PosterScene) (export.Source, error) {
	th, err := theme.Restore(sc.Theme)
	if err != nil {
		return nil, err
	}
	c := poster.New(th)
	c.SetName(sc.Name)
	c.SetNote(sc.Note)
	if sc.Copy != nil {
		c.SetCopy(*sc.Copy)
	}
	c.SetDisplay(sc.DisplayWidth, sc.RasterScale)

	for _, slot := range []struct {
		name  poster.Slot
		photo *domain.Photo
	}{
		{name: poster.Before, photo: sc.Before},
		{name: poster.After, photo: sc.After},
	} {
		if slot.photo == nil {
			continue
		}
		img, err := p.fetchBitmap(ctx, slot.photo.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("%s photo: %w", slot.name, err)
		}
		c.SetPhoto(slot.name, img)
		Place(c.Surface(slot.name), img, slot.photo)
	}
	return c, nil
}

func (p *Processor) fetchBitmap(ctx context.Context, key string) (image.Image, error) {
	if p.fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	data, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrPhotoMissing, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return img, nil
}

// Place positions a freshly loaded bitmap as described by photo. A stored
// placement is restored as is; otherwise Zoom scales around the frame centre
// and PanX/PanY move the result.
func Place(s *surface.Surface, img image.Image, photo *domain.Photo) {
	if photo == nil {
		return
	}
	if photo.Placement != nil {
		s.Restore(img, *photo.Placement)
		return
	}
	if photo.Zoom > 0 && photo.Zoom != 1 {
		f := s.Frame()
		s.ZoomAtPoint(surface.Point{X: f.W / 2, Y: f.H / 2}, photo.Zoom)
	}
	s.PanBy(photo.PanX, photo.PanY)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(ctx context.Context, req Request, name string, data []byte) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := (export.FileSink{Dir: jobDir}).Write(ctx, name, data); err != nil {
		return "", err
	}
	return filepath.Join(jobDir, filepath.Base(name)), nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
