package cover

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"testing/fstest"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// frameOverlay is opaque blue along a 100px border and transparent inside.
func frameOverlay(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 108, 108))
	for y := 0; y < 108; y++ {
		for x := 0; x < 108; x++ {
			if x < 10 || y < 10 || x >= 98 || y >= 98 {
				img.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode overlay: %v", err)
	}
	return buf.Bytes()
}

func templateFS(t *testing.T, manifest string) fstest.MapFS {
	overlay := frameOverlay(t)
	return fstest.MapFS{
		"cover.json":            {Data: []byte(manifest)},
		"profile/zebra.png":     {Data: overlay},
		"profile/awareness.png": {Data: overlay},
		"profile/broken.png":    {Data: []byte("not a png")},
	}
}

type countingSource struct {
	TemplateSource
	reads atomic.Int32
}

func (s *countingSource) ReadTemplate(ctx context.Context, name string) ([]byte, error) {
	s.reads.Add(1)
	return s.TemplateSource.ReadTemplate(ctx, name)
}

func TestLoadManifestSortsAndSelectsFirst(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["zebra.png","awareness.png"]`)}, nil)

	names, err := c.LoadManifest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"awareness.png", "zebra.png"}) {
		t.Fatalf("expected sorted names, got %v", names)
	}
	if c.Selected() != "awareness.png" || !c.HasOverlay() {
		t.Fatalf("expected first template auto-selected, got %q", c.Selected())
	}
	if got := c.ExportName(); got != "ME-awareness.png" {
		t.Fatalf("expected ME-awareness.png, got %q", got)
	}
}

func TestLoadManifestKeepsExistingSelection(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["zebra.png","awareness.png"]`)}, nil)
	ctx := context.Background()
	c.LoadManifest(ctx)
	if err := c.Select(ctx, "zebra.png"); err != nil {
		t.Fatalf("select: %v", err)
	}

	c.LoadManifest(ctx)
	if c.Selected() != "zebra.png" {
		t.Fatalf("expected selection kept across reload, got %q", c.Selected())
	}
}

func TestLoadManifestDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{name: "object", manifest: `{"files":["a.png"]}`},
		{name: "garbage", manifest: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Overlay, DirSource{FS: templateFS(t, tt.manifest)}, nil)
			names, err := c.LoadManifest(context.Background())
			if !errors.Is(err, ErrManifest) {
				t.Fatalf("expected ErrManifest, got %v", err)
			}
			if len(names) != 0 || len(c.Templates()) != 0 {
				t.Fatalf("expected empty template list, got %v", names)
			}
			if c.ExportName() != "ME-profile-image.png" {
				t.Fatalf("expected fallback export name, got %q", c.ExportName())
			}

			c.SetPhoto(solid(10, 10, color.RGBA{R: 255, A: 255}))
			if _, err := c.Rasterize(context.Background()); err != nil {
				t.Fatalf("expected compositor usable after manifest failure: %v", err)
			}
		})
	}
}

func TestLoadManifestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(Overlay, HTTPSource{BaseURL: srv.URL}, nil)
	if _, err := c.LoadManifest(context.Background()); !errors.Is(err, ErrManifest) {
		t.Fatalf("expected ErrManifest, got %v", err)
	}
}

func TestParseManifestDropsInvalidEntries(t *testing.T) {
	names, err := ParseManifest([]byte(`["b.png","","../etc/passwd","/abs.png","a.png","b.png"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a.png", "b.png"}) {
		t.Fatalf("expected [a.png b.png], got %v", names)
	}
}

func TestSelectUnknownTemplate(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["awareness.png"]`)}, nil)
	c.LoadManifest(context.Background())

	if err := c.Select(context.Background(), "zebra.png"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
	if c.Selected() != "awareness.png" {
		t.Fatalf("expected selection unchanged, got %q", c.Selected())
	}
}

func TestSelectBrokenTemplateKeepsPrevious(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["awareness.png","broken.png"]`)}, nil)
	c.LoadManifest(context.Background())

	err := c.Select(context.Background(), "broken.png")
	if !errors.Is(err, ErrTemplateLoad) {
		t.Fatalf("expected ErrTemplateLoad, got %v", err)
	}
	if c.Selected() != "awareness.png" || !c.HasOverlay() {
		t.Fatalf("expected previous template kept, got %q", c.Selected())
	}
}

func TestTemplatesCachedByURL(t *testing.T) {
	src := &countingSource{TemplateSource: DirSource{FS: templateFS(t, `["awareness.png","zebra.png"]`)}}
	cache := NewTemplateCache()
	ctx := context.Background()

	a := New(Overlay, src, cache)
	a.LoadManifest(ctx)
	a.Select(ctx, "zebra.png")
	a.Select(ctx, "awareness.png")
	a.Select(ctx, "awareness.png")

	b := New(Overlay, src, cache)
	b.LoadManifest(ctx)

	if got := src.reads.Load(); got != 2 {
		t.Fatalf("expected 2 template reads, got %d", got)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached templates, got %d", cache.Len())
	}
}

func TestPhotoPreservedAcrossTemplateSwitch(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["awareness.png","zebra.png"]`)}, nil)
	ctx := context.Background()
	c.LoadManifest(ctx)
	c.SetPhoto(solid(200, 100, color.RGBA{R: 255, A: 255}))
	c.Photo().PanBy(20, 30)
	before := c.Photo().Placement()

	c.Select(ctx, "zebra.png")
	if c.Photo().Placement() != before {
		t.Fatal("expected photo placement untouched by template switch")
	}
}

func TestRenderOverlayOnTopOfPhoto(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["awareness.png"]`)}, nil)
	c.LoadManifest(context.Background())
	c.SetPhoto(solid(100, 100, color.RGBA{R: 255, A: 255}))

	img, err := c.Rasterize(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, Size, Size) {
		t.Fatalf("expected %dx%d output, got %v", Size, Size, img.Bounds())
	}

	edge := color.RGBAModel.Convert(img.At(20, 540)).(color.RGBA)
	if edge.B < 200 || edge.R > 50 {
		t.Fatalf("expected overlay border on top, got %+v", edge)
	}
	centre := color.RGBAModel.Convert(img.At(540, 540)).(color.RGBA)
	if centre.R < 200 || centre.B > 50 {
		t.Fatalf("expected photo visible through overlay, got %+v", centre)
	}
}

func TestRenderCircleVariantClipsAndSkipsOverlay(t *testing.T) {
	c := New(Circle, DirSource{FS: templateFS(t, `["awareness.png"]`)}, nil)
	c.LoadManifest(context.Background())
	c.SetPhoto(solid(100, 100, color.RGBA{R: 255, A: 255}))

	img, _ := c.Rasterize(context.Background())

	if _, _, _, a := img.At(5, 5).RGBA(); a != 0 {
		t.Fatalf("expected corner outside the circle to be transparent, alpha=%d", a)
	}
	centre := color.RGBAModel.Convert(img.At(540, 540)).(color.RGBA)
	if centre.R < 200 || centre.B != 0 {
		t.Fatalf("expected photo without overlay at centre, got %+v", centre)
	}
	edge := color.RGBAModel.Convert(img.At(20, 540)).(color.RGBA)
	if edge.B != 0 {
		t.Fatalf("expected no overlay in circle variant, got %+v", edge)
	}
}

func TestRenderWithoutPhotoDrawsOverlayOnly(t *testing.T) {
	c := New(Overlay, DirSource{FS: templateFS(t, `["awareness.png"]`)}, nil)
	c.LoadManifest(context.Background())

	img, _ := c.Rasterize(context.Background())
	if _, _, _, a := img.At(540, 540).RGBA(); a != 0 {
		t.Fatalf("expected transparent centre without photo, alpha=%d", a)
	}
}

func TestParseVariant(t *testing.T) {
	if v, err := ParseVariant(""); err != nil || v != Overlay {
		t.Fatalf("expected overlay default, got %q %v", v, err)
	}
	if v, err := ParseVariant("Circle"); err != nil || v != Circle {
		t.Fatalf("expected circle, got %q %v", v, err)
	}
	if _, err := ParseVariant("both"); err == nil {
		t.Fatal("expected unknown variant to fail")
	}
}

func TestHTTPSourceServesTemplates(t *testing.T) {
	overlay := frameOverlay(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/assets/templates/cover.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`["awareness.png"]`))
	})
	mux.HandleFunc("/assets/templates/profile/awareness.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(overlay)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := HTTPSource{BaseURL: srv.URL + "/assets/templates"}
	c := New(Overlay, src, nil)
	if _, err := c.LoadManifest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HasOverlay() {
		t.Fatal("expected overlay loaded over http")
	}
	if got := src.URL("awareness.png"); got != srv.URL+"/assets/templates/profile/awareness.png" {
		t.Fatalf("unexpected template url %q", got)
	}
}

type mapObjects map[string][]byte

func (m mapObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func TestObjectSourceUsesTemplatesPrefix(t *testing.T) {
	objects := mapObjects{
		"templates/cover.json":            []byte(`["awareness.png"]`),
		"templates/profile/awareness.png": frameOverlay(t),
	}
	c := New(Overlay, ObjectSource{Objects: objects, Bucket: "pixelframe"}, nil)
	if _, err := c.LoadManifest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Selected() != "awareness.png" {
		t.Fatalf("expected template selected from object storage, got %q", c.Selected())
	}
}

func TestRefreshTemplatesReadsNoOverlay(t *testing.T) {
	src := &countingSource{TemplateSource: DirSource{FS: templateFS(t, `["zebra.png","awareness.png"]`)}}
	c := New(Overlay, src, nil)
	ctx := context.Background()

	names, err := c.RefreshTemplates(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || c.Selected() != "" {
		t.Fatalf("expected two names and no selection, got %v %q", names, c.Selected())
	}
	if err := c.Select(ctx, "zebra.png"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := src.reads.Load(); got != 1 {
		t.Fatalf("expected only the requested template read, got %d reads", got)
	}
}

func TestLoadManifestCircleDoesNotDecodeOverlay(t *testing.T) {
	src := &countingSource{TemplateSource: DirSource{FS: templateFS(t, `["awareness.png"]`)}}
	c := New(Circle, src, nil)

	names, err := c.LoadManifest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected manifest listed, got %v", names)
	}
	if got := src.reads.Load(); got != 0 {
		t.Fatalf("expected no template reads for circle variant, got %d", got)
	}
	if c.HasOverlay() {
		t.Fatalf("expected no overlay for circle variant")
	}
}
