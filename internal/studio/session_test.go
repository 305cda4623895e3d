package studio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/gesture"
	"github.com/dunamismax/pixelframe/internal/pipeline"
	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

func pngBytes(t testing.TB, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T) (*Manager, *MemoryBlobStore) {
	t.Helper()
	blobs := NewMemoryBlobStore()
	return NewManager(Options{Blobs: blobs}), blobs
}

func TestUploadLoadsSlotAndStoresBlob(t *testing.T) {
	m, blobs := newTestManager(t)
	s := m.Create()

	if err := s.Upload(context.Background(), SlotCover, pngBytes(t, 200, 100, color.RGBA{R: 255, A: 255}), "image/png"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	view := s.State()
	if !view.Cover.Photo.Loaded {
		t.Fatal("expected cover photo loaded")
	}
	if view.Cover.Photo.Transform.Height != 540 {
		t.Fatalf("expected contain fit height 540, got %v", view.Cover.Photo.Transform.Height)
	}
	if keys := blobs.Keys(); len(keys) != 1 || keys[0] != "sessions/"+s.ID()+"/cover/1" {
		t.Fatalf("unexpected blobs %v", keys)
	}
	if view.Poster.BeforeSlot.Loaded || view.Poster.AfterSlot.Loaded {
		t.Fatal("expected poster slots untouched")
	}
}

func TestReplacingUploadReleasesPreviousBlob(t *testing.T) {
	m, blobs := newTestManager(t)
	s := m.Create()
	ctx := context.Background()

	if err := s.Upload(ctx, SlotBefore, pngBytes(t, 10, 10, color.RGBA{A: 255}), "image/png"); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := s.Upload(ctx, SlotBefore, pngBytes(t, 20, 10, color.RGBA{A: 255}), "image/png"); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	keys := blobs.Keys()
	if len(keys) != 1 || keys[0] != "sessions/"+s.ID()+"/before/2" {
		t.Fatalf("expected only the latest blob, got %v", keys)
	}
}

func TestDecodeFailureResetsOnlyThatSlot(t *testing.T) {
	m, blobs := newTestManager(t)
	s := m.Create()
	ctx := context.Background()

	if err := s.Upload(ctx, SlotBefore, pngBytes(t, 10, 10, color.RGBA{A: 255}), "image/png"); err != nil {
		t.Fatalf("upload before: %v", err)
	}
	if err := s.Upload(ctx, SlotAfter, pngBytes(t, 10, 10, color.RGBA{A: 255}), "image/png"); err != nil {
		t.Fatalf("upload after: %v", err)
	}

	err := s.Upload(ctx, SlotBefore, []byte("definitely not an image"), "image/png")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	view := s.State()
	if view.Poster.BeforeSlot.Loaded {
		t.Fatal("expected failed slot to be cleared")
	}
	if !view.Poster.AfterSlot.Loaded {
		t.Fatal("expected other slot to keep its photo")
	}
	if keys := blobs.Keys(); len(keys) != 1 {
		t.Fatalf("expected failed slot blob released, got %v", keys)
	}
}

func TestSupersededUploadIsDiscarded(t *testing.T) {
	slow := pngBytes(t, 30, 30, color.RGBA{R: 255, A: 255})
	fast := pngBytes(t, 60, 30, color.RGBA{G: 255, A: 255})

	started := make(chan struct{})
	release := make(chan struct{})
	blobs := NewMemoryBlobStore()
	m := NewManager(Options{
		Blobs: blobs,
		Decode: func(data []byte) (image.Image, error) {
			if bytes.Equal(data, slow) {
				close(started)
				<-release
			}
			return pipeline.Decode(data)
		},
	})
	s := m.Create()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- s.Upload(ctx, SlotCover, slow, "image/png")
	}()
	<-started

	if err := s.Upload(ctx, SlotCover, fast, "image/png"); err != nil {
		t.Fatalf("fast upload: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}

	keys := blobs.Keys()
	if len(keys) != 1 || keys[0] != "sessions/"+s.ID()+"/cover/2" {
		t.Fatalf("expected only the newer blob, got %v", keys)
	}
	if h := s.State().Cover.Photo.Transform.Height; h != 540 {
		t.Fatalf("expected the newer 2:1 photo to be letterboxed, got height %v", h)
	}
}

func TestUploadRejectsOversizedAndUnknownSlot(t *testing.T) {
	m := NewManager(Options{MaxUploadBytes: 8})
	s := m.Create()

	if err := s.Upload(context.Background(), SlotCover, make([]byte, 9), ""); !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("expected ErrUploadTooLarge, got %v", err)
	}
	if err := s.Upload(context.Background(), Slot("side"), []byte{1}, ""); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestHandleGesturesDragsSlot(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Create()
	if err := s.Upload(context.Background(), SlotCover, pngBytes(t, 100, 100, color.RGBA{A: 255}), "image/png"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	vp := gesture.Viewport{
		Rect:   gesture.Rect{Width: 540, Height: 540},
		Buffer: surface.Size{W: cover.Size, H: cover.Size},
	}
	res, err := s.HandleGestures(SlotCover, vp, []gesture.Event{
		{Kind: gesture.PointerDown, ClientX: 100, ClientY: 100},
		{Kind: gesture.PointerMove, ClientX: 110, ClientY: 105},
	})
	if err != nil {
		t.Fatalf("handle gestures: %v", err)
	}
	if !res.Changed || !res.PreventDefault {
		t.Fatalf("expected change with prevent default, got %+v", res)
	}

	view := s.State()
	if view.Cover.Photo.Gesture != "dragging" {
		t.Fatalf("expected dragging, got %s", view.Cover.Photo.Gesture)
	}
	if view.Cover.Photo.Transform.Transform != "translate(20.000px, 10.000px) scale(10.800)" {
		t.Fatalf("unexpected transform %q", view.Cover.Photo.Transform.Transform)
	}

	if _, err := s.HandleGestures(SlotCover, vp, []gesture.Event{{Kind: "tap"}}); err == nil {
		t.Fatal("expected invalid event to be rejected")
	}
}

func TestExportPosterToMemory(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Create()
	name := "Alex"
	s.UpdatePosterText(PosterText{Name: &name})

	var sink export.MemorySink
	res, err := s.Export(context.Background(), domain.KindPoster, &sink)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if sink.Name != "ME-poster.png" || res.Width != 1080 || res.Height != 1350 {
		t.Fatalf("unexpected export %s %dx%d", sink.Name, res.Width, res.Height)
	}

	img, err := png.Decode(bytes.NewReader(sink.Data))
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if img.Bounds().Size() != image.Pt(1080, 1350) {
		t.Fatalf("expected 1080x1350, got %v", img.Bounds().Size())
	}
}

func TestOverlappingExportIsRejected(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Create()

	// hold the session so the first export blocks inside Rasterize.
	s.mu.Lock()
	first := make(chan error, 1)
	go func() {
		var sink export.MemorySink
		_, err := s.Export(context.Background(), domain.KindCover, &sink)
		first <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.exporter.Busy() {
		if time.Now().After(deadline) {
			s.mu.Unlock()
			t.Fatal("first export never started")
		}
		time.Sleep(time.Millisecond)
	}

	var sink export.MemorySink
	_, err := s.Export(context.Background(), domain.KindPoster, &sink)
	s.mu.Unlock()
	if !errors.Is(err, export.ErrExportInProgress) {
		t.Fatalf("expected ErrExportInProgress, got %v", err)
	}
	if sink.Data != nil {
		t.Fatal("expected rejected export to write nothing")
	}
	if err := <-first; err != nil {
		t.Fatalf("first export: %v", err)
	}
}

func TestTemplatesThroughSession(t *testing.T) {
	overlay := pngBytes(t, 20, 20, color.RGBA{B: 255, A: 255})
	src := cover.DirSource{FS: fstest.MapFS{
		"cover.json":    {Data: []byte(`["b.png", "a.png"]`)},
		"profile/a.png": {Data: overlay},
		"profile/b.png": {Data: overlay},
	}, Root: "mem"}

	m := NewManager(Options{Templates: src})
	s := m.Create()
	names, err := s.LoadTemplates(context.Background())
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if len(names) != 2 || names[0] != "a.png" {
		t.Fatalf("expected sorted templates, got %v", names)
	}
	if err := s.SelectTemplate(context.Background(), "b.png"); err != nil {
		t.Fatalf("select: %v", err)
	}

	view := s.State()
	if view.Cover.Selected != "b.png" || view.Cover.ExportName != "ME-b.png" {
		t.Fatalf("unexpected cover view %+v", view.Cover)
	}
	if err := s.SelectTemplate(context.Background(), "c.png"); !errors.Is(err, cover.ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestUpdateTheme(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Create()

	preset := 3
	st, err := s.UpdateTheme(ThemeUpdate{Preset: &preset})
	if err != nil || st.Preset != 3 {
		t.Fatalf("expected preset 3, got %+v err=%v", st, err)
	}

	custom := theme.Custom
	st, err = s.UpdateTheme(ThemeUpdate{
		Mode:   &custom,
		Colors: map[theme.Field]string{theme.Text: "#123456"},
	})
	if err != nil {
		t.Fatalf("custom update: %v", err)
	}
	if st.Mode != theme.Custom || st.Custom.Text != "#123456" {
		t.Fatalf("unexpected theme state %+v", st)
	}

	_, err = s.UpdateTheme(ThemeUpdate{Colors: map[theme.Field]string{"glow": "#000000"}})
	if !errors.Is(err, theme.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if s.State().Poster.Colors.Text != "#123456" {
		t.Fatal("expected rejected update to leave colors alone")
	}
}

type blobFetcher struct {
	blobs BlobStore
}

func (f blobFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.blobs.ReadObject(ctx, key)
}

type memoryEmitter struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (e *memoryEmitter) Emit(_ context.Context, req pipeline.Request, name string, data []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := req.JobID + "/" + name
	e.data[key] = data
	return key, nil
}

func TestSceneRendersElsewhere(t *testing.T) {
	m, blobs := newTestManager(t)
	s := m.Create()
	ctx := context.Background()

	if err := s.Upload(ctx, SlotAfter, pngBytes(t, 40, 80, color.RGBA{G: 200, A: 255}), "image/png"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	note := "  "
	s.UpdatePosterText(PosterText{Note: &note})

	scene, err := s.Scene(domain.KindPoster)
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	if scene.Poster.Before != nil {
		t.Fatal("expected empty slot to be omitted")
	}
	if scene.Poster.After == nil || scene.Poster.After.Placement == nil {
		t.Fatalf("expected after photo with placement, got %+v", scene.Poster.After)
	}
	if err := scene.Validate(); err != nil {
		t.Fatalf("expected valid scene, got %v", err)
	}

	emitter := &memoryEmitter{data: map[string][]byte{}}
	proc := pipeline.NewProcessor(blobFetcher{blobs: blobs}, emitter, nil, nil)
	out, err := proc.Process(ctx, pipeline.Request{JobID: "job-1", Scene: scene})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Path != "job-1/ME-poster.png" || out.Width != 1080 || out.Height != 1350 {
		t.Fatalf("unexpected output %+v", out)
	}
}
