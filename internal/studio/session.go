package studio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/gesture"
	"github.com/dunamismax/pixelframe/internal/poster"
	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

var (
	ErrDecode         = errors.New("photo could not be decoded")
	ErrSuperseded     = errors.New("upload superseded by a newer one")
	ErrUnknownSlot    = errors.New("unknown slot")
	ErrUploadTooLarge = errors.New("upload too large")
	ErrSessionClosed  = errors.New("session closed")
)

type Slot string

const (
	SlotCover  Slot = "cover"
	SlotBefore Slot = "before"
	SlotAfter  Slot = "after"
)

var slots = []Slot{SlotCover, SlotBefore, SlotAfter}

func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotCover:
		return SlotCover, nil
	case SlotBefore:
		return SlotBefore, nil
	case SlotAfter:
		return SlotAfter, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
	}
}

type slotState struct {
	gen         uint64
	blobKey     string
	contentType string
}

// Session is one editing context: a cover and a poster document with their
// photo slots. Every method is safe for concurrent use; mutations are
// serialized by the session mutex.
type Session struct {
	id   string
	opts *Options

	mu       sync.Mutex
	cover    *cover.Compositor
	poster   *poster.Compositor
	slots    map[Slot]*slotState
	closed   bool

	// lastSeen is unix nanoseconds, readable without the session mutex so the
	// idle sweep never waits on a running export.
	lastSeen atomic.Int64

	exporter *export.Exporter
}

func newSession(id string, opts *Options) *Session {
	p := poster.New(theme.NewController())
	p.SetDisplay(opts.PosterDisplayWidth, opts.PosterRasterScale)

	s := &Session{
		id:       id,
		opts:     opts,
		cover:    cover.New(opts.Variant, opts.Templates, opts.Cache),
		poster:   p,
		slots:    make(map[Slot]*slotState, len(slots)),
		exporter: export.New(),
	}
	s.touch()
	for _, name := range slots {
		s.slots[name] = &slotState{}
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(s.opts.Now().UnixNano())
}

func (s *Session) target(slot Slot) (*surface.Surface, *gesture.Router) {
	switch slot {
	case SlotCover:
		return s.cover.Photo(), s.cover.Router()
	case SlotBefore:
		return s.poster.Surface(poster.Before), s.poster.Router(poster.Before)
	case SlotAfter:
		return s.poster.Surface(poster.After), s.poster.Router(poster.After)
	default:
		return nil, nil
	}
}

func (s *Session) setPhoto(slot Slot, img image.Image) {
	switch slot {
	case SlotCover:
		s.cover.SetPhoto(img)
	case SlotBefore:
		s.poster.SetPhoto(poster.Before, img)
	case SlotAfter:
		s.poster.SetPhoto(poster.After, img)
	}
}

func (s *Session) blobKey(slot Slot, gen uint64) string {
	return path.Join("sessions", s.id, string(slot), strconv.FormatUint(gen, 10))
}

// Upload decodes data into slot and keeps the bytes in the blob store. A
// newer upload to the same slot wins; the older call gets ErrSuperseded. A
// decode failure clears the slot and leaves the other slots alone.
func (s *Session) Upload(ctx context.Context, slot Slot, data []byte, contentType string) error {
	if _, ok := s.slots[slot]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	if limit := s.opts.MaxUploadBytes; limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrUploadTooLarge, len(data), limit)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	st := s.slots[slot]
	st.gen++
	gen := st.gen
	s.touch()
	s.mu.Unlock()

	img, err := s.opts.Decode(data)
	if err != nil {
		s.mu.Lock()
		var stale string
		if st.gen == gen && !s.closed {
			stale = st.blobKey
			st.blobKey = ""
			st.contentType = ""
			s.setPhoto(slot, nil)
		}
		s.mu.Unlock()
		s.release(ctx, stale)
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	key := s.blobKey(slot, gen)
	if err := s.opts.Blobs.WriteObject(ctx, key, data, contentType); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	s.mu.Lock()
	if s.closed || st.gen != gen {
		s.mu.Unlock()
		s.release(ctx, key)
		return ErrSuperseded
	}
	old := st.blobKey
	st.blobKey = key
	st.contentType = contentType
	s.setPhoto(slot, img)
	s.mu.Unlock()

	s.release(ctx, old)
	return nil
}

// ClearSlot drops the slot's photo and releases its bytes. Uploads still
// decoding for the slot are superseded.
func (s *Session) ClearSlot(ctx context.Context, slot Slot) error {
	st, ok := s.slots[slot]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}

	s.mu.Lock()
	st.gen++
	old := st.blobKey
	st.blobKey = ""
	st.contentType = ""
	s.setPhoto(slot, nil)
	s.touch()
	s.mu.Unlock()

	s.release(ctx, old)
	return nil
}

func (s *Session) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.opts.Blobs.DeleteObject(ctx, key); err != nil {
		s.opts.Logger.Printf("release blob failed session_id=%s key=%s err=%v", s.id, key, err)
	}
}

// HandleGestures feeds a batch of input events to the slot's router.
func (s *Session) HandleGestures(slot Slot, viewport gesture.Viewport, events []gesture.Event) (gesture.Result, error) {
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return gesture.Result{}, fmt.Errorf("event %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	surf, router := s.target(slot)
	if router == nil {
		return gesture.Result{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	s.touch()
	// The slot's frame is the pixel buffer behind the element, whatever the
	// client reports.
	viewport.Buffer = surf.Frame()
	router.SetViewport(viewport)
	return router.HandleAll(events), nil
}

// LoadTemplates refreshes the cover template list. A manifest failure
// leaves an empty list and is returned alongside it.
func (s *Session) LoadTemplates(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.cover.LoadManifest(ctx)
}

func (s *Session) SelectTemplate(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.cover.Select(ctx, name)
}

// PosterText is a partial update of the poster's editable text.
type PosterText struct {
	Name *string      `json:"name,omitempty"`
	Note *string      `json:"note,omitempty"`
	Copy *poster.Copy `json:"copy,omitempty"`
}

func (s *Session) UpdatePosterText(t PosterText) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if t.Name != nil {
		s.poster.SetName(*t.Name)
	}
	if t.Note != nil {
		s.poster.SetNote(*t.Note)
	}
	if t.Copy != nil {
		s.poster.SetCopy(*t.Copy)
	}
}

func (s *Session) SetPosterDisplay(width, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.poster.SetDisplay(width, scale)
}

// ThemeUpdate applies mode, then preset, then colors, stopping at the first
// error.
type ThemeUpdate struct {
	Mode   *theme.Mode            `json:"mode,omitempty"`
	Preset *int                   `json:"preset,omitempty"`
	Colors map[theme.Field]string `json:"colors,omitempty"`
}

func (s *Session) UpdateTheme(u ThemeUpdate) (theme.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	th := s.poster.Theme()
	for f := range u.Colors {
		if _, err := (theme.Colors{}).Get(f); err != nil {
			return th.State(), err
		}
	}
	if u.Mode != nil {
		if err := th.SetMode(*u.Mode); err != nil {
			return th.State(), err
		}
	}
	if u.Preset != nil {
		if err := th.SelectPreset(*u.Preset); err != nil {
			return th.State(), err
		}
	}
	for _, f := range theme.Fields {
		hex, ok := u.Colors[f]
		if !ok {
			continue
		}
		if err := th.SetCustom(f, hex); err != nil {
			return th.State(), err
		}
	}
	return th.State(), nil
}

type PhotoView struct {
	Loaded     bool                      `json:"loaded"`
	Generation uint64                    `json:"generation"`
	Frame      surface.Size              `json:"frame"`
	Transform  surface.TransformRenderer `json:"transform"`
	Scale      float64                   `json:"scale"`
	Gesture    string                    `json:"gesture"`
}

type CoverView struct {
	Variant    cover.Variant `json:"variant"`
	Templates  []string      `json:"templates"`
	Selected   string        `json:"selected,omitempty"`
	HasOverlay bool          `json:"has_overlay"`
	ExportName string        `json:"export_name"`
	Photo      PhotoView     `json:"photo"`
}

type PosterView struct {
	poster.View
	BeforeSlot PhotoView   `json:"before_slot"`
	AfterSlot  PhotoView   `json:"after_slot"`
	ExportName string      `json:"export_name"`
	NativeSize image.Point `json:"native_size"`
}

type View struct {
	ID        string     `json:"id"`
	Cover     CoverView  `json:"cover"`
	Poster    PosterView `json:"poster"`
	Exporting bool       `json:"exporting"`
}

func (s *Session) State() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		ID: s.id,
		Cover: CoverView{
			Variant:    s.cover.Variant(),
			Templates:  s.cover.Templates(),
			Selected:   s.cover.Selected(),
			HasOverlay: s.cover.HasOverlay(),
			ExportName: s.cover.ExportName(),
			Photo:      s.photoView(SlotCover),
		},
		Poster: PosterView{
			View:       s.poster.View(),
			BeforeSlot: s.photoView(SlotBefore),
			AfterSlot:  s.photoView(SlotAfter),
			ExportName: s.poster.ExportName(),
			NativeSize: s.poster.NativeSize(),
		},
		Exporting: s.exporter.Busy(),
	}
}

func (s *Session) photoView(slot Slot) PhotoView {
	surf, router := s.target(slot)
	var tr surface.TransformRenderer
	surf.Render(&tr)
	return PhotoView{
		Loaded:     surf.Placed(),
		Generation: s.slots[slot].gen,
		Frame:      surf.Frame(),
		Transform:  tr,
		Scale:      surf.RelativeScale(),
		Gesture:    router.State().String(),
	}
}

// Export renders kind and hands the PNG to sink. A second export while one
// is running fails with export.ErrExportInProgress.
func (s *Session) Export(ctx context.Context, kind domain.Kind, sink export.Sink) (export.Result, error) {
	src, err := s.source(kind)
	if err != nil {
		return export.Result{}, err
	}
	return s.exporter.Export(ctx, src, sink)
}

func (s *Session) source(kind domain.Kind) (export.Source, error) {
	switch kind {
	case domain.KindCover:
		return lockedSource{mu: &s.mu, src: s.cover}, nil
	case domain.KindPoster:
		return lockedSource{mu: &s.mu, src: s.poster}, nil
	default:
		return nil, fmt.Errorf("unsupported kind: %q", kind)
	}
}

// lockedSource holds the session mutex for each call so gestures can't
// mutate a document mid-render.
type lockedSource struct {
	mu  *sync.Mutex
	src export.Source
}

func (l lockedSource) Rasterize(ctx context.Context) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Rasterize(ctx)
}

func (l lockedSource) TargetSize() image.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.TargetSize()
}

func (l lockedSource) ExportName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.ExportName()
}

// Scene snapshots kind for rendering elsewhere. Photos reference the
// session's blobs, so the snapshot stays valid only while those slots are
// not replaced.
func (s *Session) Scene(kind domain.Kind) (domain.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case domain.KindCover:
		return domain.Scene{
			Kind: domain.KindCover,
			Cover: &domain.CoverScene{
				Variant:  string(s.cover.Variant()),
				Template: s.cover.Selected(),
				Photo:    s.scenePhoto(SlotCover),
			},
		}, nil
	case domain.KindPoster:
		width, scale := s.poster.Display()
		cp := s.poster.Copy()
		return domain.Scene{
			Kind: domain.KindPoster,
			Poster: &domain.PosterScene{
				Before:       s.scenePhoto(SlotBefore),
				After:        s.scenePhoto(SlotAfter),
				Name:         s.poster.Name(),
				Note:         s.poster.Note(),
				Copy:         &cp,
				Theme:        s.poster.Theme().State(),
				DisplayWidth: width,
				RasterScale:  scale,
			},
		}, nil
	default:
		return domain.Scene{}, fmt.Errorf("unsupported kind: %q", kind)
	}
}

func (s *Session) scenePhoto(slot Slot) *domain.Photo {
	st := s.slots[slot]
	surf, _ := s.target(slot)
	if st.blobKey == "" || !surf.Placed() {
		return nil
	}
	p := surf.Placement()
	return &domain.Photo{ObjectKey: st.blobKey, ContentType: st.contentType, Placement: &p}
}

// Close releases every blob the session holds. Later uploads fail with
// ErrSessionClosed.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var keys []string
	for _, name := range slots {
		st := s.slots[name]
		st.gen++
		if st.blobKey != "" {
			keys = append(keys, st.blobKey)
		}
		st.blobKey = ""
		s.setPhoto(name, nil)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.release(ctx, key)
	}
	if remover, ok := s.opts.Blobs.(prefixRemover); ok {
		prefix := path.Join("sessions", s.id) + "/"
		if n, err := remover.RemovePrefix(ctx, prefix); err != nil {
			s.opts.Logger.Printf("session blob sweep failed session_id=%s err=%v", s.id, err)
		} else if n > 0 {
			s.opts.Logger.Printf("removed orphaned blobs session_id=%s count=%d", s.id, n)
		}
	}
}
