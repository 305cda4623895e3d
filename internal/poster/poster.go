package poster

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/dunamismax/pixelframe/internal/gesture"
	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

const (
	ExportFileName = "ME-poster.png"

	// DefaultRasterScale matches the device scale the poster is captured at.
	DefaultRasterScale = 2.0
)

type Slot string

const (
	Before Slot = "before"
	After  Slot = "after"
)

func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case Before:
		return Before, nil
	case After:
		return After, nil
	default:
		return "", fmt.Errorf("unknown poster slot %q", s)
	}
}

type photo struct {
	surface *surface.Surface
	router  *gesture.Router
}

// Compositor holds the poster document: two photo surfaces, the name and
// note text, the fixed copy and the active theme.
type Compositor struct {
	layout Layout
	copy   Copy
	theme  *theme.Controller

	before photo
	after  photo

	name string
	note string

	displayWidth float64
	rasterScale  float64
}

func New(th *theme.Controller) *Compositor {
	if th == nil {
		th = theme.NewController()
	}
	c := &Compositor{
		layout:       DefaultLayout,
		copy:         DefaultCopy,
		theme:        th,
		displayWidth: Width,
		rasterScale:  DefaultRasterScale,
	}
	c.before = newPhoto(c.layout.Before)
	c.after = newPhoto(c.layout.After)
	return c
}

func newPhoto(r image.Rectangle) photo {
	w, h := frameSize(r)
	s := surface.New(surface.Size{W: w, H: h})
	return photo{surface: s, router: gesture.NewRouter(s, gesture.Viewport{})}
}

func (c *Compositor) slot(s Slot) (photo, bool) {
	switch s {
	case Before:
		return c.before, true
	case After:
		return c.after, true
	default:
		return photo{}, false
	}
}

func (c *Compositor) Surface(s Slot) *surface.Surface {
	p, ok := c.slot(s)
	if !ok {
		return nil
	}
	return p.surface
}

func (c *Compositor) Router(s Slot) *gesture.Router {
	p, ok := c.slot(s)
	if !ok {
		return nil
	}
	return p.router
}

// SetPhoto replaces one slot's photo; the other slot is untouched.
func (c *Compositor) SetPhoto(s Slot, bitmap image.Image) {
	p, ok := c.slot(s)
	if !ok {
		return
	}
	p.surface.Load(bitmap)
	p.router.Reset()
}

func (c *Compositor) Theme() *theme.Controller {
	return c.theme
}

func (c *Compositor) Layout() Layout {
	return c.layout
}

func (c *Compositor) Copy() Copy {
	return c.copy
}

func (c *Compositor) SetCopy(cp Copy) {
	c.copy = cp
}

func (c *Compositor) Name() string {
	return c.name
}

func (c *Compositor) SetName(name string) {
	c.name = name
}

func (c *Compositor) Note() string {
	return c.note
}

func (c *Compositor) SetNote(note string) {
	c.note = note
}

// NoteVisible reports whether the note box is drawn. The name pill is
// always drawn.
func (c *Compositor) NoteVisible() bool {
	return strings.TrimSpace(c.note) != ""
}

// SetDisplay records the width the poster is shown at and the device scale
// it is captured at. Non-positive values keep the current setting.
func (c *Compositor) SetDisplay(width, scale float64) {
	if width > 0 && !math.IsInf(width, 0) {
		c.displayWidth = width
	}
	if scale > 0 && !math.IsInf(scale, 0) {
		c.rasterScale = scale
	}
}

func (c *Compositor) Display() (width, scale float64) {
	return c.displayWidth, c.rasterScale
}

// NativeSize is the raster size a capture at the current display settings
// produces. It only equals the target size when width × scale is Width.
func (c *Compositor) NativeSize() image.Point {
	w := int(math.Round(c.displayWidth * c.rasterScale))
	if w < 1 {
		w = 1
	}
	h := int(math.Round(float64(w) * Height / Width))
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h)
}

func (c *Compositor) TargetSize() image.Point {
	return image.Pt(Width, Height)
}

func (c *Compositor) ExportName() string {
	return ExportFileName
}

// Rasterize captures the poster at its native size.
func (c *Compositor) Rasterize(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.draw(c.NativeSize())
}

// PhotoView is the CSS placement of one photo for a front end that shows
// the poster as a styled document.
type PhotoView struct {
	Frame     surface.Size              `json:"frame"`
	Transform surface.TransformRenderer `json:"transform"`
	Scale     float64                   `json:"relative_scale"`
}

type View struct {
	Before      PhotoView    `json:"before"`
	After       PhotoView    `json:"after"`
	Name        string       `json:"name"`
	Note        string       `json:"note"`
	NoteVisible bool         `json:"note_visible"`
	Copy        Copy         `json:"copy"`
	Theme       theme.State  `json:"theme"`
	Colors      theme.Colors `json:"colors"`
}

func (c *Compositor) View() View {
	return View{
		Before:      photoView(c.before.surface),
		After:       photoView(c.after.surface),
		Name:        c.name,
		Note:        c.note,
		NoteVisible: c.NoteVisible(),
		Copy:        c.copy,
		Theme:       c.theme.State(),
		Colors:      c.theme.Active(),
	}
}

func photoView(s *surface.Surface) PhotoView {
	var tr surface.TransformRenderer
	s.Render(&tr)
	return PhotoView{Frame: s.Frame(), Transform: tr, Scale: s.RelativeScale()}
}
