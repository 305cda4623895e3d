package cover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/dunamismax/pixelframe/internal/gesture"
	"github.com/dunamismax/pixelframe/internal/surface"
)

const Size = 1080

type Variant string

const (
	Overlay Variant = "overlay"
	Circle  Variant = "circle"
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", Overlay:
		return Overlay, nil
	case Circle:
		return Circle, nil
	default:
		return "", fmt.Errorf("unknown cover variant %q", s)
	}
}

var (
	ErrManifest        = errors.New("template manifest unavailable")
	ErrUnknownTemplate = errors.New("template not in manifest")
	ErrTemplateLoad    = errors.New("template could not be loaded")
)

// Compositor renders one photo surface under the selected overlay template,
// or clipped to a circle in the Circle variant, onto a Size×Size frame.
type Compositor struct {
	variant Variant
	source  TemplateSource
	cache   *TemplateCache

	photo  *surface.Surface
	router *gesture.Router

	templates []string
	selected  string
	overlay   image.Image
}

func New(variant Variant, source TemplateSource, cache *TemplateCache) *Compositor {
	if variant == "" {
		variant = Overlay
	}
	if cache == nil {
		cache = NewTemplateCache()
	}
	photo := surface.New(surface.Size{W: Size, H: Size})
	return &Compositor{
		variant: variant,
		source:  source,
		cache:   cache,
		photo:   photo,
		router:  gesture.NewRouter(photo, gesture.Viewport{}),
	}
}

func (c *Compositor) Variant() Variant {
	return c.variant
}

func (c *Compositor) Photo() *surface.Surface {
	return c.photo
}

func (c *Compositor) Router() *gesture.Router {
	return c.router
}

func (c *Compositor) Selected() string {
	return c.selected
}

func (c *Compositor) HasOverlay() bool {
	return c.overlay != nil
}

func (c *Compositor) Cache() *TemplateCache {
	return c.cache
}

func (c *Compositor) Source() TemplateSource {
	return c.source
}

func (c *Compositor) FrameSize() surface.Size {
	return c.photo.Frame()
}

func (c *Compositor) Templates() []string {
	return append([]string(nil), c.templates...)
}

// SetPhoto replaces the photo and ends any gesture in progress.
func (c *Compositor) SetPhoto(bitmap image.Image) {
	c.photo.Load(bitmap)
	c.router.Reset()
}

// LoadManifest refreshes the template list. On failure the list is emptied
// and the error wraps ErrManifest; the compositor stays usable. An Overlay
// compositor whose selection is missing from a non-empty list selects the
// first template.
func (c *Compositor) LoadManifest(ctx context.Context) ([]string, error) {
	names, err := c.RefreshTemplates(ctx)
	if err != nil {
		return names, err
	}
	if c.variant == Overlay && len(names) > 0 && c.selected == "" {
		if err := c.Select(ctx, names[0]); err != nil {
			return names, err
		}
	}
	return names, nil
}

// RefreshTemplates is LoadManifest without the automatic selection. No
// overlay is read.
func (c *Compositor) RefreshTemplates(ctx context.Context) ([]string, error) {
	if c.source == nil {
		c.setTemplates(nil)
		return nil, fmt.Errorf("%w: no template source", ErrManifest)
	}

	raw, err := c.source.ReadManifest(ctx)
	if err != nil {
		c.setTemplates(nil)
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	names, err := ParseManifest(raw)
	if err != nil {
		c.setTemplates(nil)
		return nil, err
	}
	c.setTemplates(names)
	return c.Templates(), nil
}

// setTemplates replaces the list and drops a selection it no longer holds.
func (c *Compositor) setTemplates(names []string) {
	c.templates = names
	if !c.has(c.selected) {
		c.selected = ""
		c.overlay = nil
	}
}

// ParseManifest decodes a JSON array of template file names, drops entries
// that are not valid relative paths and returns the rest sorted.
func ParseManifest(raw []byte) ([]string, error) {
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON array of file names: %w", ErrManifest, err)
	}

	seen := make(map[string]struct{}, len(entries))
	names := make([]string, 0, len(entries))
	for _, name := range entries {
		name = strings.TrimSpace(name)
		if name == "" || !fs.ValidPath(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Compositor) has(name string) bool {
	if name == "" {
		return false
	}
	for _, t := range c.templates {
		if t == name {
			return true
		}
	}
	return false
}

// Select makes name the active overlay. Reselecting the current template
// does not reload it.
func (c *Compositor) Select(ctx context.Context, name string) error {
	if !c.has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	if name == c.selected && c.overlay != nil {
		return nil
	}
	img, err := c.cache.Load(ctx, c.source, name)
	if err != nil {
		return err
	}
	c.selected = name
	c.overlay = img
	return nil
}

func (c *Compositor) ExportName() string {
	if c.selected == "" {
		return "ME-profile-image.png"
	}
	base := path.Base(c.selected)
	base = strings.TrimSuffix(base, path.Ext(base))
	return "ME-" + base + ".png"
}

func (c *Compositor) Bounds() image.Rectangle {
	return image.Rect(0, 0, Size, Size)
}

func (c *Compositor) TargetSize() image.Point {
	return image.Pt(Size, Size)
}

// Rasterize composes the cover at its native Size×Size resolution.
func (c *Compositor) Rasterize(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(c.Bounds())
	c.Draw(dst, image.Point{}, 1)
	return dst, nil
}

// Draw composes the cover into dst with its top-left corner at origin,
// scaled by scale.
func (c *Compositor) Draw(dst draw.Image, origin image.Point, scale float64) {
	if scale <= 0 {
		scale = 1
	}
	side := int(float64(Size)*scale + 0.5)
	frame := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(side, side))}

	r := &surface.CanvasRenderer{Dst: dst, Origin: origin, Scale: scale}
	if c.variant == Circle {
		r.Mask = circleMask(frame)
		c.photo.Render(r)
		return
	}

	c.photo.Render(r)
	if c.overlay != nil {
		xdraw.CatmullRom.Scale(dst, frame, c.overlay, c.overlay.Bounds(), draw.Over, nil)
	}
}

func circleMask(frame image.Rectangle) image.Image {
	w, h := frame.Dx(), frame.Dy()
	dc := gg.NewContext(w, h)
	dc.DrawCircle(float64(w)/2, float64(h)/2, float64(w)/2)
	dc.SetRGBA(0, 0, 0, 1)
	dc.Fill()
	mask := dc.AsMask()
	mask.Rect = mask.Rect.Add(frame.Min)
	return mask
}
