package poster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/fogleman/gg"

	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

var frameFill = color.NRGBA{R: 255, G: 255, B: 255, A: 40}

func (c *Compositor) draw(size image.Point) (image.Image, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid raster size %v", size)
	}
	if err := loadFonts(); err != nil {
		return nil, err
	}

	k := float64(size.X) / Width
	l := c.layout
	colors := c.theme.Active()

	dc := gg.NewContext(size.X, size.Y)
	canvas, ok := dc.Image().(draw.Image)
	if !ok {
		return nil, errors.New("raster context is not drawable")
	}

	bg := gg.NewLinearGradient(0, 0, 0, float64(size.Y))
	bg.AddColorStop(0, theme.MustHex(colors.Background1))
	bg.AddColorStop(1, theme.MustHex(colors.Background2))
	dc.SetFillStyle(bg)
	dc.DrawRectangle(0, 0, float64(size.X), float64(size.Y))
	dc.Fill()

	c.drawPhoto(dc, canvas, c.before.surface, l.Before, k)
	c.drawPhoto(dc, canvas, c.after.surface, l.After, k)

	textColor := theme.MustHex(colors.Text)
	centre := Width / 2 * k

	dc.SetColor(textColor)
	drawCentered(dc, c.copy.Headline, true, l.HeadlineSize*k, centre, l.HeadlineY*k)
	drawCentered(dc, c.copy.Subtitle, false, l.SubtitleSize*k, centre, l.SubtitleY*k)
	drawCentered(dc, c.copy.BeforeLabel, true, l.LabelSize*k, midX(l.Before)*k, l.LabelY*k)
	drawCentered(dc, c.copy.AfterLabel, true, l.LabelSize*k, midX(l.After)*k, l.LabelY*k)

	c.drawNamePill(dc, colors, k)
	if c.NoteVisible() {
		c.drawNote(dc, colors, k)
	}

	dc.SetColor(textColor)
	drawCentered(dc, c.copy.Quote, false, l.QuoteSize*k, centre, l.QuoteY*k)
	drawCentered(dc, c.copy.Footer, false, l.FooterSize*k, centre, l.FooterY*k)

	return dc.Image(), nil
}

func (c *Compositor) drawPhoto(dc *gg.Context, canvas draw.Image, s *surface.Surface, r image.Rectangle, k float64) {
	x, y := float64(r.Min.X)*k, float64(r.Min.Y)*k
	w, h := float64(r.Dx())*k, float64(r.Dy())*k

	dc.SetColor(frameFill)
	dc.DrawRoundedRectangle(x, y, w, h, c.layout.FrameRadius*k)
	dc.Fill()

	origin := image.Pt(int(math.Round(x)), int(math.Round(y)))
	frame := image.Rectangle{Min: origin, Max: image.Pt(int(math.Round(x+w)), int(math.Round(y+h)))}
	s.Render(framedRenderer{&surface.CanvasRenderer{
		Dst:    canvas,
		Origin: origin,
		Scale:  k,
		Mask:   roundedMask(frame, c.layout.FrameRadius*k),
	}})
}

// roundedMask covers frame with corners of the given radius, in canvas
// coordinates.
func roundedMask(frame image.Rectangle, radius float64) image.Image {
	dc := gg.NewContext(frame.Dx(), frame.Dy())
	dc.DrawRoundedRectangle(0, 0, float64(frame.Dx()), float64(frame.Dy()), radius)
	dc.SetRGBA(0, 0, 0, 1)
	dc.Fill()
	mask := dc.AsMask()
	mask.Rect = mask.Rect.Add(frame.Min)
	return mask
}

func (c *Compositor) drawNamePill(dc *gg.Context, colors theme.Colors, k float64) {
	l := c.layout
	dc.SetFontFace(face(true, l.NameSize*k))
	tw, _ := dc.MeasureString(c.name)

	w := math.Max(l.NamePillMinW*k, tw+2*l.NamePillPadX*k)
	h := l.NamePillHeight * k
	x := Width/2*k - w/2
	y := l.NamePillY * k

	dc.SetColor(theme.MustHex(colors.NamePillBg))
	dc.DrawRoundedRectangle(x, y, w, h, h/2)
	dc.Fill()

	if c.name == "" {
		return
	}
	dc.SetColor(theme.MustHex(colors.NamePillText))
	dc.DrawStringAnchored(c.name, Width/2*k, y+h/2, 0.5, 0.35)
}

func (c *Compositor) drawNote(dc *gg.Context, colors theme.Colors, k float64) {
	l := c.layout
	box := l.NoteBox
	x, y := float64(box.Min.X)*k, float64(box.Min.Y)*k
	w, h := float64(box.Dx())*k, float64(box.Dy())*k

	dc.SetColor(theme.MustHex(colors.NoteBg))
	dc.DrawRoundedRectangle(x, y, w, h, l.NoteRadius*k)
	dc.Fill()

	dc.DrawRectangle(x, y, w, h)
	dc.Clip()
	dc.SetFontFace(face(false, l.NoteSize*k))
	dc.SetColor(theme.MustHex(colors.NoteText))
	dc.DrawStringWrapped(strings.TrimSpace(c.note), x+w/2, y+h/2, 0.5, 0.5, w-2*l.NotePadding*k, 1.4, gg.AlignCenter)
	dc.ResetClip()
}

func drawCentered(dc *gg.Context, s string, bold bool, size, x, y float64) {
	if strings.TrimSpace(s) == "" {
		return
	}
	dc.SetFontFace(face(bold, size))
	dc.DrawStringAnchored(s, x, y, 0.5, 0.5)
}

func midX(r image.Rectangle) float64 {
	return float64(r.Min.X+r.Max.X) / 2
}

// framedRenderer draws over the poster background; an empty slot leaves the
// frame fill in place instead of clearing it.
type framedRenderer struct {
	*surface.CanvasRenderer
}

func (framedRenderer) Clear(surface.Size) {}
