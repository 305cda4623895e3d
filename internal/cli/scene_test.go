package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/theme"
)

const posterScene = `
kind = "poster"

[poster]
name = "Alex"
note = "Week 12"
display_width = 720
raster_scale = 3

[poster.before]
file = "photos/before.jpg"
zoom = 1.5

[poster.after]
file = "/abs/after.png"
pan_x = 12

[poster.theme]
mode = "custom"

[poster.theme.custom]
background1 = "#101820"
background2 = "#203040"
text = "#ffffff"
note_bg = "#000000"
note_text = "#ffffff"
name_pill_bg = "#ffcc00"
name_pill_text = "#000000"
`

func TestParseSceneResolvesPhotosAgainstSceneDir(t *testing.T) {
	scene, err := parseScene([]byte(posterScene), "/scenes")
	if err != nil {
		t.Fatalf("parse scene: %v", err)
	}
	if scene.Kind != domain.KindPoster {
		t.Fatalf("expected poster kind, got %s", scene.Kind)
	}
	p := scene.Poster
	if p.Name != "Alex" || p.Note != "Week 12" || p.RasterScale != 3 {
		t.Fatalf("unexpected poster fields %+v", p)
	}
	if want := filepath.Join("/scenes", "photos/before.jpg"); p.Before.ObjectKey != want {
		t.Fatalf("expected before path %s, got %s", want, p.Before.ObjectKey)
	}
	if p.Before.Zoom != 1.5 {
		t.Fatalf("expected zoom 1.5, got %v", p.Before.Zoom)
	}
	if p.After.ObjectKey != "/abs/after.png" || p.After.PanX != 12 {
		t.Fatalf("expected absolute after path untouched, got %+v", p.After)
	}
	if p.Theme.Mode != theme.Custom || p.Theme.Custom.NamePillBg != "#ffcc00" {
		t.Fatalf("unexpected theme %+v", p.Theme)
	}
}

func TestParseSceneCover(t *testing.T) {
	scene, err := parseScene([]byte(`
kind = "Cover"

[cover]
variant = "circle"

[cover.photo]
file = "me.png"
`), "dir")
	if err != nil {
		t.Fatalf("parse scene: %v", err)
	}
	if scene.Kind != domain.KindCover || scene.Cover.Variant != "circle" {
		t.Fatalf("unexpected scene %+v", scene)
	}
	if scene.Cover.Photo.ObjectKey != filepath.Join("dir", "me.png") {
		t.Fatalf("unexpected photo path %s", scene.Cover.Photo.ObjectKey)
	}
}

func TestParseSceneRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "unknown key", data: "kind = \"poster\"\ncolour = \"red\"\n[poster]\n", want: "unknown scene keys: colour"},
		{name: "unknown kind", data: `kind = "banner"`, want: "unsupported kind"},
		{name: "missing body", data: `kind = "cover"`, want: "cover scene is required"},
		{name: "bad variant", data: "kind = \"cover\"\n[cover]\nvariant = \"square\"\n", want: "unknown cover variant"},
		{name: "syntax", data: `kind = `, want: "parse scene"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScene([]byte(tt.data), ".")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
