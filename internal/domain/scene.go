package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/poster"
	"github.com/dunamismax/pixelframe/internal/surface"
	"github.com/dunamismax/pixelframe/internal/theme"
)

type Kind string

const (
	KindCover  Kind = "cover"
	KindPoster Kind = "poster"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCover:
		return KindCover, nil
	case KindPoster:
		return KindPoster, nil
	default:
		return "", fmt.Errorf("unsupported kind: %q", s)
	}
}

// Photo points at an uploaded bitmap and how it is placed in its frame.
// Placement wins over Zoom/PanX/PanY when both are set.
type Photo struct {
	ObjectKey   string             `json:"object_key" toml:"file"`
	ContentType string             `json:"content_type,omitempty" toml:"content_type"`
	Placement   *surface.Placement `json:"placement,omitempty" toml:"-"`
	Zoom        float64            `json:"zoom,omitempty" toml:"zoom"`
	PanX        float64            `json:"pan_x,omitempty" toml:"pan_x"`
	PanY        float64            `json:"pan_y,omitempty" toml:"pan_y"`
}

func (p *Photo) validate(field string) error {
	if p == nil {
		return nil
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return fmt.Errorf("%s.object_key is required", field)
	}
	if p.Zoom < 0 || math.IsNaN(p.Zoom) || math.IsInf(p.Zoom, 0) {
		return fmt.Errorf("%s.zoom must be a positive number", field)
	}
	if p.Placement != nil && p.Placement.Size.Empty() {
		return fmt.Errorf("%s.placement.size must be positive", field)
	}
	return nil
}

type CoverScene struct {
	Variant  string `json:"variant,omitempty" toml:"variant"`
	Template string `json:"template,omitempty" toml:"template"`
	Photo    *Photo `json:"photo,omitempty" toml:"photo"`
}

type PosterScene struct {
	Before       *Photo       `json:"before,omitempty" toml:"before"`
	After        *Photo       `json:"after,omitempty" toml:"after"`
	Name         string       `json:"name" toml:"name"`
	Note         string       `json:"note" toml:"note"`
	Copy         *poster.Copy `json:"copy,omitempty" toml:"copy"`
	Theme        theme.State  `json:"theme" toml:"theme"`
	DisplayWidth float64      `json:"display_width,omitempty" toml:"display_width"`
	RasterScale  float64      `json:"raster_scale,omitempty" toml:"raster_scale"`
}

// Scene is everything needed to render one export away from the session
// that produced it.
type Scene struct {
	Kind   Kind         `json:"kind" toml:"kind"`
	Cover  *CoverScene  `json:"cover,omitempty" toml:"cover"`
	Poster *PosterScene `json:"poster,omitempty" toml:"poster"`
}

func (s Scene) Validate() error {
	switch s.Kind {
	case KindCover:
		if s.Cover == nil {
			return errors.New("cover scene is required for kind=cover")
		}
		if _, err := cover.ParseVariant(s.Cover.Variant); err != nil {
			return err
		}
		return s.Cover.Photo.validate("cover.photo")
	case KindPoster:
		if s.Poster == nil {
			return errors.New("poster scene is required for kind=poster")
		}
		if err := s.Poster.Before.validate("poster.before"); err != nil {
			return err
		}
		if err := s.Poster.After.validate("poster.after"); err != nil {
			return err
		}
		if _, err := theme.Restore(s.Poster.Theme); err != nil {
			return fmt.Errorf("poster.theme: %w", err)
		}
		if s.Poster.DisplayWidth < 0 || s.Poster.RasterScale < 0 {
			return errors.New("poster display_width and raster_scale must not be negative")
		}
		return nil
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unsupported kind: %s", s.Kind)
	}
}

// ObjectKeys lists the photo objects the scene depends on.
func (s Scene) ObjectKeys() []string {
	var keys []string
	add := func(p *Photo) {
		if p != nil && p.ObjectKey != "" {
			keys = append(keys, p.ObjectKey)
		}
	}
	if s.Cover != nil {
		add(s.Cover.Photo)
	}
	if s.Poster != nil {
		add(s.Poster.Before)
		add(s.Poster.After)
	}
	return keys
}
