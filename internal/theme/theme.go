package theme

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrUnknownField  = errors.New("unknown theme field")
	ErrUnknownMode   = errors.New("unknown theme mode")
	ErrNotCustomMode = errors.New("theme is not in custom mode")
)

type Field string

const (
	Background1  Field = "background1"
	Background2  Field = "background2"
	Text         Field = "text"
	NoteBg       Field = "note_bg"
	NoteText     Field = "note_text"
	NamePillBg   Field = "name_pill_bg"
	NamePillText Field = "name_pill_text"
)

var Fields = []Field{Background1, Background2, Text, NoteBg, NoteText, NamePillBg, NamePillText}

// Colors is the full set of poster colors, each as "#rrggbb".
type Colors struct {
	Background1  string `json:"background1" toml:"background1"`
	Background2  string `json:"background2" toml:"background2"`
	Text         string `json:"text" toml:"text"`
	NoteBg       string `json:"note_bg" toml:"note_bg"`
	NoteText     string `json:"note_text" toml:"note_text"`
	NamePillBg   string `json:"name_pill_bg" toml:"name_pill_bg"`
	NamePillText string `json:"name_pill_text" toml:"name_pill_text"`
}

func (c Colors) Get(f Field) (string, error) {
	p, err := c.ref(f)
	if err != nil {
		return "", err
	}
	return *p, nil
}

func (c Colors) With(f Field, hex string) (Colors, error) {
	if _, err := ParseHex(hex); err != nil {
		return c, err
	}
	p, err := c.ref(f)
	if err != nil {
		return c, err
	}
	*p = hex
	return c, nil
}

func (c *Colors) ref(f Field) (*string, error) {
	switch f {
	case Background1:
		return &c.Background1, nil
	case Background2:
		return &c.Background2, nil
	case Text:
		return &c.Text, nil
	case NoteBg:
		return &c.NoteBg, nil
	case NoteText:
		return &c.NoteText, nil
	case NamePillBg:
		return &c.NamePillBg, nil
	case NamePillText:
		return &c.NamePillText, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
}

func (c Colors) Validate() error {
	for _, f := range Fields {
		v, _ := c.Get(f)
		if _, err := ParseHex(v); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

type Preset struct {
	Name   string `json:"name"`
	Colors Colors `json:"colors"`
}

var presets = []Preset{
	{
		Name: "Tiefes Mitternachtsblau",
		Colors: Colors{
			Background1: "#1A237E", Background2: "#283593", Text: "#E8EAF6",
			NoteBg: "#3949AB", NoteText: "#FFFFFF",
			NamePillBg: "#C5CAE9", NamePillText: "#1A237E",
		},
	},
	{
		Name: "Graphit & Silber",
		Colors: Colors{
			Background1: "#263238", Background2: "#37474F", Text: "#CFD8DC",
			NoteBg: "#455A64", NoteText: "#FFFFFF",
			NamePillBg: "#B0BEC5", NamePillText: "#263238",
		},
	},
	{
		Name: "Klassisch Blau",
		Colors: Colors{
			Background1: "#0068b5", Background2: "#3b86c4", Text: "#FFFFFF",
			NoteBg: "#FFFFFF", NoteText: "#333344",
			NamePillBg: "#FFFFFF", NamePillText: "#333344",
		},
	},
	{
		Name: "Sanftes Salbei",
		Colors: Colors{
			Background1: "#A5D6A7", Background2: "#C8E6C9", Text: "#2E7D32",
			NoteBg: "#FFFFFF", NoteText: "#388E3C",
			NamePillBg: "#FFFFFF", NamePillText: "#1B5E20",
		},
	},
	{
		Name: "Warmer Sonnenuntergang",
		Colors: Colors{
			Background1: "#FF8A65", Background2: "#FFAB91", Text: "#BF360C",
			NoteBg: "#FFFFFF", NoteText: "#D84315",
			NamePillBg: "#FFFFFF", NamePillText: "#BF360C",
		},
	},
}

func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

func PresetAt(i int) (Preset, error) {
	if i < 0 || i >= len(presets) {
		return Preset{}, fmt.Errorf("%w: %d", ErrUnknownPreset, i)
	}
	return presets[i], nil
}

// PresetIndex finds a preset by name, ignoring case.
func PresetIndex(name string) (int, error) {
	for i, p := range presets {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}
