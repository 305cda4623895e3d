package poster

import "image"

const (
	Width  = 1080
	Height = 1350
)

// Layout places every poster element in output pixels.
type Layout struct {
	Before image.Rectangle
	After  image.Rectangle

	HeadlineY float64
	SubtitleY float64
	LabelY    float64

	NamePillY      float64
	NamePillHeight float64
	NamePillMinW   float64
	NamePillPadX   float64

	NoteBox     image.Rectangle
	NotePadding float64

	QuoteY  float64
	FooterY float64

	HeadlineSize float64
	SubtitleSize float64
	LabelSize    float64
	NameSize     float64
	NoteSize     float64
	QuoteSize    float64
	FooterSize   float64

	FrameRadius float64
	NoteRadius  float64
}

var DefaultLayout = Layout{
	Before: image.Rect(60, 230, 525, 810),
	After:  image.Rect(555, 230, 1020, 810),

	HeadlineY: 120,
	SubtitleY: 185,
	LabelY:    860,

	NamePillY:      905,
	NamePillHeight: 72,
	NamePillMinW:   220,
	NamePillPadX:   40,

	NoteBox:     image.Rect(60, 1010, 1020, 1190),
	NotePadding: 32,

	QuoteY:  1240,
	FooterY: 1305,

	HeadlineSize: 72,
	SubtitleSize: 40,
	LabelSize:    34,
	NameSize:     38,
	NoteSize:     34,
	QuoteSize:    30,
	FooterSize:   28,

	FrameRadius: 24,
	NoteRadius:  24,
}

// Copy is the fixed poster text around the user's name and note. Empty
// fields are not drawn.
type Copy struct {
	Headline    string `json:"headline" toml:"headline"`
	Subtitle    string `json:"subtitle" toml:"subtitle"`
	BeforeLabel string `json:"before_label" toml:"before_label"`
	AfterLabel  string `json:"after_label" toml:"after_label"`
	Quote       string `json:"quote" toml:"quote"`
	Footer      string `json:"footer" toml:"footer"`
}

var DefaultCopy = Copy{
	Headline:    "#MEAwareness",
	Subtitle:    "Before ME/CFS and today",
	BeforeLabel: "Before",
	AfterLabel:  "Today",
	Quote:       "Millions missing. Not forgotten.",
	Footer:      "12 May · International ME/CFS Awareness Day",
}

func frameSize(r image.Rectangle) (float64, float64) {
	return float64(r.Dx()), float64(r.Dy())
}
