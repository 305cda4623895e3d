package poster

import (
	"fmt"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce    sync.Once
	regularFont *truetype.Font
	boldFont    *truetype.Font
	fontErr     error
)

func loadFonts() error {
	fontOnce.Do(func() {
		regular, err := truetype.Parse(goregular.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse regular font: %w", err)
			return
		}
		bold, err := truetype.Parse(gobold.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse bold font: %w", err)
			return
		}
		regularFont = regular
		boldFont = bold
	})
	return fontErr
}

func face(bold bool, size float64) font.Face {
	f := regularFont
	if bold {
		f = boldFont
	}
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
