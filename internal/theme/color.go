package theme

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ParseHex parses a "#rrggbb" color. The leading hash is required.
func ParseHex(s string) (color.RGBA, error) {
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}
	hex := s[1:]
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: expected 6-char hex", s)
	}

	rv, err := strconv.ParseUint(hex[0:2], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid red channel in %q: %w", s, err)
	}
	gv, err := strconv.ParseUint(hex[2:4], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid green channel in %q: %w", s, err)
	}
	bv, err := strconv.ParseUint(hex[4:6], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid blue channel in %q: %w", s, err)
	}

	return color.RGBA{R: uint8(rv), G: uint8(gv), B: uint8(bv), A: 255}, nil
}

// MustHex is ParseHex for values already validated by Colors.Validate.
// Invalid input renders as opaque white.
func MustHex(s string) color.RGBA {
	c, err := ParseHex(s)
	if err != nil {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return c
}
