package wallpaper

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ResizeMethod describes how a source image is fitted into the target size.
type ResizeMethod int

const (
	// ScaledResize scales the image to fit the full area.
	ScaledResize ResizeMethod = iota
	// ScaledAndCroppedResize scales and crops the image, preserving the aspect ratio.
	ScaledAndCroppedResize
	// CenteredResize centers the image without scaling.
	CenteredResize
	// TiledResize repeats the image from the top left corner.
	TiledResize
	// CenterTiledResize repeats the image so that one tile is centered.
	CenterTiledResize
	// MaximpactResize scales the image to fit the smaller dimension and fills
	// the rest with the fill color.
	MaximpactResize

	LastResizeMethod = MaximpactResize
)

var resizeMethodNames = [...]string{
	ScaledResize:           "scaled",
	ScaledAndCroppedResize: "scaled-cropped",
	CenteredResize:         "centered",
	TiledResize:            "tiled",
	CenterTiledResize:      "center-tiled",
	MaximpactResize:        "maximpact",
}

// Clamp bounds m into [ScaledResize, LastResizeMethod].
func (m ResizeMethod) Clamp() ResizeMethod {
	if m < ScaledResize {
		return ScaledResize
	}
	if m > LastResizeMethod {
		return LastResizeMethod
	}
	return m
}

func (m ResizeMethod) String() string {
	if m < ScaledResize || m > LastResizeMethod {
		return "ResizeMethod(" + strconv.Itoa(int(m)) + ")"
	}
	return resizeMethodNames[m]
}

// ParseResizeMethod accepts either a method name ("tiled") or its ordinal ("3").
// Ordinals outside the valid range are clamped.
func ParseResizeMethod(s string) (ResizeMethod, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range resizeMethodNames {
		if s == name {
			return ResizeMethod(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return ScaledResize, fmt.Errorf("unknown resize method %q", s)
	}
	return ResizeMethod(n).Clamp(), nil
}

// Size is a width and height pair.
type Size struct {
	W, H float64
}

func (s Size) String() string {
	return strconv.FormatFloat(s.W, 'g', -1, 64) + "x" + strconv.FormatFloat(s.H, 'g', -1, 64)
}

// Point rounds s to whole pixels. Renders and cache keys use this size.
func (s Size) Point() image.Point {
	return image.Pt(int(math.Round(s.W)), int(math.Round(s.H)))
}

// Rect is an axis aligned rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Size returns the rectangle's width and height.
func (r Rect) Size() Size {
	return Size{W: r.W, H: r.H}
}

// Color is an opaque RGB fill color.
type Color struct {
	R, G, B uint8
}

// Black is the default fill color.
var Black = Color{}

// Hex returns the canonical "#rrggbb" form. It is always seven bytes long.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string {
	return c.Hex()
}

// RGBA converts c to an image/color value.
func (c Color) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

// ParseColor parses "#rgb" and "#rrggbb" forms.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 && s[0] == '#' {
		s = string([]byte{'#', s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}
