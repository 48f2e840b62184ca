package backends

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/image/draw"

	"github.com/richardartoul/wallcache/wallpaper"
)

// Compose fits src into an image of the requested size using method, with
// fill behind and around it.
func Compose(src image.Image, size image.Point, method wallpaper.ResizeMethod, fill wallpaper.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(dst, dst.Bounds(), image.NewUniform(fill.RGBA()), image.Point{}, draw.Src)

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 || size.X <= 0 || size.Y <= 0 {
		return dst
	}

	switch method.Clamp() {
	case wallpaper.ScaledResize:
		scaled := transform.Resize(src, size.X, size.Y, transform.Linear)
		draw.Draw(dst, dst.Bounds(), scaled, image.Point{}, draw.Over)

	case wallpaper.ScaledAndCroppedResize:
		f := math.Max(float64(size.X)/float64(sw), float64(size.Y)/float64(sh))
		w, h := scaleDim(sw, f), scaleDim(sh, f)
		scaled := transform.Resize(src, w, h, transform.Linear)
		// Crop the middle of the scaled image.
		sp := image.Pt((w-size.X)/2, (h-size.Y)/2)
		draw.Draw(dst, dst.Bounds(), scaled, sp, draw.Over)

	case wallpaper.CenteredResize:
		off := image.Pt((size.X-sw)/2, (size.Y-sh)/2)
		draw.Draw(dst, image.Rectangle{Min: off, Max: off.Add(image.Pt(sw, sh))}, src, sb.Min, draw.Over)

	case wallpaper.TiledResize:
		tile(dst, src, image.Point{})

	case wallpaper.CenterTiledResize:
		// Shift the grid so one tile sits in the middle, then step back
		// until the first tile covers the top left corner.
		off := image.Pt((size.X-sw)/2, (size.Y-sh)/2)
		off.X = off.X%sw - sw
		off.Y = off.Y%sh - sh
		tile(dst, src, off)

	case wallpaper.MaximpactResize:
		f := math.Min(float64(size.X)/float64(sw), float64(size.Y)/float64(sh))
		w, h := scaleDim(sw, f), scaleDim(sh, f)
		scaled := transform.Resize(src, w, h, transform.Linear)
		off := image.Pt((size.X-w)/2, (size.Y-h)/2)
		draw.Draw(dst, image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}, scaled, image.Point{}, draw.Over)
	}
	return dst
}

func scaleDim(n int, f float64) int {
	v := int(math.Round(float64(n) * f))
	if v < 1 {
		return 1
	}
	return v
}

// tile repeats src over dst starting at origin.
func tile(dst *image.RGBA, src image.Image, origin image.Point) {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	db := dst.Bounds()
	for y := origin.Y; y < db.Max.Y; y += sh {
		for x := origin.X; x < db.Max.X; x += sw {
			r := image.Rect(x, y, x+sw, y+sh)
			draw.Draw(dst, r, src, sb.Min, draw.Over)
		}
	}
}
