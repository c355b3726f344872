package compose

import (
	"image"
	"image/color"
	stddraw "image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

var (
	colorCanvas      = color.RGBA{R: 0x18, G: 0x18, B: 0x1b, A: 0xff}
	colorTile        = color.RGBA{R: 0x27, G: 0x27, B: 0x2a, A: 0xff}
	colorLetterbox   = color.RGBA{A: 0xff}
	colorAvatar      = color.RGBA{R: 0x3f, G: 0x3f, B: 0x46, A: 0xff}
	colorRing        = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	colorText        = color.RGBA{R: 0xfa, G: 0xfa, B: 0xfa, A: 0xff}
	colorTextDim     = color.RGBA{R: 0xa1, G: 0xa1, B: 0xaa, A: 0xff}
	colorAccent      = color.RGBA{R: 0x63, G: 0x66, B: 0xf1, A: 0xff}
	colorScrim       = color.RGBA{A: 0xb4}
	colorIndicator   = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	colorInterimText = color.RGBA{R: 0xd4, G: 0xd4, B: 0xd8, A: 0xff}
)

// platformColors accents chat author names by source platform.
var platformColors = map[string]color.RGBA{
	"twitch":   {R: 0x91, G: 0x46, B: 0xff, A: 0xff},
	"youtube":  {R: 0xff, B: 0x00, G: 0x00, A: 0xff},
	"facebook": {R: 0x18, G: 0x77, B: 0xf2, A: 0xff},
	"linkedin": {R: 0x0a, G: 0x66, B: 0xc2, A: 0xff},
}

func platformColor(platform string) color.RGBA {
	if c, ok := platformColors[platform]; ok {
		return c
	}
	return colorTextDim
}

// fillRect paints r with a solid color, alpha-composited.
func fillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	stddraw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, stddraw.Over)
}

// clearSurface resets the whole canvas to the base color.
func clearSurface(dst *image.RGBA, c color.RGBA) {
	stddraw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, stddraw.Src)
}

// fitRect computes the largest rectangle with src's aspect ratio that fits
// inside dst, centered.
func fitRect(dst image.Rectangle, srcW, srcH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dst.Empty() {
		return image.Rectangle{}
	}
	scale := math.Min(float64(dst.Dx())/float64(srcW), float64(dst.Dy())/float64(srcH))
	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	x0 := dst.Min.X + (dst.Dx()-w)/2
	y0 := dst.Min.Y + (dst.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// drawAspectFit letterboxes src inside r and scales it with bilinear
// interpolation.
func drawAspectFit(dst *image.RGBA, r image.Rectangle, src *image.RGBA) {
	if src == nil || r.Empty() {
		return
	}
	fillRect(dst, r, colorLetterbox)
	target := fitRect(r, src.Bounds().Dx(), src.Bounds().Dy())
	if target.Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, target, src, src.Bounds(), xdraw.Src, nil)
}

// drawAspectFill crops src to cover r completely, keeping the center.
func drawAspectFill(dst *image.RGBA, r image.Rectangle, src *image.RGBA) {
	if src == nil || r.Empty() {
		return
	}
	sb := src.Bounds()
	scale := math.Max(float64(r.Dx())/float64(sb.Dx()), float64(r.Dy())/float64(sb.Dy()))
	cropW := int(float64(r.Dx()) / scale)
	cropH := int(float64(r.Dy()) / scale)
	cx := sb.Min.X + (sb.Dx()-cropW)/2
	cy := sb.Min.Y + (sb.Dy()-cropH)/2
	crop := image.Rect(cx, cy, cx+cropW, cy+cropH)
	xdraw.ApproxBiLinear.Scale(dst, r, src, crop, xdraw.Src, nil)
}

// drawCircle paints a filled circle clipped to the destination bounds.
func drawCircle(dst *image.RGBA, center image.Point, radius int, c color.RGBA) {
	if radius <= 0 {
		return
	}
	box := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1)
	box = box.Intersect(dst.Bounds())
	rr := radius * radius
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dx := x - center.X
			dy := y - center.Y
			if dx*dx+dy*dy <= rr {
				dst.SetRGBA(x, y, blend(dst.RGBAAt(x, y), c))
			}
		}
	}
}

// drawRing paints a circle outline of the given thickness.
func drawRing(dst *image.RGBA, center image.Point, radius, thickness int, c color.RGBA) {
	if radius <= 0 || thickness <= 0 {
		return
	}
	outer := radius * radius
	in := radius - thickness
	if in < 0 {
		in = 0
	}
	inner := in * in
	box := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1)
	box = box.Intersect(dst.Bounds())
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dx := x - center.X
			dy := y - center.Y
			d := dx*dx + dy*dy
			if d <= outer && d >= inner {
				dst.SetRGBA(x, y, blend(dst.RGBAAt(x, y), c))
			}
		}
	}
}

// blend composites src over dst using src alpha.
func blend(dst, src color.RGBA) color.RGBA {
	if src.A == 0xff {
		return src
	}
	a := uint32(src.A)
	ia := 255 - a
	return color.RGBA{
		R: uint8((uint32(src.R)*a + uint32(dst.R)*ia) / 255),
		G: uint8((uint32(src.G)*a + uint32(dst.G)*ia) / 255),
		B: uint8((uint32(src.B)*a + uint32(dst.B)*ia) / 255),
		A: 0xff,
	}
}

// withAlpha returns c with its alpha replaced.
func withAlpha(c color.RGBA, a uint8) color.RGBA {
	c.A = a
	return c
}

// drawPlaceholder renders the videoless-participant tile: a dark card with
// an avatar disc and, when enabled, pulse rings that expand with the
// participant's live audio level.
func drawPlaceholder(dst *image.RGBA, r image.Rectangle, name string, level float64, rings bool, phase float64) {
	fillRect(dst, r, colorTile)

	center := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
	base := minInt(r.Dx(), r.Dy()) / 6
	if base < 4 {
		return
	}

	if rings && level > 0.01 {
		// Ring radius breathes with the meter; alpha fades as it expands.
		swell := 1.0 + 0.25*math.Sin(phase*2*math.Pi)
		radius := int(float64(base) * (1.3 + 1.2*level) * swell)
		alpha := uint8(40 + 140*level)
		drawRing(dst, center, radius, maxInt(2, base/10), withAlpha(colorRing, alpha))
	}

	drawCircle(dst, center, base, colorAvatar)
	if initial := firstRune(name); initial != "" {
		sc := maxInt(1, base/8)
		w := textWidth(initial, sc)
		drawText(dst, image.Pt(center.X-w/2, center.Y-textHeight(sc)/2), initial, colorText, sc)
	}
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
