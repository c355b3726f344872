package compose

import (
	"image"
	"image/color"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	glyphWidth  = 7
	glyphHeight = 13
	glyphAscent = 11
)

// drawText renders s with its top-left corner at p. scale is an integer
// pixel multiplier; the bitmap face is scaled with nearest-neighbor to keep
// edges crisp.
func drawText(dst *image.RGBA, p image.Point, s string, c color.RGBA, scale int) {
	if s == "" {
		return
	}
	if scale <= 1 {
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(c),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(p.X, p.Y+glyphAscent),
		}
		d.DrawString(s)
		return
	}

	w := textWidth(s, 1)
	tmp := image.NewRGBA(image.Rect(0, 0, w, glyphHeight))
	d := font.Drawer{
		Dst:  tmp,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(0, glyphAscent),
	}
	d.DrawString(s)

	target := image.Rect(p.X, p.Y, p.X+w*scale, p.Y+glyphHeight*scale)
	xdraw.NearestNeighbor.Scale(dst, target, tmp, tmp.Bounds(), xdraw.Over, nil)
}

// textWidth reports the pixel width of s at the given scale.
func textWidth(s string, scale int) int {
	n := 0
	for range s {
		n++
	}
	return n * glyphWidth * scale
}

// textHeight reports the pixel height of one line at the given scale.
func textHeight(scale int) int {
	return glyphHeight * scale
}

// wrapText greedily wraps s into lines no wider than maxWidth pixels at the
// given scale. Words longer than a line are emitted unbroken.
func wrapText(s string, maxWidth, scale int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		candidate := line + " " + w
		if textWidth(candidate, scale) > maxWidth {
			lines = append(lines, line)
			line = w
			continue
		}
		line = candidate
	}
	return append(lines, line)
}

// truncateText shortens s with an ellipsis to fit maxWidth pixels.
func truncateText(s string, maxWidth, scale int) string {
	if textWidth(s, scale) <= maxWidth {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && textWidth(string(runes)+"...", scale) > maxWidth {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
