package compose

import (
	"image"
	"math"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// drawBackground paints the background asset across its placement, or the
// whole canvas when no placement was given.
func drawBackground(dst *image.RGBA, asset *domain.OverlayAsset) {
	if asset == nil || asset.Image == nil {
		return
	}
	r := asset.Placement
	if r.Empty() {
		r = dst.Bounds()
	}
	drawAspectFill(dst, r.Intersect(dst.Bounds()), asset.Image)
}

// drawOverlayAsset paints a logo or banner at its placement; assets without
// a placement render at natural size in the top-left corner.
func drawOverlayAsset(dst *image.RGBA, asset *domain.OverlayAsset) {
	if asset.Image == nil {
		return
	}
	r := asset.Placement
	if r.Empty() {
		b := asset.Image.Bounds()
		r = image.Rect(0, 0, b.Dx(), b.Dy())
	}
	drawAspectFit(dst, r.Intersect(dst.Bounds()), asset.Image)
}

// chatVisible is how many of the newest messages the overlay shows.
const chatVisible = 3

// drawChat renders the latest messages bottom-left, newest at the bottom,
// author names accented with their platform color.
func drawChat(dst *image.RGBA, msgs []domain.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > chatVisible {
		msgs = msgs[len(msgs)-chatVisible:]
	}

	b := dst.Bounds()
	scale := 2
	lineH := textHeight(scale) + 10
	maxW := b.Dx() * 2 / 5

	y := b.Max.Y - 140 - lineH*len(msgs)
	for _, msg := range msgs {
		author := truncateText(msg.Author, maxW/3, scale)
		text := truncateText(msg.Text, maxW-textWidth(author+"  ", scale), scale)

		w := textWidth(author+"  "+text, scale) + 16
		fillRect(dst, image.Rect(b.Min.X+24, y-4, b.Min.X+24+w, y+textHeight(scale)+4), colorScrim)
		drawText(dst, image.Pt(b.Min.X+32, y), author, platformColor(msg.Platform), scale)
		drawText(dst, image.Pt(b.Min.X+32+textWidth(author+"  ", scale), y), text, colorText, scale)
		y += lineH
	}
}

// drawLowerThird renders the active lower third in one of four treatments.
func drawLowerThird(dst *image.RGBA, lt domain.LowerThird) {
	b := dst.Bounds()
	scale := 3
	subScale := 2

	text := truncateText(lt.Text, b.Dx()*3/5, scale)
	subtext := truncateText(lt.Subtext, b.Dx()*3/5, subScale)

	baseY := b.Max.Y - 110
	switch lt.Style {
	case domain.LowerThirdMinimal:
		drawText(dst, image.Pt(b.Min.X+41, baseY+1), text, colorLetterbox, scale)
		drawText(dst, image.Pt(b.Min.X+40, baseY), text, colorText, scale)
		if subtext != "" {
			drawText(dst, image.Pt(b.Min.X+40, baseY+textHeight(scale)+6), subtext, colorTextDim, subScale)
		}

	case domain.LowerThirdBoxed:
		w := maxInt(textWidth(text, scale), textWidth(subtext, subScale)) + 48
		h := textHeight(scale) + 18
		if subtext != "" {
			h += textHeight(subScale) + 8
		}
		box := image.Rect(b.Min.X+32, baseY-10, b.Min.X+32+w, baseY-10+h)
		fillRect(dst, box, colorScrim)
		fillRect(dst, image.Rect(box.Min.X, box.Min.Y, box.Min.X+6, box.Max.Y), colorAccent)
		drawText(dst, image.Pt(box.Min.X+24, baseY), text, colorText, scale)
		if subtext != "" {
			drawText(dst, image.Pt(box.Min.X+24, baseY+textHeight(scale)+8), subtext, colorTextDim, subScale)
		}

	case domain.LowerThirdAccent:
		w := textWidth(text, scale) + 32
		chip := image.Rect(b.Min.X+32, baseY-8, b.Min.X+32+w, baseY+textHeight(scale)+8)
		fillRect(dst, chip, colorAccent)
		drawText(dst, image.Pt(chip.Min.X+16, baseY), text, colorText, scale)
		if subtext != "" {
			sw := textWidth(subtext, subScale) + 32
			sub := image.Rect(chip.Min.X, chip.Max.Y+4, chip.Min.X+sw, chip.Max.Y+4+textHeight(subScale)+10)
			fillRect(dst, sub, colorScrim)
			drawText(dst, image.Pt(sub.Min.X+16, sub.Min.Y+5), subtext, colorText, subScale)
		}

	default: // LowerThirdBar
		barTop := baseY - 12
		barBottom := baseY + textHeight(scale) + 12
		if subtext != "" {
			barBottom += textHeight(subScale) + 8
		}
		fillRect(dst, image.Rect(b.Min.X, barTop, b.Max.X, barBottom), colorScrim)
		fillRect(dst, image.Rect(b.Min.X, barTop, b.Max.X, barTop+4), colorAccent)
		drawText(dst, image.Pt(b.Min.X+40, baseY), text, colorText, scale)
		if subtext != "" {
			drawText(dst, image.Pt(b.Min.X+40, baseY+textHeight(scale)+8), subtext, colorTextDim, subScale)
		}
	}
}

// drawCaption renders the live caption block above the lower-third area,
// pulsing gently while the line is still interim.
func drawCaption(dst *image.RGBA, caption domain.Caption, phase float64) {
	if caption.Text == "" {
		return
	}
	b := dst.Bounds()
	scale := 2
	maxW := b.Dx() * 4 / 5

	lines := wrapText(caption.Text, maxW, scale)
	if len(lines) > 2 {
		lines = lines[len(lines)-2:]
	}

	lineH := textHeight(scale) + 6
	y := b.Max.Y - 56 - lineH*len(lines)

	col := colorText
	if caption.Interim {
		pulse := 0.7 + 0.3*math.Sin(phase*2*math.Pi)
		col = withAlpha(colorInterimText, uint8(255*pulse))
	}
	for _, line := range lines {
		w := textWidth(line, scale)
		x := b.Min.X + (b.Dx()-w)/2
		fillRect(dst, image.Rect(x-12, y-3, x+w+12, y+textHeight(scale)+3), colorScrim)
		drawText(dst, image.Pt(x, y), line, col, scale)
		y += lineH
	}
}

// drawReconnectIndicator renders the transient top-right warning chip.
func drawReconnectIndicator(dst *image.RGBA) {
	b := dst.Bounds()
	scale := 2
	label := "RECONNECTING"
	w := textWidth(label, scale) + 36

	chip := image.Rect(b.Max.X-w-24, b.Min.Y+24, b.Max.X-24, b.Min.Y+24+textHeight(scale)+14)
	fillRect(dst, chip, colorScrim)
	drawCircle(dst, image.Pt(chip.Min.X+14, (chip.Min.Y+chip.Max.Y)/2), 5, colorIndicator)
	drawText(dst, image.Pt(chip.Min.X+28, chip.Min.Y+7), label, colorText, scale)
}

// drawClipFrame letterboxes a fullscreen clip frame over black.
func drawClipFrame(dst *image.RGBA, frame *image.RGBA) {
	clearSurface(dst, colorLetterbox)
	if frame == nil {
		return
	}
	drawAspectFit(dst, dst.Bounds(), frame)
}
