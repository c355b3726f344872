package compose

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// countdownClip is a generated fullscreen clip: the remaining seconds as a
// large numeral with a ring sweeping once per second, plus a short beep at
// each second boundary. The sweep guarantees inter-frame motion for the whole
// countdown, so downstream liveness checks keep seeing a changing picture.
type countdownClip struct {
	total  time.Duration
	bounds image.Rectangle
	frame  *image.RGBA
	audio  *beepSource
}

var _ domain.AudibleClip = (*countdownClip)(nil)

func newCountdownClip(seconds, width, height int) *countdownClip {
	b := image.Rect(0, 0, width, height)
	return &countdownClip{
		total:  time.Duration(seconds) * time.Second,
		bounds: b,
		frame:  image.NewRGBA(b),
		audio:  newBeepSource(time.Duration(seconds) * time.Second),
	}
}

func (c *countdownClip) Duration() time.Duration { return c.total }

func (c *countdownClip) AudioSource() domain.AudioSource { return c.audio }

// FrameAt renders the countdown frame for the given offset into the clip's
// reusable surface. The compositor scales it onto the program canvas within
// the same tick, so surface reuse is safe.
func (c *countdownClip) FrameAt(elapsed time.Duration) *image.RGBA {
	if elapsed >= c.total {
		return nil
	}
	remaining := int(math.Ceil((c.total - elapsed).Seconds()))
	frac := float64(elapsed%time.Second) / float64(time.Second)

	clearSurface(c.frame, colorLetterbox)

	center := image.Pt(c.bounds.Dx()/2, c.bounds.Dy()/2)
	radius := c.bounds.Dy() / 4

	drawRing(c.frame, center, radius, 3, colorTile)
	drawArc(c.frame, center, radius, 6, frac, colorAccent)

	label := strconv.Itoa(remaining)
	scale := c.bounds.Dy() / 72
	if scale < 4 {
		scale = 4
	}
	drawText(c.frame, image.Pt(
		center.X-textWidth(label, scale)/2,
		center.Y-textHeight(scale)/2,
	), label, colorText, scale)

	return c.frame
}

// drawArc paints the leading fraction of a circle outline, sweeping clockwise
// from twelve o'clock. frac is clamped to [0,1].
func drawArc(dst *image.RGBA, center image.Point, radius, thickness int, frac float64, c color.RGBA) {
	if radius <= 0 || thickness <= 0 || frac <= 0 {
		return
	}
	if frac > 1 {
		frac = 1
	}
	outer := radius + thickness/2
	inner := radius - thickness/2
	if inner < 0 {
		inner = 0
	}
	box := image.Rect(center.X-outer, center.Y-outer, center.X+outer+1, center.Y+outer+1)
	box = box.Intersect(dst.Bounds())
	outerSq := outer * outer
	innerSq := inner * inner
	limit := frac * 2 * math.Pi
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dx := x - center.X
			dy := y - center.Y
			d := dx*dx + dy*dy
			if d > outerSq || d < innerSq {
				continue
			}
			// Angle measured clockwise from twelve o'clock.
			angle := math.Atan2(float64(dx), float64(-dy))
			if angle < 0 {
				angle += 2 * math.Pi
			}
			if angle <= limit {
				dst.SetRGBA(x, y, blend(dst.RGBAAt(x, y), c))
			}
		}
	}
}

// beepSource emits a short 880 Hz tone at the start of every second and
// silence otherwise, for the life of the countdown.
type beepSource struct {
	mu     sync.Mutex
	cursor int
	limit  int
}

const (
	beepFrequency = 880.0
	beepSamples   = domain.SampleRate / 8 // 125 ms
	beepAmplitude = 9000
)

func newBeepSource(total time.Duration) *beepSource {
	return &beepSource{
		limit: int(total/time.Second) * domain.SampleRate,
	}
}

// ReadBlock fills dst with the next 20 ms of the beep pattern. After the
// countdown's worth of samples it reports dry and the mixer carries silence.
func (b *beepSource) ReadBlock(dst []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor >= b.limit {
		return 0
	}
	n := len(dst) / domain.Channels
	for i := 0; i < n; i++ {
		pos := b.cursor + i
		inSecond := pos % domain.SampleRate
		var sample int16
		if pos < b.limit && inSecond < beepSamples {
			// Linear decay over the beep keeps the attack click-free.
			envelope := 1 - float64(inSecond)/float64(beepSamples)
			v := beepAmplitude * envelope * math.Sin(2*math.Pi*beepFrequency*float64(inSecond)/domain.SampleRate)
			sample = int16(v)
		}
		dst[2*i] = sample
		dst[2*i+1] = sample
	}
	b.cursor += n
	return n
}
