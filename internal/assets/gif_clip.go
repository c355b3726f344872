package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"sort"
	"time"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// gifClip is an animated GIF coalesced into full frames up front. FrameAt is
// a binary search over cumulative frame end times, cheap enough for the
// render loop.
type gifClip struct {
	frames []*image.RGBA
	ends   []time.Duration
	total  time.Duration
	loop   bool
}

// decodeGIFClip coalesces every GIF frame onto a full canvas, honoring frame
// disposal, so playback is a plain frame lookup.
func decodeGIFClip(data []byte) (*gifClip, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetDecode, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%w: gif has no frames", domain.ErrAssetDecode)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	clip := &gifClip{
		frames: make([]*image.RGBA, 0, len(g.Image)),
		ends:   make([]time.Duration, 0, len(g.Image)),
		// image/gif reports 0 as "loop forever" and -1 as "play once".
		loop: g.LoopCount == 0,
	}

	var elapsed time.Duration
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		full := image.NewRGBA(bounds)
		copy(full.Pix, canvas.Pix)
		clip.frames = append(clip.frames, full)

		delay := time.Duration(g.Delay[i]) * 10 * time.Millisecond
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		elapsed += delay
		clip.ends = append(clip.ends, elapsed)

		if i < len(g.Disposal) && g.Disposal[i] != gif.DisposalNone {
			// Background and previous disposal both reset the painted area.
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}
	clip.total = elapsed
	return clip, nil
}

// FrameAt returns the frame covering elapsed. Looping clips wrap; one-shot
// clips return nil past their duration.
func (c *gifClip) FrameAt(elapsed time.Duration) *image.RGBA {
	if c.total <= 0 {
		return nil
	}
	if elapsed >= c.total {
		if !c.loop {
			return nil
		}
		elapsed = elapsed % c.total
	}
	i := sort.Search(len(c.ends), func(i int) bool { return elapsed < c.ends[i] })
	if i >= len(c.frames) {
		i = len(c.frames) - 1
	}
	return c.frames[i]
}

// Duration reports the length of one pass through the frames.
func (c *gifClip) Duration() time.Duration { return c.total }
