package compose

import (
	"image"
	"math"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// tilePlacement binds one on-stage participant to a canvas rectangle for the
// current frame.
type tilePlacement struct {
	id   string
	rect image.Rectangle
	crop bool
}

// computeTiles arranges the given participant IDs on the canvas according to
// spec. IDs arrive in binding order, which keeps arrangements stable from
// frame to frame. Every returned rectangle lies within canvas and placements
// never overlap.
func computeTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	if len(ids) == 0 {
		return nil
	}

	if len(spec.Tiles) > 0 {
		return explicitTiles(spec, ids, canvas)
	}

	switch spec.Kind {
	case domain.LayoutSpotlight:
		return spotlightTiles(spec, ids, canvas, pad)
	case domain.LayoutSidebar:
		return sidebarTiles(spec, ids, canvas, pad)
	case domain.LayoutPiP:
		return pipTiles(spec, ids, canvas, pad)
	case domain.LayoutScreenShare:
		return screenShareTiles(spec, ids, canvas, pad)
	default:
		return gridTiles(spec, ids, canvas, pad)
	}
}

// explicitTiles honors caller-supplied geometry, clamped to the canvas.
func explicitTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle) []tilePlacement {
	placements := make([]tilePlacement, 0, len(ids))
	for _, id := range ids {
		r, ok := spec.Tiles[id]
		if !ok {
			continue
		}
		r = r.Intersect(canvas)
		if r.Empty() {
			continue
		}
		placements = append(placements, tilePlacement{id: id, rect: r, crop: spec.Crop})
	}
	return placements
}

// gridTiles packs n tiles into ceil(sqrt(n)) columns. A partial last row is
// centered.
func gridTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	n := len(ids)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	cellW := canvas.Dx() / cols
	cellH := canvas.Dy() / rows

	placements := make([]tilePlacement, 0, n)
	for i, id := range ids {
		row := i / cols
		col := i % cols

		inRow := cols
		if row == rows-1 {
			inRow = n - row*cols
		}
		// Center a partial final row.
		offsetX := (canvas.Dx() - inRow*cellW) / 2

		x0 := canvas.Min.X + offsetX + col*cellW
		y0 := canvas.Min.Y + row*cellH
		r := shrink(image.Rect(x0, y0, x0+cellW, y0+cellH), pad)
		placements = append(placements, tilePlacement{id: id, rect: r, crop: spec.Crop})
	}
	return placements
}

// spotlightTiles shows only the focused feed, full canvas.
func spotlightTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	id := pickFocus(spec.FocusID, ids)
	return []tilePlacement{{id: id, rect: shrink(canvas, pad)}}
}

// sidebarTiles gives the focus the left three quarters and stacks the rest
// in a column on the right.
func sidebarTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	focus := pickFocus(spec.FocusID, ids)
	rest := exclude(ids, focus)

	if len(rest) == 0 {
		return []tilePlacement{{id: focus, rect: shrink(canvas, pad)}}
	}

	split := canvas.Min.X + canvas.Dx()*3/4
	main := image.Rect(canvas.Min.X, canvas.Min.Y, split, canvas.Max.Y)
	side := image.Rect(split, canvas.Min.Y, canvas.Max.X, canvas.Max.Y)

	placements := []tilePlacement{{id: focus, rect: shrink(main, pad)}}
	cellH := side.Dy() / len(rest)
	for i, id := range rest {
		y0 := side.Min.Y + i*cellH
		r := shrink(image.Rect(side.Min.X, y0, side.Max.X, y0+cellH), pad)
		placements = append(placements, tilePlacement{id: id, rect: r, crop: true})
	}
	return placements
}

// pipTiles draws the first non-focus participant full canvas with the focus
// inset in the bottom-right quarter.
func pipTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	focus := pickFocus(spec.FocusID, ids)
	rest := exclude(ids, focus)

	if len(rest) == 0 {
		return []tilePlacement{{id: focus, rect: shrink(canvas, pad)}}
	}

	insetW := canvas.Dx() / 4
	insetH := canvas.Dy() / 4
	inset := image.Rect(canvas.Max.X-insetW-pad, canvas.Max.Y-insetH-pad, canvas.Max.X-pad, canvas.Max.Y-pad)

	// The fullscreen feed is drawn first so the inset stays on top; these
	// two placements intentionally overlap, unlike any grid arrangement.
	return []tilePlacement{
		{id: rest[0], rect: shrink(canvas, pad)},
		{id: focus, rect: inset, crop: true},
	}
}

// screenShareTiles puts the shared screen across the top and a participant
// strip along the bottom.
func screenShareTiles(spec domain.LayoutSpec, ids []string, canvas image.Rectangle, pad int) []tilePlacement {
	focus := pickFocus(spec.FocusID, ids)
	rest := exclude(ids, focus)

	if len(rest) == 0 {
		return []tilePlacement{{id: focus, rect: shrink(canvas, pad)}}
	}

	stripH := canvas.Dy() / 4
	content := image.Rect(canvas.Min.X, canvas.Min.Y, canvas.Max.X, canvas.Max.Y-stripH)
	strip := image.Rect(canvas.Min.X, canvas.Max.Y-stripH, canvas.Max.X, canvas.Max.Y)

	placements := []tilePlacement{{id: focus, rect: shrink(content, pad)}}

	cellW := strip.Dx() / len(rest)
	offsetX := (strip.Dx() - cellW*len(rest)) / 2
	for i, id := range rest {
		x0 := strip.Min.X + offsetX + i*cellW
		r := shrink(image.Rect(x0, strip.Min.Y, x0+cellW, strip.Max.Y), pad)
		placements = append(placements, tilePlacement{id: id, rect: r, crop: true})
	}
	return placements
}

// pickFocus returns the requested focus if present, else the first ID.
func pickFocus(focusID string, ids []string) string {
	for _, id := range ids {
		if id == focusID {
			return id
		}
	}
	return ids[0]
}

func exclude(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// shrink insets a rectangle by pad on every side, collapsing to its center
// point when smaller than the padding.
func shrink(r image.Rectangle, pad int) image.Rectangle {
	out := image.Rect(r.Min.X+pad, r.Min.Y+pad, r.Max.X-pad, r.Max.Y-pad)
	if out.Empty() {
		c := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
		return image.Rectangle{Min: c, Max: c}
	}
	return out
}
