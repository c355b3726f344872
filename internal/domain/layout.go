package domain

import "image"

// LayoutKind selects the arrangement of participant tiles on the canvas.
type LayoutKind string

const (
	LayoutGrid        LayoutKind = "grid"
	LayoutSpotlight   LayoutKind = "spotlight"
	LayoutSidebar     LayoutKind = "sidebar"
	LayoutPiP         LayoutKind = "pip"
	LayoutScreenShare LayoutKind = "screenshare"
)

// LayoutSpec is the desired arrangement for the next rendered frame. The
// compositor reads the active spec fresh on every tick, so swapping specs is
// atomic and takes effect on the following frame without interpolation.
//
// Variant parameters:
//   - Spotlight, ScreenShare, PiP: FocusID picks the enlarged feed. For
//     ScreenShare the focus is the shared screen; PiP draws the focus as the
//     inset over the first remaining participant.
//   - Grid: Crop switches tiles from aspect-fit (letterboxed inside the cell)
//     to aspect-fill (cropped to cover the cell).
//   - Custom tile geometry: Tiles maps participant IDs to explicit canvas
//     rectangles and overrides the computed arrangement entirely.
type LayoutSpec struct {
	Kind    LayoutKind
	FocusID string
	Crop    bool
	Tiles   map[string]image.Rectangle
}

// DefaultLayout is the arrangement used before any SetLayout call.
func DefaultLayout() LayoutSpec {
	return LayoutSpec{Kind: LayoutGrid}
}
