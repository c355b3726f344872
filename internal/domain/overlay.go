package domain

import (
	"image"
	"time"
)

// OverlayKind classifies a static overlay asset.
type OverlayKind string

const (
	// OverlayLogo and OverlayBanner stack above participant tiles in
	// insertion order.
	OverlayLogo   OverlayKind = "logo"
	OverlayBanner OverlayKind = "banner"
	// OverlayBackground paints below everything else. At most one background
	// is active; adding another replaces it atomically.
	OverlayBackground OverlayKind = "background"
)

// OverlayAsset is a static image layered into the composition. Placement is
// in canvas pixels; an empty rectangle means "cover the canvas" for
// backgrounds and "natural size at the top-left" otherwise.
//
// Image carries the decoded pixels and is attached only after the asset
// cache confirms the load. An OverlayAsset with a nil Image is never drawn.
type OverlayAsset struct {
	ID        string
	Kind      OverlayKind
	SourceURL string
	Placement image.Rectangle
	Image     *image.RGBA
}

// ChatMessage is a normalized chat line handed to the compositor by an
// external ingestion layer. Platform selects the accent color the overlay
// renders the author name with.
type ChatMessage struct {
	Platform string
	Author   string
	Text     string
	At       time.Time
}

// LowerThirdStyle picks one of the prebuilt lower-third treatments.
type LowerThirdStyle string

const (
	LowerThirdBar     LowerThirdStyle = "bar"
	LowerThirdMinimal LowerThirdStyle = "minimal"
	LowerThirdBoxed   LowerThirdStyle = "boxed"
	LowerThirdAccent  LowerThirdStyle = "accent"
)

// LowerThird is the name/title banner shown near the bottom of the frame.
type LowerThird struct {
	Text    string
	Subtext string
	Style   LowerThirdStyle
}

// Caption is the current subtitle line. Interim captions are still being
// recognized and render with a pulsing treatment until finalized.
type Caption struct {
	Text    string
	Interim bool
}
