package domain

import (
	"image"
	"time"
)

// Clip is prerecorded or generated fullscreen content played over the
// program. The compositor pulls frames by elapsed play time, so clips never
// push and never run ahead of the render loop.
//
// FrameAt returns the frame for the given offset, or nil once the clip is
// finished. Duration may be zero for clips whose length is only known while
// playing; the compositor then relies on FrameAt returning nil.
type Clip interface {
	FrameAt(elapsed time.Duration) *image.RGBA
	Duration() time.Duration
}

// AudibleClip is a Clip with an audio companion the mixer should carry for
// the life of the playback.
type AudibleClip interface {
	Clip
	AudioSource() AudioSource
}
