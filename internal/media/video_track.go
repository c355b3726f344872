package media

import (
	"image"
	"sync"
)

// VideoTrack is a latest-frame mailbox. The producer publishes finished
// frames; consumers poll the most recent one. A published frame stays
// untouched until the producer has published at least two further frames
// (producers render into a rotating surface ring), so consumers may read it
// across a poll but must copy anything they keep longer.
//
// A track carries a muted flag mirroring the upstream capture state. Mute
// transitions invoke the registered listener synchronously from the caller
// of SetMuted.
type VideoTrack struct {
	mu       sync.RWMutex
	frame    *image.RGBA
	seq      uint64
	muted    bool
	onMute   func(muted bool)
	released bool
}

// NewVideoTrack returns an empty track. Frame returns nil until the first
// Publish.
func NewVideoTrack() *VideoTrack {
	return &VideoTrack{}
}

// Publish makes img the track's current frame and bumps the sequence
// counter. Publishing to a released track is a no-op.
func (t *VideoTrack) Publish(img *image.RGBA) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.frame = img
	t.seq++
}

// Frame returns the most recent frame and its sequence number. The sequence
// number increases with every Publish, letting pollers detect a stalled
// producer without comparing pixels.
func (t *VideoTrack) Frame() (*image.RGBA, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame, t.seq
}

// SetMuted updates the mute flag, invoking the mute listener on transitions.
func (t *VideoTrack) SetMuted(muted bool) {
	t.mu.Lock()
	if t.released || t.muted == muted {
		t.mu.Unlock()
		return
	}
	t.muted = muted
	listener := t.onMute
	t.mu.Unlock()

	if listener != nil {
		listener(muted)
	}
}

// Muted reports the current mute flag.
func (t *VideoTrack) Muted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.muted
}

// OnMuteChange registers fn to run on every mute transition. Only one
// listener is kept; registering replaces the previous one.
func (t *VideoTrack) OnMuteChange(fn func(muted bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMute = fn
}

// Release detaches the track from its producer: subsequent publishes and
// mute updates are ignored. Consumers still read the last frame.
func (t *VideoTrack) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.onMute = nil
}
