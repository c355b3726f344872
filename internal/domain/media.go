package domain

import (
	"image"
	"time"
)

// PCM format shared by every audio path in the studio. Sources may carry
// arbitrary upstream formats; by the time samples reach the mixer they are
// 48 kHz stereo interleaved int16, handed around in 20 ms blocks.
const (
	SampleRate    = 48000
	Channels      = 2
	BlockDuration = 20 * time.Millisecond
	// BlockSamples is samples per channel per block (960 at 48 kHz / 20 ms).
	BlockSamples = SampleRate / int(time.Second/BlockDuration)
)

// VideoSource supplies the most recent frame of a live video feed.
//
// Frame returns nil until the source has produced its first frame. A returned
// frame stays valid across the current poll, but producers may recycle render
// surfaces after a few further frames, so consumers copy anything they retain.
// The sequence number increases with every published frame and lets pollers
// detect staleness cheaply.
type VideoSource interface {
	Frame() (*image.RGBA, uint64)
}

// AudioSource supplies interleaved int16 PCM. ReadBlock fills dst (length
// Channels*BlockSamples) and reports how many samples per channel were
// written; a source that is momentarily dry returns 0 and the mixer treats
// the block as silence. ReadBlock never blocks.
type AudioSource interface {
	ReadBlock(dst []int16) int
}
