package whip

import (
	"encoding/binary"
	"image"

	"github.com/pion/webrtc/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// VideoEncoder turns raw RGBA frames into encoded payloads for the outgoing
// video track. Encoding itself is a black box to the studio; production
// deployments plug a real codec in here.
type VideoEncoder interface {
	MimeType() string
	Encode(frame *image.RGBA) ([]byte, error)
}

// AudioEncoder turns 20 ms interleaved PCM blocks into encoded payloads for
// the outgoing audio track.
type AudioEncoder interface {
	MimeType() string
	Encode(block []int16) ([]byte, error)
}

// NullVideoEncoder emits a small frame descriptor instead of compressed
// video: magic, dimensions, and a running frame counter. It keeps the
// track, packetizer, and stats pipeline flowing in tests and demos without
// dragging a codec into the module. The payload is not decodable media.
type NullVideoEncoder struct {
	frames uint64
}

func (e *NullVideoEncoder) MimeType() string { return webrtc.MimeTypeVP8 }

func (e *NullVideoEncoder) Encode(frame *image.RGBA) ([]byte, error) {
	e.frames++
	b := frame.Bounds()
	buf := make([]byte, 20)
	copy(buf[0:4], "NULV")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(b.Dy()))
	binary.LittleEndian.PutUint64(buf[12:20], e.frames)
	return buf, nil
}

// NullAudioEncoder is the audio counterpart of NullVideoEncoder: a
// descriptor carrying the block count and a peak level, not opus data.
type NullAudioEncoder struct {
	blocks uint64
}

func (e *NullAudioEncoder) MimeType() string { return webrtc.MimeTypeOpus }

func (e *NullAudioEncoder) Encode(block []int16) ([]byte, error) {
	e.blocks++
	peak := 0
	for _, s := range block {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	buf := make([]byte, 20)
	copy(buf[0:4], "NULA")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(block)/domain.Channels))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(peak))
	binary.LittleEndian.PutUint64(buf[12:20], e.blocks)
	return buf, nil
}
