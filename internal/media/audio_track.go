package media

import (
	"sync"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// blockLen is the interleaved sample count of one PCM block.
const blockLen = domain.Channels * domain.BlockSamples

// AudioTrack buffers mixed PCM between the mixer pump and the publish
// transport as whole 20 ms blocks. The ring holds a bounded number of blocks;
// when the consumer falls behind, the oldest block is dropped so latency
// stays bounded instead of growing.
type AudioTrack struct {
	mu      sync.Mutex
	blocks  [][]int16
	head    int
	count   int
	dropped uint64
}

// NewAudioTrack returns a track buffering up to capBlocks blocks (a 20 ms
// block each). capBlocks < 1 is treated as 1.
func NewAudioTrack(capBlocks int) *AudioTrack {
	if capBlocks < 1 {
		capBlocks = 1
	}
	return &AudioTrack{blocks: make([][]int16, capBlocks)}
}

// WriteBlock copies one block into the ring, evicting the oldest block when
// full. Short blocks are zero-padded to a full block; oversized input is
// truncated.
func (t *AudioTrack) WriteBlock(block []int16) {
	buf := make([]int16, blockLen)
	copy(buf, block)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == len(t.blocks) {
		t.head = (t.head + 1) % len(t.blocks)
		t.count--
		t.dropped++
	}
	t.blocks[(t.head+t.count)%len(t.blocks)] = buf
	t.count++
}

// ReadBlock pops the oldest block into dst and returns samples per channel
// written, or 0 when the ring is empty. Implements domain.AudioSource.
func (t *AudioTrack) ReadBlock(dst []int16) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	block := t.blocks[t.head]
	t.blocks[t.head] = nil
	t.head = (t.head + 1) % len(t.blocks)
	t.count--

	n := copy(dst, block)
	return n / domain.Channels
}

// Buffered reports how many blocks are waiting.
func (t *AudioTrack) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Dropped reports how many blocks were evicted unread.
func (t *AudioTrack) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
