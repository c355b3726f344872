// Package media implements the shared track primitives the studio moves
// audio and video through: a latest-frame video mailbox and a bounded PCM
// ring. Producers and consumers run on independent loops, so both types are
// safe for concurrent use and never block the caller.
package media
