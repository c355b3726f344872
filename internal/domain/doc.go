// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (media.go, participant.go,
// layout.go, overlay.go, publish.go, clip.go) with shared types and
// cross-cutting contracts. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
