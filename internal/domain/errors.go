package domain

import "errors"

var (
	// ErrClosed is returned by operations on a component that was stopped or
	// closed. Closed components never resurrect.
	ErrClosed = errors.New("closed")

	// ErrUnknownConnection is returned when a connection ID is not registered
	// with the publish manager.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrAlreadyPublishing is returned when a publish run is already active.
	ErrAlreadyPublishing = errors.New("already publishing")

	// ErrNoBackupAvailable is reported when a failover finds no ready,
	// connected backup to promote.
	ErrNoBackupAvailable = errors.New("no backup connection available")

	// ErrPrimaryReadyTimeout is returned by StartPublishing when the primary
	// connection does not reach ready within the configured window.
	ErrPrimaryReadyTimeout = errors.New("primary connection not ready before timeout")

	// ErrAssetDecode is returned when fetched asset bytes cannot be decoded
	// into a usable image or clip.
	ErrAssetDecode = errors.New("asset decode failed")

	// ErrAssetNotFound is returned for cache lookups that require a prior
	// confirmed load.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrClipActive is returned when a fullscreen clip is already playing.
	ErrClipActive = errors.New("fullscreen clip already active")

	// ErrNotRunning is returned by operations that need a started component.
	ErrNotRunning = errors.New("not running")
)
