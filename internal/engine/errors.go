package engine

import "errors"

var (
	// ErrInvalidTransition is returned when a state change is not allowed
	// from the current coordinator state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMissingTrack indicates the track file was absent at load time.
	// Recoverable: the coordinator falls back or goes idle.
	ErrMissingTrack = errors.New("track file missing")

	// ErrLoadFailure indicates the channel rejected a file that exists.
	// Recoverable: same fallback path as ErrMissingTrack.
	ErrLoadFailure = errors.New("track load failed")

	// ErrStateInconsistency indicates an event referenced a torn-down
	// session. Such events are logged and dropped.
	ErrStateInconsistency = errors.New("event references torn-down session")

	// ErrAmbientControlUnavailable indicates the host does not support an
	// ambient control operation. Logged once, then suppressed.
	ErrAmbientControlUnavailable = errors.New("ambient control unavailable")

	// ErrNoPlayableTrack indicates an item had no tracks and no fallback
	// is configured.
	ErrNoPlayableTrack = errors.New("no playable track")
)
