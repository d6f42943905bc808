// Package audio owns the single playback channel shared by item tracks and
// the fallback track. The engine talks to the Channel interface; the shipped
// implementation decodes media to raw PCM through GStreamer and applies
// volume as a gain in Go.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoTrack indicates an operation that needs a loaded track.
	ErrNoTrack = errors.New("no track loaded")

	// ErrChannelClosed indicates the channel has been released.
	ErrChannelClosed = errors.New("channel closed")
)

// Channel is a single logical audio output. Implementations must allow
// SetVolume while playing; all other methods are called from one goroutine
// at a time (the engine serializes access).
type Channel interface {
	// Load prepares a track at position zero, replacing any current track.
	Load(ctx context.Context, path string) error

	// Seek moves the playback position of the loaded, not-yet-playing
	// track. Implementations without native seek may re-decode and
	// discard up to the offset.
	Seek(offset time.Duration) error

	Play() error
	Pause() error

	// Stop releases the current track. Position resets to zero.
	Stop() error

	SetVolume(v float64)
	Volume() float64

	// Position reports how much of the track has been played.
	Position() time.Duration

	Playing() bool

	// SetOnEnded registers a callback fired once when the track reaches
	// its natural end. The callback runs on the channel's own goroutine.
	SetOnEnded(fn func())

	Close() error
}
