package engine

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/config"
	"github.com/friendsincode/themeline/internal/events"
)

// AmbientControl is the host-owned ambient audio source. Implementations
// may no-op; Mute and Unmute return ErrAmbientControlUnavailable (or any
// error) when the host cannot honor the operation.
type AmbientControl interface {
	Mute() error
	Unmute() error
	IsActive() bool
}

// NopAmbientControl is used when the host exposes no ambient source.
type NopAmbientControl struct{}

func (NopAmbientControl) Mute() error    { return nil }
func (NopAmbientControl) Unmute() error  { return nil }
func (NopAmbientControl) IsActive() bool { return false }

// Bridge reacts to playback start/stop notifications by muting and
// restoring the ambient source according to the configured policy.
// Restore is an idempotent re-acquire on the host side; the bridge only
// asks, it never touches resource handles.
type Bridge struct {
	mode   config.SuppressionMode
	ctrl   AmbientControl
	bus    *events.Bus
	logger zerolog.Logger

	mu     sync.Mutex
	muted  bool
	warned bool
}

// NewBridge creates a bridge for the given suppression mode. A nil ctrl is
// replaced by NopAmbientControl.
func NewBridge(mode config.SuppressionMode, ctrl AmbientControl, bus *events.Bus, logger zerolog.Logger) *Bridge {
	if ctrl == nil {
		ctrl = NopAmbientControl{}
	}
	return &Bridge{
		mode:   mode,
		ctrl:   ctrl,
		bus:    bus,
		logger: logger.With().Str("component", "ambient-bridge").Logger(),
	}
}

// PlaybackStarted is called on every transition into an audible state.
func (b *Bridge) PlaybackStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case config.SuppressAlways, config.SuppressWhileActive:
		b.muteLocked()
	}
}

// PlaybackStopped is called on every transition to a fully silent state.
// Only the while-active policy restores; always-suppress never does.
func (b *Bridge) PlaybackStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode != config.SuppressWhileActive {
		return
	}
	b.unmuteLocked()
}

// Muted reports whether the bridge currently holds the ambient source muted.
func (b *Bridge) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *Bridge) muteLocked() {
	if b.muted {
		return
	}
	if err := b.ctrl.Mute(); err != nil {
		b.warnOnceLocked(err)
		return
	}
	b.muted = true
	if b.bus != nil {
		b.bus.Publish(events.EventAmbientMuted, events.Payload{"mode": string(b.mode)})
	}
}

func (b *Bridge) unmuteLocked() {
	if !b.muted {
		return
	}
	if err := b.ctrl.Unmute(); err != nil {
		b.warnOnceLocked(err)
		return
	}
	b.muted = false
	if b.bus != nil {
		b.bus.Publish(events.EventAmbientRestored, events.Payload{"mode": string(b.mode)})
	}
}

// warnOnceLocked logs the first control failure and suppresses the rest so
// a host without ambient support does not flood the log on every track.
func (b *Bridge) warnOnceLocked(err error) {
	if b.warned {
		return
	}
	b.warned = true
	b.logger.Warn().Err(err).Msg("ambient control unavailable, further failures suppressed")
}
