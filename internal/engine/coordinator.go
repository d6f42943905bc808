/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine implements the playback coordination state machine and the
// time-based fade engine behind it. One coordinator owns one audio channel,
// shared between per-item tracks and the configured fallback track.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/audio"
	"github.com/friendsincode/themeline/internal/config"
	"github.com/friendsincode/themeline/internal/events"
	"github.com/friendsincode/themeline/internal/telemetry"
)

// State of the playback coordinator.
type State string

const (
	StateIdle            State = "idle"
	StatePlayingItem     State = "playing_item"
	StatePlayingFallback State = "playing_fallback"
	StatePausedItem      State = "paused_item"
	StatePausedFallback  State = "paused_fallback"
	StateFading          State = "fading"
)

// allStates feeds the state gauge.
var allStates = []string{
	string(StateIdle),
	string(StatePlayingItem),
	string(StatePlayingFallback),
	string(StatePausedItem),
	string(StatePausedFallback),
	string(StateFading),
}

// validTransitions encodes the legal state machine edges. Zero-duration
// fades skip StateFading, so direct playing edges are included.
var validTransitions = map[State][]State{
	StateIdle:            {StateFading, StatePlayingItem, StatePlayingFallback},
	StatePlayingItem:     {StateFading, StatePlayingItem, StatePlayingFallback, StatePausedItem, StateIdle},
	StatePlayingFallback: {StateFading, StatePlayingItem, StatePlayingFallback, StatePausedFallback, StateIdle},
	StatePausedItem:      {StateFading, StatePlayingItem, StatePlayingFallback, StateIdle},
	StatePausedFallback:  {StateFading, StatePlayingItem, StatePlayingFallback, StateIdle},
	StateFading:          {StateFading, StatePlayingItem, StatePlayingFallback, StatePausedItem, StatePausedFallback, StateIdle},
}

func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// session is the live playback session, created on the first allowed
// selection and torn down on stop.
type session struct {
	ID           string
	ItemID       string
	TrackPath    string
	PreviousPath string
	Tracks       TrackList
}

// Status is the read-only view exposed to the control surface.
type Status struct {
	State        State   `json:"state"`
	SessionID    string  `json:"session_id,omitempty"`
	ItemID       string  `json:"item_id,omitempty"`
	TrackPath    string  `json:"track_path,omitempty"`
	Volume       float64 `json:"volume"`
	Fading       bool    `json:"fading"`
	AmbientMuted bool    `json:"ambient_muted"`
}

// Coordinator is the central state machine. A single mutex serializes the
// fade tick against every event-driven entry point; this is the primary
// correctness hazard of the whole subsystem, so nothing mutates session
// state outside the lock.
type Coordinator struct {
	cfg      *config.Config
	catalog  Catalog
	channel  audio.Channel
	bridge   *Bridge
	bus      *events.Bus
	logger   zerolog.Logger
	gate     *Gate
	selector *Selector

	mu       sync.Mutex
	state    State
	sess     *session
	fader    *Fader
	stream   State // StatePlayingItem or StatePlayingFallback while audible
	fadeTo   State // target state once the in-flight fade-in lands
	fadeFrom time.Time
	fadeDir  string

	pausedStream  State
	pendingItem   string // selection parked by an await-confirmation Wait
	overlayPaused bool

	// fallback paused-position bookkeeping, independent of item tracks
	fallbackPos       time.Duration
	fallbackResumable bool
	fallbackLoaded    bool
}

// NewCoordinator wires the coordinator to its collaborators and registers
// for the channel's end-of-track callback.
func NewCoordinator(cfg *config.Config, catalog Catalog, channel audio.Channel, bridge *Bridge, bus *events.Bus, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		catalog:  catalog,
		channel:  channel,
		bridge:   bridge,
		bus:      bus,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		gate:     NewGate(cfg.MusicEnabled, cfg.SkipFirstSelection, cfg.AwaitConfirmation, logger),
		selector: NewSelector(),
		state:    StateIdle,
	}
	c.fader = NewFader(cfg.BaseVolume, channel.SetVolume)
	channel.SetOnEnded(c.OnTrackEnded)
	telemetry.SetEngineState(allStates, string(StateIdle))
	return c
}

// Run drives the fade tick until ctx is cancelled. The tick period comes
// from configuration and is independent of the events that trigger fades.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.FadeTick)
	defer ticker.Stop()

	c.logger.Info().Dur("tick", c.cfg.FadeTick).Msg("coordinator running")

	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick advances the in-flight fade, if any, and lands the deferred state
// once the fade completes.
func (c *Coordinator) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fader.Active() {
		return
	}
	// A fade-out completion handler may have started a new fade; only
	// land the target when the fader is actually done. Fade-out
	// completions account for themselves inside their handler.
	if c.fader.Tick() && !c.fader.Active() && c.fadeTo != "" {
		c.noteFadeDoneLocked()
		target := c.fadeTo
		c.fadeTo = ""
		c.transitionLocked(target)
	}
}

// OnItemSelected handles a selection event from the host. isNew reports
// whether the host considers the selection changed.
func (c *Coordinator) OnItemSelected(ctx context.Context, itemID string, isNew bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	decision := c.gate.Decide(itemID, isNew)
	telemetry.SelectionDecisionsTotal.WithLabelValues(string(decision)).Inc()
	c.bus.Publish(events.EventSelectionDecided, events.Payload{
		"item_id":  itemID,
		"decision": string(decision),
	})

	switch decision {
	case DecisionIgnore:
		return nil
	case DecisionWait:
		c.pendingItem = itemID
		c.logger.Debug().Str("item_id", itemID).Msg("selection parked awaiting confirmation")
		return nil
	}

	return c.playItemLocked(ctx, itemID)
}

// Confirm satisfies the await-confirmation policy and starts any parked
// selection.
func (c *Coordinator) Confirm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.gate.Confirm() {
		return nil
	}
	if c.pendingItem == "" {
		return nil
	}
	itemID := c.pendingItem
	c.pendingItem = ""
	return c.playItemLocked(ctx, itemID)
}

// Pause fades out and parks the active stream, remembering which one it was.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked()
}

// Resume re-enters the paused stream's transition path.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked(ctx)
}

// Stop fades out and tears the session down.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// OnTrackEnded is invoked by the channel when a track reaches its natural
// end. It runs on the channel's goroutine.
func (c *Coordinator) OnTrackEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bus.Publish(events.EventTrackEnded, events.Payload{"state": string(c.state)})

	if c.sess == nil {
		c.logger.Debug().Err(ErrStateInconsistency).Msg("track end for torn-down session, dropped")
		return
	}

	switch c.state {
	case StatePlayingItem, StatePlayingFallback, StateFading:
	default:
		c.logger.Debug().Err(ErrStateInconsistency).Str("state", string(c.state)).Msg("track end in non-playing state, dropped")
		return
	}
	if c.stream == "" {
		c.logger.Debug().Msg("track end during stop fade, dropped")
		return
	}

	ctx := context.Background()

	if c.stream == StatePlayingFallback {
		// Fallback loops from the start.
		c.fallbackPos = 0
		c.fallbackResumable = false
		c.fallbackLoaded = false
		if err := c.startFallbackLocked(ctx); err != nil {
			c.logger.Error().Err(err).Msg("fallback restart after track end failed")
		}
		return
	}

	next := c.sess.TrackPath
	if c.cfg.RotateOnEnd && len(c.sess.Tracks.Paths) > 1 {
		next = c.selector.Select(c.sess.ItemID, c.sess.Tracks, c.sess.TrackPath, true)
	}

	// The ended track is already silent, so the replacement fades in
	// immediately with no audible gap and no fade-out step.
	if err := c.beginItemTrackLocked(ctx, next); err != nil {
		c.failOverLocked(ctx, err)
	}
}

// OnOverlayStarted reacts to an ambient overlay (e.g. video playback)
// taking over: selections are blocked and current playback pauses.
func (c *Coordinator) OnOverlayStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate.SetOverlay(true)

	switch c.state {
	case StatePlayingItem, StatePlayingFallback, StateFading:
		c.overlayPaused = true
		if err := c.pauseLocked(); err != nil {
			c.logger.Error().Err(err).Msg("pause on overlay start failed")
		}
	}
}

// OnOverlayEnded lifts the overlay block. Playback paused by the overlay
// resumes; the gate re-evaluates the next selection as fresh.
func (c *Coordinator) OnOverlayEnded(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate.SetOverlay(false)

	if c.overlayPaused {
		c.overlayPaused = false
		if err := c.resumeLocked(ctx); err != nil {
			c.logger.Error().Err(err).Msg("resume on overlay end failed")
		}
	}
}

// SetEnabled toggles the whole subsystem. Disabling tears playback down;
// enabling is a mode re-entry that re-arms the one-shot gate policies.
func (c *Coordinator) SetEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enabled == c.gate.Enabled() {
		return nil
	}

	if !enabled {
		c.gate.SetEnabled(false)
		return c.stopLocked()
	}

	c.gate.Rearm()
	c.gate.SetEnabled(true)
	c.selector.Reset()
	return nil
}

// Status returns a snapshot for the control surface.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:        c.state,
		Volume:       c.channel.Volume(),
		Fading:       c.fader.Active(),
		AmbientMuted: c.bridge.Muted(),
	}
	if c.sess != nil {
		st.SessionID = c.sess.ID
		st.ItemID = c.sess.ItemID
		st.TrackPath = c.sess.TrackPath
	}
	return st
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown releases the channel without a fade. Used on process exit.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fader.Cancel()
	c.fadeTo = ""
	_ = c.channel.Stop()
	c.teardownLocked()
	c.logger.Info().Msg("coordinator shut down")
}

// ---- locked internals ----

// playItemLocked runs the full selection transition. When something is
// audible it fades out first and swaps after the fade lands: the crossfade
// is sequential, never overlapping.
func (c *Coordinator) playItemLocked(ctx context.Context, itemID string) error {
	switch c.state {
	case StatePlayingItem, StatePlayingFallback, StateFading:
		// Track loading happens after the fade, off the request context.
		loadCtx := context.WithoutCancel(ctx)
		c.startFadeOutLocked(func() {
			if err := c.loadAndStartItemLocked(loadCtx, itemID); err != nil {
				c.failOverLocked(loadCtx, err)
			}
		})
		return nil
	default:
		if err := c.loadAndStartItemLocked(ctx, itemID); err != nil {
			return c.failOverLocked(ctx, err)
		}
		return nil
	}
}

// loadAndStartItemLocked resolves the item's tracks, selects a path, and
// starts it. Load completes before any fade begins.
func (c *Coordinator) loadAndStartItemLocked(ctx context.Context, itemID string) error {
	tracks, err := c.catalog.TracksFor(ctx, itemID)
	if err != nil {
		telemetry.TrackLoadFailuresTotal.WithLabelValues("catalog").Inc()
		c.logger.Error().Err(err).Str("item_id", itemID).Msg("catalog lookup failed")
		return fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}

	c.ensureSessionLocked()
	prev := c.sess.TrackPath

	path := c.selector.Select(itemID, tracks, prev, c.cfg.RotateOnSelect)
	if path == "" {
		c.logger.Info().Str("item_id", itemID).Msg("item has no tracks, using fallback")
		c.sess.ItemID = itemID
		c.sess.Tracks = tracks
		return c.startFallbackLocked(ctx)
	}

	c.sess.ItemID = itemID
	c.sess.Tracks = tracks

	return c.beginItemTrackLocked(ctx, path)
}

// beginItemTrackLocked loads path into the channel and fades it in.
func (c *Coordinator) beginItemTrackLocked(ctx context.Context, path string) error {
	_ = c.channel.Stop()
	c.fallbackLoaded = false

	if err := c.channel.Load(ctx, path); err != nil {
		return c.classifyLoadLocked(path, err)
	}

	c.ensureSessionLocked()
	c.sess.PreviousPath = c.sess.TrackPath
	c.sess.TrackPath = path

	if err := c.channel.Play(); err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailure, err)
	}

	c.stream = StatePlayingItem
	c.bridge.PlaybackStarted()
	c.bus.Publish(events.EventPlaybackStarted, events.Payload{
		"item_id": c.sess.ItemID,
		"path":    path,
		"stream":  "item",
	})
	c.startFadeInLocked(StatePlayingItem)
	return nil
}

// startFallbackLocked starts or resumes the fallback track. A fallback
// instance still held paused in the channel resumes in place; otherwise the
// track is loaded fresh and, under the position policy, sought to the
// remembered paused position.
func (c *Coordinator) startFallbackLocked(ctx context.Context) error {
	if c.cfg.FallbackPath == "" {
		c.goIdleLocked()
		return ErrNoPlayableTrack
	}

	c.ensureSessionLocked()

	if c.state == StatePausedFallback && c.fallbackLoaded {
		if err := c.channel.Play(); err != nil {
			return fmt.Errorf("%w: %v", ErrLoadFailure, err)
		}
	} else {
		_ = c.channel.Stop()
		if err := c.channel.Load(ctx, c.cfg.FallbackPath); err != nil {
			loadErr := c.classifyLoadLocked(c.cfg.FallbackPath, err)
			c.goIdleLocked()
			return loadErr
		}
		c.fallbackLoaded = true

		if c.fallbackResumable && c.cfg.FallbackResume == config.FallbackResumePosition && c.fallbackPos > 0 {
			if err := c.channel.Seek(c.fallbackPos); err != nil {
				c.logger.Warn().Err(err).Dur("position", c.fallbackPos).Msg("fallback seek failed, restarting from zero")
			}
		}
		c.fallbackResumable = false

		if err := c.channel.Play(); err != nil {
			c.goIdleLocked()
			return fmt.Errorf("%w: %v", ErrLoadFailure, err)
		}
	}

	c.sess.PreviousPath = c.sess.TrackPath
	c.sess.TrackPath = c.cfg.FallbackPath
	c.stream = StatePlayingFallback
	c.bridge.PlaybackStarted()
	c.bus.Publish(events.EventPlaybackStarted, events.Payload{
		"path":   c.cfg.FallbackPath,
		"stream": "fallback",
	})
	c.startFadeInLocked(StatePlayingFallback)
	return nil
}

func (c *Coordinator) pauseLocked() error {
	switch c.state {
	case StatePlayingItem, StatePlayingFallback, StateFading:
	default:
		return nil
	}
	if c.stream == "" {
		// A stop fade is already in flight.
		return nil
	}

	stream := c.stream
	target := StatePausedItem
	streamLabel := "item"
	if stream == StatePlayingFallback {
		target = StatePausedFallback
		streamLabel = "fallback"
	}

	c.startFadeOutLocked(func() {
		if err := c.channel.Pause(); err != nil {
			c.logger.Error().Err(err).Msg("channel pause failed")
		}
		if stream == StatePlayingFallback {
			c.fallbackPos = c.channel.Position()
			c.fallbackResumable = true
		}
		c.pausedStream = stream
		c.transitionLocked(target)
		c.bridge.PlaybackStopped()
		c.bus.Publish(events.EventPlaybackPaused, events.Payload{"stream": streamLabel})
	})
	return nil
}

func (c *Coordinator) resumeLocked(ctx context.Context) error {
	switch c.state {
	case StatePausedItem:
		if c.sess == nil || c.sess.TrackPath == "" {
			c.logger.Warn().Err(ErrStateInconsistency).Msg("resume without a paused item track")
			c.goIdleLocked()
			return ErrStateInconsistency
		}
		if err := c.channel.Play(); err != nil {
			return c.failOverLocked(ctx, fmt.Errorf("%w: %v", ErrLoadFailure, err))
		}
		c.stream = StatePlayingItem
		c.bridge.PlaybackStarted()
		c.bus.Publish(events.EventPlaybackResumed, events.Payload{"stream": "item"})
		c.startFadeInLocked(StatePlayingItem)
		return nil

	case StatePausedFallback:
		err := c.startFallbackLocked(ctx)
		if err == nil {
			c.bus.Publish(events.EventPlaybackResumed, events.Payload{"stream": "fallback"})
		}
		return err

	default:
		return nil
	}
}

func (c *Coordinator) stopLocked() error {
	switch c.state {
	case StateIdle:
		return nil
	case StatePausedItem, StatePausedFallback:
		_ = c.channel.Stop()
		c.teardownLocked()
		return nil
	}

	// Clear the stream tag up front so pause or track-end events arriving
	// during the stop fade are dropped instead of restarting playback.
	c.stream = ""
	c.startFadeOutLocked(func() {
		_ = c.channel.Stop()
		c.teardownLocked()
	})
	return nil
}

// failOverLocked recovers from a load failure: item tracks fall back to the
// fallback track when one is configured, otherwise to idle. The coordinator
// always lands in a well-defined state; the error is reported, not raised.
func (c *Coordinator) failOverLocked(ctx context.Context, cause error) error {
	if c.cfg.FallbackPath != "" && c.stream != StatePlayingFallback {
		c.logger.Warn().Err(cause).Msg("track unavailable, switching to fallback")
		if err := c.startFallbackLocked(ctx); err != nil {
			c.logger.Error().Err(err).Msg("fallback also failed, going idle")
			c.goIdleLocked()
		}
		return cause
	}
	c.logger.Warn().Err(cause).Msg("track unavailable, going idle")
	c.goIdleLocked()
	return cause
}

func (c *Coordinator) classifyLoadLocked(path string, err error) error {
	kind := "load_failure"
	wrapped := fmt.Errorf("%w: %s: %v", ErrLoadFailure, path, err)
	if errors.Is(err, os.ErrNotExist) {
		kind = "missing_track"
		wrapped = fmt.Errorf("%w: %s", ErrMissingTrack, path)
	}
	telemetry.TrackLoadFailuresTotal.WithLabelValues(kind).Inc()
	c.logger.Error().Err(err).Str("path", path).Str("kind", kind).Msg("track load failed")
	return wrapped
}

func (c *Coordinator) goIdleLocked() {
	c.fader.Cancel()
	c.fadeTo = ""
	_ = c.channel.Stop()
	c.channel.SetVolume(0)
	wasAudible := c.stream != ""
	c.stream = ""
	c.fallbackLoaded = false
	c.transitionLocked(StateIdle)
	if wasAudible {
		c.bridge.PlaybackStopped()
		c.bus.Publish(events.EventPlaybackStopped, events.Payload{})
	}
}

func (c *Coordinator) teardownLocked() {
	c.fader.Cancel()
	c.fadeTo = ""
	c.sess = nil
	c.stream = ""
	c.pausedStream = ""
	c.pendingItem = ""
	c.fallbackLoaded = false
	c.fallbackResumable = false
	c.fallbackPos = 0
	c.transitionLocked(StateIdle)
	c.bridge.PlaybackStopped()
	c.bus.Publish(events.EventPlaybackStopped, events.Payload{})
}

func (c *Coordinator) ensureSessionLocked() {
	if c.sess == nil {
		c.sess = &session{ID: uuid.New().String()}
		c.logger.Info().Str("session_id", c.sess.ID).Msg("playback session created")
	}
}

// startFadeInLocked begins a fade-in and records the state to land once it
// completes. A zero fade duration lands immediately.
func (c *Coordinator) startFadeInLocked(target State) {
	c.noteFadeStartLocked("in")
	c.fadeTo = target
	c.fader.FadeIn(c.cfg.FadeIn)

	if !c.fader.Active() {
		c.noteFadeDoneLocked()
		c.fadeTo = ""
		c.transitionLocked(target)
		return
	}
	c.transitionLocked(StateFading)
}

// startFadeOutLocked begins a fade-out whose completion handler runs under
// the coordinator lock, either on the tick that finishes the fade or
// synchronously for a zero duration.
func (c *Coordinator) startFadeOutLocked(onComplete func()) {
	c.noteFadeStartLocked("out")
	c.fadeTo = ""

	if c.cfg.FadeOut <= 0 {
		c.fader.FadeOut(0, nil)
		c.noteFadeDoneLocked()
		onComplete()
		return
	}

	c.transitionLocked(StateFading)
	c.fader.FadeOut(c.cfg.FadeOut, func() {
		c.noteFadeDoneLocked()
		onComplete()
	})
}

func (c *Coordinator) transitionLocked(to State) {
	if c.state == to {
		return
	}
	if !isValidTransition(c.state, to) {
		// Should be unreachable; logged rather than raised so a bug here
		// cannot crash the host.
		c.logger.Error().Err(ErrInvalidTransition).
			Str("from", string(c.state)).Str("to", string(to)).
			Msg("transition rejected")
		return
	}
	telemetry.EngineTransitionsTotal.WithLabelValues(string(c.state), string(to)).Inc()
	c.logger.Debug().Str("from", string(c.state)).Str("to", string(to)).Msg("state transition")
	c.state = to
	telemetry.SetEngineState(allStates, string(to))
}

func (c *Coordinator) noteFadeStartLocked(dir string) {
	c.fadeDir = dir
	c.fadeFrom = time.Now()
}

func (c *Coordinator) noteFadeDoneLocked() {
	if c.fadeDir == "" {
		return
	}
	telemetry.FadesTotal.WithLabelValues(c.fadeDir).Inc()
	telemetry.FadeDuration.WithLabelValues(c.fadeDir).Observe(time.Since(c.fadeFrom).Seconds())
	c.bus.Publish(events.EventFadeCompleted, events.Payload{"direction": c.fadeDir})
	c.fadeDir = ""
}
