package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/config"
	"github.com/friendsincode/themeline/internal/events"
)

// fakeChannel records every call the coordinator makes.
type fakeChannel struct {
	mu      sync.Mutex
	loaded  string
	playing bool
	paused  bool
	volume  float64
	pos     time.Duration
	onEnded func()

	loadErr map[string]error

	loads  int
	plays  int
	pauses int
	stops  int
	seeks  int
	seekTo time.Duration
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{loadErr: make(map[string]error)}
}

func (f *fakeChannel) Load(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.loadErr[path]; ok {
		return err
	}
	f.loads++
	f.loaded = path
	f.pos = 0
	f.playing = false
	f.paused = false
	return nil
}

func (f *fakeChannel) Seek(offset time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks++
	f.seekTo = offset
	f.pos = offset
	return nil
}

func (f *fakeChannel) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded == "" {
		return errors.New("no track loaded")
	}
	f.plays++
	f.playing = true
	f.paused = false
	return nil
}

func (f *fakeChannel) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	f.paused = true
	return nil
}

func (f *fakeChannel) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.loaded = ""
	f.playing = false
	f.paused = false
	f.pos = 0
	return nil
}

func (f *fakeChannel) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeChannel) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeChannel) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeChannel) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing && !f.paused
}

func (f *fakeChannel) SetOnEnded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) setPos(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = d
}

func (f *fakeChannel) currentTrack() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

// fakeCatalog is an in-memory track catalog.
type fakeCatalog struct {
	items map[string]TrackList
	err   error
}

func (f *fakeCatalog) TracksFor(_ context.Context, itemID string) (TrackList, error) {
	if f.err != nil {
		return TrackList{}, f.err
	}
	return f.items[itemID], nil
}

func testConfig() *config.Config {
	return &config.Config{
		MusicEnabled:   true,
		RotateOnEnd:    true,
		FadeTick:       25 * time.Millisecond,
		BaseVolume:     1.0,
		FallbackResume: config.FallbackResumePosition,
		Suppression:    config.SuppressWhileActive,
	}
}

type coordFixture struct {
	c       *Coordinator
	ch      *fakeChannel
	ambient *fakeAmbient
	clock   *fakeClock
}

func newFixture(t *testing.T, cfg *config.Config, items map[string]TrackList) *coordFixture {
	t.Helper()

	ch := newFakeChannel()
	ambient := &fakeAmbient{}
	bus := events.NewBus()
	bridge := NewBridge(cfg.Suppression, ambient, bus, zerolog.Nop())
	c := NewCoordinator(cfg, &fakeCatalog{items: items}, ch, bridge, bus, zerolog.Nop())

	clock := newFakeClock()
	c.fader.now = clock.now

	return &coordFixture{c: c, ch: ch, ambient: ambient, clock: clock}
}

func TestSelectionPlaysPrimaryTrackOnce(t *testing.T) {
	cfg := testConfig()
	cfg.RotateOnSelect = true
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg", "a2.ogg"}, Primary: "a1.ogg"},
	})
	ctx := context.Background()

	if err := fx.c.OnItemSelected(ctx, "item-a", true); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("expected playing_item, got %s", st)
	}
	if got := fx.ch.currentTrack(); got != "a1.ogg" {
		t.Fatalf("expected the primary track, got %s", got)
	}
	if fx.ch.Volume() != 1.0 {
		t.Fatalf("zero-duration fade should land at base volume, got %v", fx.ch.Volume())
	}
	if fx.ambient.mutes != 1 {
		t.Fatalf("expected the ambient source muted, got %d mutes", fx.ambient.mutes)
	}

	// Reselecting the same item is a redundant event.
	if err := fx.c.OnItemSelected(ctx, "item-a", true); err != nil {
		t.Fatalf("reselection failed: %v", err)
	}
	if fx.ch.loads != 1 {
		t.Fatalf("reselection must not reload the track, loads=%d", fx.ch.loads)
	}
}

func TestItemWithoutTracksPlaysFallback(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackPath = "fallback.ogg"
	fx := newFixture(t, cfg, map[string]TrackList{"item-b": {}})
	ctx := context.Background()

	if err := fx.c.OnItemSelected(ctx, "item-b", true); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if st := fx.c.State(); st != StatePlayingFallback {
		t.Fatalf("expected playing_fallback, got %s", st)
	}
	if got := fx.ch.currentTrack(); got != "fallback.ogg" {
		t.Fatalf("expected the fallback track, got %s", got)
	}
	if fx.ambient.mutes != 1 {
		t.Fatalf("expected ambient muted, got %d mutes", fx.ambient.mutes)
	}

	// Pause then resume continues the same fallback instance.
	if err := fx.c.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if st := fx.c.State(); st != StatePausedFallback {
		t.Fatalf("expected paused_fallback, got %s", st)
	}
	if fx.ambient.unmutes != 1 {
		t.Fatalf("expected ambient restored on pause, got %d unmutes", fx.ambient.unmutes)
	}

	if err := fx.c.Resume(ctx); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if st := fx.c.State(); st != StatePlayingFallback {
		t.Fatalf("expected playing_fallback after resume, got %s", st)
	}
	if fx.ch.loads != 1 {
		t.Fatalf("in-place resume must not reload, loads=%d", fx.ch.loads)
	}
}

func TestFallbackPositionSurvivesItemPlayback(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackPath = "fallback.ogg"
	fx := newFixture(t, cfg, map[string]TrackList{
		"empty-1": {},
		"empty-2": {},
		"item-c":  {Paths: []string{"c1.ogg"}},
	})
	ctx := context.Background()

	if err := fx.c.OnItemSelected(ctx, "empty-1", true); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	fx.ch.setPos(42 * time.Second)
	if err := fx.c.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	// An item track plays in between; the channel instance is replaced.
	if err := fx.c.OnItemSelected(ctx, "item-c", true); err != nil {
		t.Fatalf("item selection failed: %v", err)
	}
	if got := fx.ch.currentTrack(); got != "c1.ogg" {
		t.Fatalf("expected item track, got %s", got)
	}

	// Back to an empty item: the fallback resumes from the paused point.
	if err := fx.c.OnItemSelected(ctx, "empty-2", true); err != nil {
		t.Fatalf("return to fallback failed: %v", err)
	}
	if fx.ch.seeks != 1 || fx.ch.seekTo != 42*time.Second {
		t.Fatalf("expected a seek to 42s, got %d seeks to %s", fx.ch.seeks, fx.ch.seekTo)
	}
}

func TestFallbackRestartPolicySkipsSeek(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackPath = "fallback.ogg"
	cfg.FallbackResume = config.FallbackResumeRestart
	fx := newFixture(t, cfg, map[string]TrackList{
		"empty-1": {},
		"empty-2": {},
		"item-c":  {Paths: []string{"c1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "empty-1", true)
	fx.ch.setPos(42 * time.Second)
	fx.c.Pause()
	fx.c.OnItemSelected(ctx, "item-c", true)
	fx.c.OnItemSelected(ctx, "empty-2", true)

	if fx.ch.seeks != 0 {
		t.Fatalf("restart policy must not seek, got %d seeks", fx.ch.seeks)
	}
}

func TestMissingTrackFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackPath = "fallback.ogg"
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-d": {Paths: []string{"gone.ogg"}},
	})
	fx.ch.loadErr["gone.ogg"] = fmt.Errorf("stat track: %w", os.ErrNotExist)

	err := fx.c.OnItemSelected(context.Background(), "item-d", true)
	if !errors.Is(err, ErrMissingTrack) {
		t.Fatalf("expected ErrMissingTrack, got %v", err)
	}
	if st := fx.c.State(); st != StatePlayingFallback {
		t.Fatalf("expected fallback after missing track, got %s", st)
	}
}

func TestLoadFailureWithoutFallbackGoesIdle(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-d": {Paths: []string{"bad.ogg"}},
	})
	fx.ch.loadErr["bad.ogg"] = errors.New("unsupported container")

	err := fx.c.OnItemSelected(context.Background(), "item-d", true)
	if !errors.Is(err, ErrLoadFailure) {
		t.Fatalf("expected ErrLoadFailure, got %v", err)
	}
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("expected idle, got %s", st)
	}
}

func TestTrackEndRotatesWithinItem(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-e": {Paths: []string{"e1.ogg", "e2.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-e", true)
	if got := fx.ch.currentTrack(); got != "e1.ogg" {
		t.Fatalf("expected first declared track, got %s", got)
	}

	fx.c.OnTrackEnded()
	if got := fx.ch.currentTrack(); got != "e2.ogg" {
		t.Fatalf("rotation on end should avoid an immediate repeat, got %s", got)
	}
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("expected playing_item after rotation, got %s", st)
	}
}

func TestTrackEndLoopsSingleTrack(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-f": {Paths: []string{"f1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-f", true)
	fx.c.OnTrackEnded()

	if got := fx.ch.currentTrack(); got != "f1.ogg" {
		t.Fatalf("single-track item should loop, got %s", got)
	}
	if fx.ch.loads != 2 {
		t.Fatalf("loop should reload the track, loads=%d", fx.ch.loads)
	}
}

func TestSkipFirstSelection(t *testing.T) {
	cfg := testConfig()
	cfg.SkipFirstSelection = true
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
		"item-b": {Paths: []string{"b1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("first selection should be skipped, got %s", st)
	}

	fx.c.OnItemSelected(ctx, "item-b", true)
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("second selection should play, got %s", st)
	}
}

func TestAwaitConfirmationDefersPlayback(t *testing.T) {
	cfg := testConfig()
	cfg.AwaitConfirmation = true
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("unconfirmed selection should stay idle, got %s", st)
	}

	if err := fx.c.Confirm(ctx); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("confirm should start the parked selection, got %s", st)
	}
	if got := fx.ch.currentTrack(); got != "a1.ogg" {
		t.Fatalf("expected parked track, got %s", got)
	}
}

func TestOverlayPausesAndResumes(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
		"item-b": {Paths: []string{"b1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)

	fx.c.OnOverlayStarted()
	if st := fx.c.State(); st != StatePausedItem {
		t.Fatalf("overlay should pause playback, got %s", st)
	}

	// Selections during the overlay are blocked.
	fx.c.OnItemSelected(ctx, "item-b", true)
	if got := fx.ch.currentTrack(); got != "a1.ogg" {
		t.Fatalf("overlay must block selections, now playing %s", got)
	}

	fx.c.OnOverlayEnded(ctx)
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("overlay end should resume, got %s", st)
	}
}

func TestStopTearsDownSession(t *testing.T) {
	cfg := testConfig()
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)
	if err := fx.c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	st := fx.c.Status()
	if st.State != StateIdle {
		t.Fatalf("expected idle after stop, got %s", st.State)
	}
	if st.SessionID != "" {
		t.Fatal("session should be torn down")
	}
	if fx.ambient.unmutes != 1 {
		t.Fatalf("expected ambient restored on stop, got %d unmutes", fx.ambient.unmutes)
	}

	// A late track-end event for the torn-down session is dropped.
	fx.c.OnTrackEnded()
	if fx.c.State() != StateIdle {
		t.Fatal("stale track end must not restart playback")
	}
}

func TestTimedFadeInLandsPlayingState(t *testing.T) {
	cfg := testConfig()
	cfg.FadeIn = 2 * time.Second
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)
	if st := fx.c.State(); st != StateFading {
		t.Fatalf("expected fading during fade-in, got %s", st)
	}

	fx.clock.advance(1 * time.Second)
	fx.c.tick()
	if v := fx.ch.Volume(); v < 0.2 || v > 0.3 {
		t.Fatalf("expected roughly quarter volume at halfway, got %v", v)
	}

	fx.clock.advance(1100 * time.Millisecond)
	fx.c.tick()
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("completed fade should land playing_item, got %s", st)
	}
	if fx.ch.Volume() != 1.0 {
		t.Fatalf("expected base volume at fade end, got %v", fx.ch.Volume())
	}
}

func TestSequentialCrossfade(t *testing.T) {
	cfg := testConfig()
	cfg.FadeIn = 1 * time.Second
	cfg.FadeOut = 1 * time.Second
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
		"item-b": {Paths: []string{"b1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true)
	fx.clock.advance(1100 * time.Millisecond)
	fx.c.tick()
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("setup: expected playing_item, got %s", st)
	}

	// New selection fades the old track out first. The new track loads
	// only after the fade-out lands: the crossfade is sequential.
	fx.c.OnItemSelected(ctx, "item-b", true)
	if got := fx.ch.currentTrack(); got != "a1.ogg" {
		t.Fatalf("old track should still be loaded mid-fade, got %s", got)
	}

	fx.clock.advance(500 * time.Millisecond)
	fx.c.tick()
	if v := fx.ch.Volume(); v < 0.7 || v > 0.8 {
		t.Fatalf("expected roughly 0.75 halfway through fade-out, got %v", v)
	}

	fx.clock.advance(600 * time.Millisecond)
	fx.c.tick()
	if got := fx.ch.currentTrack(); got != "b1.ogg" {
		t.Fatalf("fade-out completion should swap tracks, got %s", got)
	}
	if st := fx.c.State(); st != StateFading {
		t.Fatalf("fade-in should be in flight after the swap, got %s", st)
	}

	fx.clock.advance(1100 * time.Millisecond)
	fx.c.tick()
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("crossfade should land playing_item, got %s", st)
	}
}

func TestDisableStopsAndReenableRearms(t *testing.T) {
	cfg := testConfig()
	cfg.SkipFirstSelection = true
	fx := newFixture(t, cfg, map[string]TrackList{
		"item-a": {Paths: []string{"a1.ogg"}},
		"item-b": {Paths: []string{"b1.ogg"}},
	})
	ctx := context.Background()

	fx.c.OnItemSelected(ctx, "item-a", true) // skipped
	fx.c.OnItemSelected(ctx, "item-b", true)
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("setup: expected playing_item, got %s", st)
	}

	if err := fx.c.SetEnabled(false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("disable should tear down, got %s", st)
	}
	fx.c.OnItemSelected(ctx, "item-a", true)
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("disabled coordinator must ignore selections, got %s", st)
	}

	// Re-enabling is a mode re-entry: skip-first is armed again.
	if err := fx.c.SetEnabled(true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	fx.c.OnItemSelected(ctx, "item-a", true)
	if st := fx.c.State(); st != StateIdle {
		t.Fatalf("re-armed skip-first should ignore the first selection, got %s", st)
	}
	fx.c.OnItemSelected(ctx, "item-b", true)
	if st := fx.c.State(); st != StatePlayingItem {
		t.Fatalf("expected playing_item, got %s", st)
	}
}

func TestTransitionTableRejectsUnknownEdges(t *testing.T) {
	if isValidTransition(StateIdle, StatePausedItem) {
		t.Fatal("idle must not jump straight to paused")
	}
	if !isValidTransition(StateIdle, StateFading) {
		t.Fatal("idle to fading must be allowed")
	}
	if !isValidTransition(StateFading, StatePlayingFallback) {
		t.Fatal("fading to playing_fallback must be allowed")
	}
}
