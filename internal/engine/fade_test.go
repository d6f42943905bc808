package engine

import (
	"math"
	"testing"
	"time"
)

// fakeClock lets tests step wall-clock time explicitly.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestFader(base float64) (*Fader, *fakeClock, *float64) {
	clock := newFakeClock()
	var vol float64
	f := NewFader(base, func(v float64) { vol = v })
	f.now = clock.now
	return f, clock, &vol
}

func TestFadeInHalfwayVolume(t *testing.T) {
	f, clock, vol := newTestFader(1.0)

	f.FadeIn(2 * time.Second)
	if *vol != 0 {
		t.Fatalf("fade-in should start silent, got %v", *vol)
	}

	clock.advance(1 * time.Second)
	f.Tick()

	if math.Abs(*vol-0.25) > 0.001 {
		t.Fatalf("expected 0.25 at halfway, got %v", *vol)
	}
}

func TestFadeOutHalfwayVolume(t *testing.T) {
	f, clock, vol := newTestFader(1.0)

	f.FadeOut(2*time.Second, nil)
	clock.advance(1 * time.Second)
	f.Tick()

	if math.Abs(*vol-0.75) > 0.001 {
		t.Fatalf("expected 0.75 at halfway, got %v", *vol)
	}
}

func TestFadeRespectsBaseVolume(t *testing.T) {
	f, clock, vol := newTestFader(0.6)

	f.FadeIn(2 * time.Second)
	clock.advance(1 * time.Second)
	f.Tick()

	if math.Abs(*vol-0.15) > 0.001 {
		t.Fatalf("expected base-scaled 0.15 at halfway, got %v", *vol)
	}

	clock.advance(1 * time.Second)
	f.Tick()
	if *vol != 0.6 {
		t.Fatalf("expected exact base endpoint 0.6, got %v", *vol)
	}
}

func TestFadeOutEndsSilentAndFiresOnce(t *testing.T) {
	f, clock, vol := newTestFader(1.0)

	fired := 0
	f.FadeOut(1*time.Second, func() { fired++ })

	clock.advance(600 * time.Millisecond)
	if done := f.Tick(); done {
		t.Fatal("fade should not complete at 60%")
	}

	clock.advance(600 * time.Millisecond)
	if done := f.Tick(); !done {
		t.Fatal("fade should complete past the duration")
	}
	if *vol != 0 {
		t.Fatalf("expected exact zero endpoint, got %v", *vol)
	}
	if fired != 1 {
		t.Fatalf("completion should fire exactly once, fired %d times", fired)
	}

	// Further ticks are no-ops.
	clock.advance(time.Second)
	if f.Tick() {
		t.Fatal("completed fader should stop ticking")
	}
	if fired != 1 {
		t.Fatalf("completion re-fired, count %d", fired)
	}
}

func TestFadeOutRestartContinuesFromCurrentVolume(t *testing.T) {
	f, clock, vol := newTestFader(1.0)

	f.FadeOut(2*time.Second, func() { t.Fatal("superseded completion must not fire") })
	clock.advance(1 * time.Second)
	f.Tick()
	if math.Abs(*vol-0.75) > 0.001 {
		t.Fatalf("expected 0.75 at halfway, got %v", *vol)
	}

	// A reselection mid-fade restarts the fade-out. Volume must keep
	// falling from where it is, never jump back toward base.
	completed := false
	f.FadeOut(2*time.Second, func() { completed = true })
	clock.advance(50 * time.Millisecond)
	f.Tick()
	if *vol > 0.75 {
		t.Fatalf("restarted fade-out commanded volume up to %v", *vol)
	}

	clock.advance(2 * time.Second)
	if done := f.Tick(); !done {
		t.Fatal("restarted fade-out should complete past its duration")
	}
	if *vol != 0 {
		t.Fatalf("expected exact zero endpoint, got %v", *vol)
	}
	if !completed {
		t.Fatal("replacement completion should fire")
	}
}

func TestDirectionSwitchRehomesStart(t *testing.T) {
	f, clock, vol := newTestFader(1.0)

	f.FadeOut(2*time.Second, func() { t.Fatal("superseded completion must not fire") })
	clock.advance(1 * time.Second)
	f.Tick()

	// Redirect mid-fade. Elapsed time must restart from now, so one second
	// later the fade-in is at its halfway point, not finished.
	f.FadeIn(2 * time.Second)
	clock.advance(1 * time.Second)
	if done := f.Tick(); done {
		t.Fatal("re-homed fade-in must not already be complete")
	}
	if math.Abs(*vol-0.25) > 0.001 {
		t.Fatalf("expected 0.25 one second into re-homed fade-in, got %v", *vol)
	}
}

func TestCancelSuppressesCompletion(t *testing.T) {
	f, clock, _ := newTestFader(1.0)

	f.FadeOut(time.Second, func() { t.Fatal("cancelled completion must not fire") })
	f.Cancel()

	if f.Active() {
		t.Fatal("cancelled fader should be inactive")
	}
	clock.advance(2 * time.Second)
	if f.Tick() {
		t.Fatal("cancelled fader should not tick to completion")
	}
}

func TestZeroDurationFadeCompletesImmediately(t *testing.T) {
	f, _, vol := newTestFader(0.8)

	fired := false
	f.FadeOut(0, func() { fired = true })
	if !fired {
		t.Fatal("zero-duration fade-out should complete synchronously")
	}
	if *vol != 0 {
		t.Fatalf("expected silence, got %v", *vol)
	}

	f.FadeIn(0)
	if *vol != 0.8 {
		t.Fatalf("expected base volume, got %v", *vol)
	}
	if f.Active() {
		t.Fatal("zero-duration fade should leave fader inactive")
	}
}

func TestSilentThreshold(t *testing.T) {
	if !silent(0.009) {
		t.Fatal("0.009 should count as silence")
	}
	if silent(0.02) {
		t.Fatal("0.02 should not count as silence")
	}
}
