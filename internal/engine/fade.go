package engine

import (
	"time"
)

// silentThreshold treats near-zero volumes as silence so completion tests
// never depend on exact float comparisons.
const silentThreshold = 0.01

type fadeDirection int

const (
	fadeNone fadeDirection = iota
	fadeIn
	fadeOut
)

func (d fadeDirection) String() string {
	switch d {
	case fadeIn:
		return "in"
	case fadeOut:
		return "out"
	default:
		return "none"
	}
}

// Fader drives wall-clock-based volume ramps on a single output. Progress is
// always derived from time elapsed since the fade started, never from tick
// counts, so a stalled scheduler cannot stretch a fade.
//
// Fader is not self-ticking and holds no lock: the coordinator serializes
// Tick against its event-driven calls.
type Fader struct {
	base      float64
	setVolume func(float64)
	now       func() time.Time

	direction  fadeDirection
	start      time.Time
	duration   time.Duration
	from       float64
	current    float64
	onComplete func()
}

// NewFader creates a fader that commands volume through setVolume.
// base is the full playback volume fades ramp to.
func NewFader(base float64, setVolume func(float64)) *Fader {
	return &Fader{
		base:      base,
		setVolume: setVolume,
		now:       time.Now,
		current:   base,
	}
}

// FadeIn ramps from silence to the base volume over d. Switching direction
// mid-fade re-homes elapsed time to now; a stale start timestamp is never
// reused.
func (f *Fader) FadeIn(d time.Duration) {
	f.direction = fadeIn
	f.start = f.now()
	f.duration = d
	f.onComplete = nil

	if d <= 0 {
		f.finish()
		return
	}
	f.command(0)
}

// FadeOut ramps from the current volume to silence over d, then fires
// onComplete exactly once. Restarting a fade-out in flight continues
// downward from the volume already commanded; it never snaps back to base.
func (f *Fader) FadeOut(d time.Duration, onComplete func()) {
	f.from = f.current
	f.direction = fadeOut
	f.start = f.now()
	f.duration = d
	f.onComplete = onComplete

	if d <= 0 {
		f.finish()
	}
}

// Cancel abandons any in-flight fade without firing its completion.
func (f *Fader) Cancel() {
	f.direction = fadeNone
	f.onComplete = nil
}

// Active reports whether a fade is in flight.
func (f *Fader) Active() bool {
	return f.direction != fadeNone
}

// FadingOut reports whether the in-flight fade is a fade-out.
func (f *Fader) FadingOut() bool {
	return f.direction == fadeOut
}

// Tick advances the fade from the current wall clock. Returns true when the
// fade completed on this tick.
func (f *Fader) Tick() bool {
	if f.direction == fadeNone {
		return false
	}

	p := f.progress()
	f.command(f.volumeAt(p))

	if p >= 1 {
		f.finish()
		return true
	}
	return false
}

// VolumeAt exposes the curve for a given progress.
func (f *Fader) VolumeAt(p float64) float64 {
	return f.volumeAt(p)
}

func (f *Fader) progress() float64 {
	if f.duration <= 0 {
		return 1
	}
	p := float64(f.now().Sub(f.start)) / float64(f.duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// The squared curves track logarithmic loudness perception: a fade-in
// becomes audible early relative to a linear ramp, and a fade-out finishes
// crisply instead of trailing off.
func (f *Fader) volumeAt(p float64) float64 {
	switch f.direction {
	case fadeIn:
		return f.base * p * p
	case fadeOut:
		return f.from * (1 - p*p)
	default:
		return f.base
	}
}

// finish forces the exact endpoint volume. Some channels do not reliably
// hold a commanded volume near the end of a ramp, so the endpoint is always
// written explicitly.
func (f *Fader) finish() {
	dir := f.direction
	done := f.onComplete

	f.direction = fadeNone
	f.onComplete = nil

	switch dir {
	case fadeIn:
		f.command(f.base)
	case fadeOut:
		f.command(0)
	}

	if done != nil {
		done()
	}
}

// command writes a volume and remembers it so a later fade can continue
// from where this one left off.
func (f *Fader) command(v float64) {
	f.current = v
	f.setVolume(v)
}

// silent reports whether v counts as silence.
func silent(v float64) bool {
	return v <= silentThreshold
}
