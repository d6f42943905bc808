package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Decision is the outcome of filtering a raw selection event.
type Decision string

const (
	// DecisionPlay allows the selection through to the coordinator.
	DecisionPlay Decision = "play"

	// DecisionIgnore drops the event.
	DecisionIgnore Decision = "ignore"

	// DecisionWait defers the selection until an explicit confirmation.
	DecisionWait Decision = "wait"
)

// Gate filters raw selection events into allowed actions. It owns the
// one-shot policy flags explicitly instead of leaving them as free-floating
// globals; each flag is consumed inside Decide under the gate's lock.
type Gate struct {
	logger zerolog.Logger

	mu            sync.Mutex
	enabled       bool
	skipFirst     bool
	awaitConfirm  bool
	confirmed     bool
	overlayActive bool
	lastItemID    string

	// retained so Rearm can restore the one-shot flags on mode re-entry
	skipFirstPolicy    bool
	awaitConfirmPolicy bool
}

// NewGate creates a gate with the given policies armed.
func NewGate(enabled, skipFirst, awaitConfirm bool, logger zerolog.Logger) *Gate {
	return &Gate{
		logger:             logger.With().Str("component", "selection-gate").Logger(),
		enabled:            enabled,
		skipFirst:          skipFirst,
		awaitConfirm:       awaitConfirm,
		skipFirstPolicy:    skipFirst,
		awaitConfirmPolicy: awaitConfirm,
	}
}

// Decide evaluates a selection event for itemID. isNew reports whether the
// host considers this a change of selection. The skip-first flag is cleared
// on the first decision regardless of outcome and never re-triggers without
// Rearm.
func (g *Gate) Decide(itemID string, isNew bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return DecisionIgnore
	}
	if g.overlayActive {
		g.logger.Debug().Str("item_id", itemID).Msg("overlay active, ignoring selection")
		return DecisionIgnore
	}

	if g.skipFirst {
		g.skipFirst = false
		g.lastItemID = itemID
		g.logger.Debug().Str("item_id", itemID).Msg("skipping first selection")
		return DecisionIgnore
	}

	// Redundant reselection of the current item never restarts a fade.
	if !isNew || itemID == g.lastItemID {
		return DecisionIgnore
	}

	g.lastItemID = itemID

	if g.awaitConfirm && !g.confirmed {
		return DecisionWait
	}
	return DecisionPlay
}

// Confirm satisfies the await-confirmation policy for the rest of the
// session. Returns true on the first call that actually unlocked playback.
func (g *Gate) Confirm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.awaitConfirm || g.confirmed {
		return false
	}
	g.confirmed = true
	return true
}

// SetOverlay flags an active ambient overlay. Clearing the overlay also
// clears the last-item memory so the next selection of the same item is
// re-evaluated as fresh.
func (g *Gate) SetOverlay(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.overlayActive = active
	if !active {
		g.lastItemID = ""
	}
}

// SetEnabled toggles the whole subsystem on or off at the gate.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Enabled reports whether selections pass the gate at all.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Rearm restores the one-shot flags for a fresh activation cycle. This is
// the only way a consumed skip-first or confirmation flag comes back.
func (g *Gate) Rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.skipFirst = g.skipFirstPolicy
	g.awaitConfirm = g.awaitConfirmPolicy
	g.confirmed = false
	g.lastItemID = ""
	g.overlayActive = false
}
