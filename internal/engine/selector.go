package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// TrackList is the ordered set of candidate track paths for an item, with
// an optional designated primary.
type TrackList struct {
	Paths   []string
	Primary string
}

// Catalog resolves an item id to its track list. Read-only to the engine.
type Catalog interface {
	TracksFor(ctx context.Context, itemID string) (TrackList, error)
}

// rotation retries are bounded so a single-alternative item terminates
// instead of spinning on the previous-path exclusion.
const maxRotationRetries = 10

// Selector picks a track path for an item. The primary track of an item is
// served exactly once per session; after that, rotation (when enabled) draws
// uniformly among candidates while avoiding an immediate repeat.
type Selector struct {
	mu            sync.Mutex
	rng           *rand.Rand
	playedPrimary map[string]bool
}

// NewSelector creates a selector with its own random source.
func NewSelector() *Selector {
	return &Selector{
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		playedPrimary: make(map[string]bool),
	}
}

// Select returns the path to play for itemID, or "" when the item has no
// tracks. previousPath is excluded from rotation draws when an alternative
// exists.
func (s *Selector) Select(itemID string, tracks TrackList, previousPath string, rotate bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tracks.Paths) == 0 {
		if tracks.Primary == "" {
			return ""
		}
		return tracks.Primary
	}

	if tracks.Primary != "" && !s.playedPrimary[itemID] {
		s.playedPrimary[itemID] = true
		return tracks.Primary
	}

	if !rotate {
		return tracks.Paths[0]
	}

	pick := tracks.Paths[s.rng.Intn(len(tracks.Paths))]
	for i := 0; i < maxRotationRetries && pick == previousPath && len(tracks.Paths) > 1; i++ {
		pick = tracks.Paths[s.rng.Intn(len(tracks.Paths))]
	}
	if pick == previousPath {
		// Retries exhausted. Fall back to a scan so an available
		// alternative is never passed over.
		for _, p := range tracks.Paths {
			if p != previousPath {
				return p
			}
		}
	}
	return pick
}

// Reset forgets which primaries were served, for a fresh session.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playedPrimary = make(map[string]bool)
}
