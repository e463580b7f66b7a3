// Package visibility implements the per-stable-id occlusion hysteresis
// state machine: an element must be reported occluded (or visible) for
// a configurable number of consecutive frames before its committed
// `occluded` flag flips, absorbing single-frame flicker from noisy
// occlusion query samples.
package visibility

import "github.com/gekko3d/shscull/scene"

// Config tunes the hysteresis thresholds.
type Config struct {
	// HideConfirmFrames is how many consecutive "not visible" updates
	// are required before the committed flag becomes occluded.
	HideConfirmFrames int
	// ShowConfirmFrames is how many consecutive "visible" updates are
	// required before the committed flag clears.
	ShowConfirmFrames int
}

// DefaultConfig hides after 3 consecutive misses and re-shows after 2
// consecutive hits.
var DefaultConfig = Config{HideConfirmFrames: 3, ShowConfirmFrames: 2}

// entry is the per-element hysteresis state. Streaks saturate at 255
// per the data model.
type entry struct {
	occludedStreak uint8
	visibleStreak  uint8
	occluded       bool
}

// History tracks hysteresis state for every scene element keyed by its
// StableID, so churn in the dense ElementSet backing array doesn't
// disturb per-object history.
type History struct {
	cfg     Config
	entries map[scene.StableID]*entry
}

// NewHistory creates an empty history under cfg.
func NewHistory(cfg Config) *History {
	return &History{cfg: cfg, entries: make(map[scene.StableID]*entry)}
}

func saturatingInc(v uint8) uint8 {
	if v >= 255 {
		return 255
	}
	return v + 1
}

// Update feeds this frame's raw query_visible sample for id (entries are
// created lazily, starting not-occluded) and returns the committed
// occluded flag after applying the state machine:
//
//	true:  occluded_streak := 0; visible_streak := min(255,v+1);
//	       if show_confirm_frames == 0 or visible_streak >= show_confirm_frames
//	       then occluded := false.
//	false: visible_streak := 0; occluded_streak := min(255,o+1);
//	       if hide_confirm_frames == 0 or occluded_streak >= hide_confirm_frames
//	       then occluded := true.
func (h *History) Update(id scene.StableID, queryVisible bool) bool {
	e, ok := h.entries[id]
	if !ok {
		e = &entry{occluded: false}
		h.entries[id] = e
	}

	if queryVisible {
		e.occludedStreak = 0
		e.visibleStreak = saturatingInc(e.visibleStreak)
		if h.cfg.ShowConfirmFrames == 0 || int(e.visibleStreak) >= h.cfg.ShowConfirmFrames {
			e.occluded = false
		}
	} else {
		e.visibleStreak = 0
		e.occludedStreak = saturatingInc(e.occludedStreak)
		if h.cfg.HideConfirmFrames == 0 || int(e.occludedStreak) >= h.cfg.HideConfirmFrames {
			e.occluded = true
		}
	}
	return e.occluded
}

// Occluded reports the last committed flag for id without feeding a new
// sample; unknown ids are reported not-occluded.
func (h *History) Occluded(id scene.StableID) bool {
	e, ok := h.entries[id]
	if !ok {
		return false
	}
	return e.occluded
}

// Reset clears the streaks and committed flag for a single id, used
// while a scene element is outside the frustum so that it comes back
// with no history.
func (h *History) Reset(id scene.StableID) {
	delete(h.entries, id)
}

// ResetAll clears every tracked id's history, used for a hard scene cut
// (e.g. camera teleport) that invalidates accumulated evidence.
func (h *History) ResetAll() {
	h.entries = make(map[scene.StableID]*entry)
}

// PruneToIDs removes entries whose id is not in active.
func (h *History) PruneToIDs(active []scene.StableID) {
	keep := make(map[scene.StableID]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}
	for id := range h.entries {
		if _, ok := keep[id]; !ok {
			delete(h.entries, id)
		}
	}
}

// Len reports the number of tracked entries, mostly for tests/metrics.
func (h *History) Len() int { return len(h.entries) }
