// Package cull implements the per-view scene culling context: the
// frustum pass, occlusion query sample application, and the
// finalization that produces a frame's visible-element list.
package cull

import (
	"github.com/gekko3d/shscull/cell"
	"github.com/gekko3d/shscull/classify"
	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/scene"
	"github.com/gekko3d/shscull/visibility"
)

// Stats is the per-frame diagnostic snapshot. The normalizer keeps
// occluded/culled derived rather than separately accumulated, so they
// can never drift out of range.
type Stats struct {
	SceneCount          int
	FrustumVisibleCount int
	VisibleCount        int
	OccludedCount       int
	CulledCount         int
}

// Normalize enforces visible+occluded <= frustum_visible <= scene_count
// and culled = scene - visible >= 0.
func (s *Stats) Normalize() {
	s.OccludedCount = s.FrustumVisibleCount - s.VisibleCount
	if s.OccludedCount < 0 {
		s.OccludedCount = 0
	}
	s.CulledCount = s.SceneCount - s.VisibleCount
	if s.CulledCount < 0 {
		s.CulledCount = 0
	}
}

// Request tunes a single RunFrustum call: the classification tolerance
// and whether the cheap bounding-sphere broad-phase is allowed to
// short-circuit an exact test.
type Request struct {
	Tolerance   classify.Tolerance
	UseBroadPhase bool
}

// DefaultRequest matches classify.DefaultTolerance with the broad-phase
// pre-test enabled, the configuration every call site in the demo uses.
var DefaultRequest = Request{Tolerance: classify.DefaultTolerance, UseBroadPhase: true}

// Context owns one view's visibility history and orchestrates the
// frustum -> occlusion -> finalization sequence. One Context exists per
// culled view (the main camera and, separately, the directional light
// camera for shadows).
type Context struct {
	history *visibility.History

	frustumVisible []int
	visible        []int
	stats          Stats
}

// NewContext returns a Context with a fresh visibility history under
// historyCfg.
func NewContext(historyCfg visibility.Config) *Context {
	return &Context{history: visibility.NewHistory(historyCfg)}
}

// History exposes the underlying hysteresis state, mostly for tests and
// diagnostics; callers should prefer the Context's own methods for the
// documented per-frame sequence.
func (c *Context) History() *visibility.History { return c.history }

// FrustumVisibleIndices returns the dense-array indices marked
// frustum-visible by the most recent RunFrustum call.
func (c *Context) FrustumVisibleIndices() []int { return c.frustumVisible }

// VisibleIndices returns the dense-array indices in the final visible
// list produced by the most recent FinalizeVisibility or
// ApplyFrustumFallbackIfNeeded call.
func (c *Context) VisibleIndices() []int { return c.visible }

// Stats returns the last-computed CullingStats snapshot.
func (c *Context) Stats() Stats { return c.stats }

// RunFrustum classifies every element against frustum, marking
// FrustumVisible (always false for disabled elements), appending
// frustum-visible indices to the internal list. Any element not
// frustum-visible this frame has its Occluded flag cleared and its
// history reset (unconditionally while absent, not merely the first
// frame it left), and the history is then pruned to the ids present in
// scene this frame.
func (c *Context) RunFrustum(s *scene.ElementSet, frustum cell.ConvexCell, req Request) {
	elems := s.Elements()
	c.frustumVisible = c.frustumVisible[:0]

	for i := range elems {
		e := &elems[i]
		e.Visible = false

		frustumVisible := e.Enabled && classifyVisible(&e.Shape, frustum, req)
		e.FrustumVisible = frustumVisible

		if !frustumVisible {
			e.Occluded = false
			c.history.Reset(e.ID)
			continue
		}
		c.frustumVisible = append(c.frustumVisible, i)
	}

	c.history.PruneToIDs(s.IDs())

	c.stats = Stats{SceneCount: s.Size(), FrustumVisibleCount: len(c.frustumVisible)}
	c.stats.Normalize()
}

// classifyVisible runs the classifier (optionally broad-phased first,
// per req.UseBroadPhase) and reports whether the result is anything
// other than Outside -- both Inside and Intersecting count as
// frustum-visible.
func classifyVisible(s *geom.Shape, frustum cell.ConvexCell, req Request) bool {
	var result classify.Result
	if req.UseBroadPhase {
		result = classify.ClassifyWithBroadPhase(s, frustum, req.Tolerance)
	} else {
		result = classify.Classify(s, frustum, req.Tolerance)
	}
	return result != classify.Outside
}

// ApplyOcclusionQuerySamples feeds this frame's (or a prior frame's,
// once its slot's fence has signaled) occlusion query results back into
// the visibility history: indices[k] is a dense-array index into scene
// and samples[k] is the query's passed-sample count for that index.
// The committed occluded flag is mirrored back onto the element.
func (c *Context) ApplyOcclusionQuerySamples(s *scene.ElementSet, indices []int, samples []uint64, minVisibleSamples uint64) {
	elems := s.Elements()
	n := len(indices)
	if len(samples) < n {
		n = len(samples)
	}
	for k := 0; k < n; k++ {
		idx := indices[k]
		if idx < 0 || idx >= len(elems) {
			continue
		}
		e := &elems[idx]
		visible := samples[k] >= minVisibleSamples
		e.Occluded = c.history.Update(e.ID, visible)
	}
}

// FinalizeVisibility builds the visible-indices list from the
// frustum-visible list: when applyOcclusion is false every
// frustum-visible element is visible; otherwise elements the history
// reports occluded are excluded. Element.Visible is mirrored for every
// index in the result.
func (c *Context) FinalizeVisibility(s *scene.ElementSet, applyOcclusion bool) {
	elems := s.Elements()
	c.visible = c.visible[:0]

	for _, idx := range c.frustumVisible {
		e := &elems[idx]
		if applyOcclusion && c.history.Occluded(e.ID) {
			continue
		}
		e.Visible = true
		c.visible = append(c.visible, idx)
	}

	c.stats.SceneCount = s.Size()
	c.stats.FrustumVisibleCount = len(c.frustumVisible)
	c.stats.VisibleCount = len(c.visible)
	c.stats.Normalize()
}

// ApplyFrustumFallbackIfNeeded is the last-resort fallback: when
// occlusion is enabled and a depth attachment exists but
// no queries produced samples this frame (queryCount == 0) and nothing
// survived finalization, the frustum-visible list is used verbatim
// instead, re-mirroring Element.Visible. Idempotent: calling it again
// after it already fired (visible == frustumVisible, or frustumVisible
// is empty) is a no-op since the trigger condition no longer holds.
func (c *Context) ApplyFrustumFallbackIfNeeded(s *scene.ElementSet, enableOcclusion, hasDepthAttachment bool, queryCount int) bool {
	if !shouldFallback(enableOcclusion, hasDepthAttachment, queryCount, len(c.frustumVisible), len(c.visible)) {
		return false
	}

	elems := s.Elements()
	for i := range elems {
		elems[i].Visible = false
	}
	c.visible = append(c.visible[:0], c.frustumVisible...)
	for _, idx := range c.visible {
		elems[idx].Visible = true
	}

	c.stats.SceneCount = s.Size()
	c.stats.FrustumVisibleCount = len(c.frustumVisible)
	c.stats.VisibleCount = len(c.visible)
	c.stats.Normalize()
	return true
}

// shouldFallback is the documented fallback predicate: occlusion is on,
// the pass has a depth attachment to sample from, something survived
// the frustum pass, no query produced a sample, and nothing survived
// occlusion. All five conditions must hold.
func shouldFallback(enableOcclusion, hasDepthAttachment bool, queryCount, frustumVisibleCount, visibleCount int) bool {
	return enableOcclusion && hasDepthAttachment &&
		frustumVisibleCount > 0 && queryCount == 0 && visibleCount == 0
}
