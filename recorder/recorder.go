package recorder

import (
	"sync/atomic"

	"github.com/gekko3d/shscull/cull"
	"github.com/gekko3d/shscull/jobs"
	"github.com/gekko3d/shscull/queryring"
	"github.com/gekko3d/shscull/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// Logger is the slice of the module's logging interface the recorder
// needs; *shscull.DefaultLogger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Options tunes the recorder independent of per-frame input.
type Options struct {
	// Workers bounds how many secondary recorders a batch is split
	// across. <= 0 selects jobs.DefaultWorkerCount().
	Workers int
	// MultithreadedRecording gates the secondary-batch path entirely;
	// off means every pass records inline on the primary.
	MultithreadedRecording bool
	// MinVisibleSamples is the query sample threshold an element must
	// reach to count as visible.
	MinVisibleSamples uint64
}

// DrawRecord is the host's per-object draw table entry; scene elements
// point into this table through their UserIndex.
type DrawRecord struct {
	Mesh      scene.MeshHandle
	Model     mgl32.Mat4
	BaseColor mgl32.Vec4
	Mode      uint32

	// World-space AABB used by the wire overlay.
	AABBMin mgl32.Vec3
	AABBMax mgl32.Vec3
}

// FrameInput is everything RunFrame needs for one frame. The scenes
// arrive already frustum-culled by their contexts; RunFrame applies the
// previous slot's query results, finalizes visibility, and records the
// frame.
type FrameInput struct {
	ViewScene     *scene.ElementSet
	ShadowScene   *scene.ElementSet
	ViewContext   *cull.Context
	ShadowContext *cull.Context

	Records []DrawRecord

	Camera        CameraUBO
	LightViewProj mgl32.Mat4

	EnableShadows bool
	// EnableOcclusion is the post-warmup decision: the caller clears it
	// for the configured number of frames after a camera move.
	EnableOcclusion bool
	ShowAABBOverlay bool
	Wireframe       bool

	// UnitCube is the mesh the AABB overlay scales and translates per
	// element; ignored unless ShowAABBOverlay is set.
	UnitCube scene.MeshHandle
}

// FrameStats is the per-frame snapshot exposed to the application.
type FrameStats struct {
	View   cull.Stats
	Shadow cull.Stats

	ViewQueries   int
	ShadowQueries int
	// InlineFallbacks counts secondary batches that downgraded to
	// inline recording this frame.
	InlineFallbacks int
}

// DepthClip maps NDC depth from [-1,1] into [0,1] so the shadow map's
// stored depth matches what the sampling shader reconstructs.
var DepthClip = mgl32.Translate3D(0, 0, 0.5).Mul4(mgl32.Scale3D(1, 1, 0.5))

type viewDraw struct {
	push DrawPush
	mesh scene.MeshHandle
}

type shadowDraw struct {
	push       ShadowPush
	mesh       scene.MeshHandle
	sceneIndex int
}

// Recorder owns the frame state machine: PrepareWork -> RecordShadow ->
// BarrierDepthToSample -> RecordDepthPrepass -> RecordViewQueries ->
// RecordMain -> End. One Recorder drives one window/backend.
type Recorder struct {
	backend Backend
	ring    *queryring.Ring
	pool    *jobs.Pool
	opts    Options
	log     Logger

	stats FrameStats

	viewDraws   []viewDraw
	shadowDraws []shadowDraw
}

// New wires a Recorder over backend, using ring for per-slot query
// bookkeeping and pool for secondary-batch sharding.
func New(backend Backend, ring *queryring.Ring, pool *jobs.Pool, opts Options, log Logger) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = jobs.DefaultWorkerCount()
	}
	if opts.MinVisibleSamples == 0 {
		opts.MinVisibleSamples = 1
	}
	return &Recorder{backend: backend, ring: ring, pool: pool, opts: opts, log: log}
}

// Stats returns the last completed frame's statistics.
func (r *Recorder) Stats() FrameStats { return r.stats }

// SetMultithreadedRecording flips the secondary-batch path at runtime;
// takes effect from the next frame.
func (r *Recorder) SetMultithreadedRecording(enabled bool) {
	r.opts.MultithreadedRecording = enabled
}

// RunFrame executes one frame of the state machine. Errors returned are
// fatal (device lost, unrecoverable resource failure); record and query
// failures are handled locally by downgrading to inline recording or
// keeping previous visibility history.
func (r *Recorder) RunFrame(in FrameInput) (FrameStats, error) {
	fi, err := r.backend.BeginFrame()
	if err != nil {
		return r.stats, err
	}
	slot := r.ring.Slot(fi.FrameIndex)
	slot.MarkFenceSignaled()

	r.stats = FrameStats{}

	// Results produced when this slot was last submitted (frame t-F)
	// are complete now that its fence has signaled.
	prevViewQueries := r.consumeQueryResults(slot, in)

	applyOcclusion := in.EnableOcclusion && fi.HasDepthAttachment
	in.ViewContext.FinalizeVisibility(in.ViewScene, applyOcclusion)
	in.ViewContext.ApplyFrustumFallbackIfNeeded(in.ViewScene, in.EnableOcclusion, fi.HasDepthAttachment, prevViewQueries)
	in.ShadowContext.FinalizeVisibility(in.ShadowScene, applyOcclusion)

	if err := slot.Reset(in.ViewScene.Size(), in.ShadowScene.Size()); err != nil {
		return r.stats, err
	}
	if err := r.backend.ResetQueryPools(slot.Index(), in.ViewScene.Size(), in.ShadowScene.Size()); err != nil {
		return r.stats, err
	}
	if err := r.backend.UpdateCamera(slot.Index(), in.Camera); err != nil {
		return r.stats, err
	}

	r.prepareWork(in)

	if in.EnableShadows {
		if err := r.recordShadowPass(fi, slot, in); err != nil {
			return r.stats, err
		}
	}
	if err := r.recordMainPass(fi, slot, in, applyOcclusion); err != nil {
		return r.stats, err
	}

	if err := r.backend.EndFrame(fi); err != nil {
		return r.stats, err
	}
	slot.MarkSubmitted()

	r.stats.View = in.ViewContext.Stats()
	r.stats.Shadow = in.ShadowContext.Stats()
	r.stats.ViewQueries = slot.ViewQueryCount()
	r.stats.ShadowQueries = slot.ShadowQueryCount()
	return r.stats, nil
}

// consumeQueryResults reads the slot's previous results into the two
// contexts' histories. Returns how many view queries the slot had
// issued, which feeds the frustum-fallback predicate. A failed fetch
// keeps previous history unchanged.
func (r *Recorder) consumeQueryResults(slot *queryring.Slot, in FrameInput) int {
	prevViewQueries := slot.ViewQueryCount()
	if !in.EnableOcclusion {
		return prevViewQueries
	}

	if n := slot.ViewQueryCount(); n > 0 {
		samples, err := r.backend.CollectViewQueryResults(slot.Index(), n)
		if err != nil {
			r.log.Warnf("view query fetch failed on slot %d, keeping history: %v", slot.Index(), err)
		} else if indices, vals, cerr := slot.ConsumeViewResults(samples); cerr != nil {
			r.log.Warnf("view query consume failed on slot %d: %v", slot.Index(), cerr)
		} else {
			in.ViewContext.ApplyOcclusionQuerySamples(in.ViewScene, indices, vals, r.opts.MinVisibleSamples)
		}
	}
	if n := slot.ShadowQueryCount(); n > 0 {
		samples, err := r.backend.CollectShadowQueryResults(slot.Index(), n)
		if err != nil {
			r.log.Warnf("shadow query fetch failed on slot %d, keeping history: %v", slot.Index(), err)
		} else if indices, vals, cerr := slot.ConsumeShadowResults(samples); cerr != nil {
			r.log.Warnf("shadow query consume failed on slot %d: %v", slot.Index(), cerr)
		} else {
			in.ShadowContext.ApplyOcclusionQuerySamples(in.ShadowScene, indices, vals, r.opts.MinVisibleSamples)
		}
	}
	return prevViewQueries
}

// prepareWork builds the frame's draw lists from the finalized visible
// indices.
func (r *Recorder) prepareWork(in FrameInput) {
	r.viewDraws = r.viewDraws[:0]
	r.shadowDraws = r.shadowDraws[:0]

	viewElems := in.ViewScene.Elements()
	for _, idx := range in.ViewContext.VisibleIndices() {
		e := &viewElems[idx]
		if e.UserIndex < 0 || e.UserIndex >= len(in.Records) {
			continue
		}
		rec := &in.Records[e.UserIndex]
		r.viewDraws = append(r.viewDraws, viewDraw{
			push: DrawPush{Model: rec.Model, BaseColor: rec.BaseColor, ModePad: [4]uint32{rec.Mode}},
			mesh: rec.Mesh,
		})
	}

	lightVP := DepthClip.Mul4(in.LightViewProj)
	shadowElems := in.ShadowScene.Elements()
	for _, idx := range in.ShadowContext.VisibleIndices() {
		e := &shadowElems[idx]
		if !e.CastsShadow || e.UserIndex < 0 || e.UserIndex >= len(in.Records) {
			continue
		}
		rec := &in.Records[e.UserIndex]
		r.shadowDraws = append(r.shadowDraws, shadowDraw{
			push:       ShadowPush{LightMVP: lightVP.Mul4(rec.Model)},
			mesh:       rec.Mesh,
			sceneIndex: idx,
		})
	}
}

func (r *Recorder) recordShadowPass(fi FrameInfo, slot *queryring.Slot, in FrameInput) error {
	pass, err := r.backend.BeginShadowPass(fi)
	if err != nil {
		return err
	}

	pass.SetPipeline(ShadowPipelineDepth)
	for i := range r.shadowDraws {
		pass.DrawShadow(r.shadowDraws[i].push, r.shadowDraws[i].mesh)
	}

	// Query proxies re-rasterize the same geometry with depth writes
	// off, one query per shadow draw, up to the pool capacity.
	if in.EnableOcclusion && fi.HasDepthAttachment && len(r.shadowDraws) > 0 {
		pass.SetPipeline(ShadowPipelineOccQuery)
		for i := range r.shadowDraws {
			qi, ok := slot.AppendShadowQuery(r.shadowDraws[i].sceneIndex)
			if !ok {
				break
			}
			pass.BeginQuery(uint32(qi))
			pass.DrawShadow(r.shadowDraws[i].push, r.shadowDraws[i].mesh)
			pass.EndQuery()
		}
	}

	if err := r.backend.EndShadowPass(fi); err != nil {
		return err
	}
	r.backend.ShadowDepthBarrier(fi)
	return nil
}

func (r *Recorder) recordMainPass(fi FrameInfo, slot *queryring.Slot, in FrameInput, applyOcclusion bool) error {
	primary, err := r.backend.BeginMainPass(fi)
	if err != nil {
		return err
	}

	// Depth prepass, query draws, main draws execute in that order on
	// the primary; the first and last shard across the worker pool when
	// the backend can record them as secondary batches.
	r.recordBatchOrInline(fi, primary, PassDepthPrepass, PipelineDepthPrepass, r.viewDraws)

	if applyOcclusion {
		primary.SetPipeline(PipelineOccQuery)
		viewElems := in.ViewScene.Elements()
		for _, idx := range in.ViewContext.VisibleIndices() {
			e := &viewElems[idx]
			if e.UserIndex < 0 || e.UserIndex >= len(in.Records) {
				continue
			}
			qi, ok := slot.AppendViewQuery(idx)
			if !ok {
				break
			}
			rec := &in.Records[e.UserIndex]
			primary.BeginQuery(uint32(qi))
			primary.Draw(DrawPush{Model: rec.Model, BaseColor: rec.BaseColor}, rec.Mesh)
			primary.EndQuery()
		}
	}

	mainPipeline := PipelineTri
	if in.Wireframe {
		mainPipeline = PipelineLine
	}
	r.recordBatchOrInline(fi, primary, PassMain, mainPipeline, r.viewDraws)

	if in.ShowAABBOverlay && !in.UnitCube.Nil() {
		r.recordOverlay(primary, in)
	}

	return r.backend.EndMainPass(fi)
}

// recordBatchOrInline tries the sharded secondary path and falls back
// to inline recording on the primary when sharding is off, unsupported,
// or any recorder in the batch fails.
func (r *Recorder) recordBatchOrInline(fi FrameInfo, primary PassRecorder, pass PassKind, pipeline PipelineKind, draws []viewDraw) {
	if len(draws) == 0 {
		return
	}
	if recs, ok := r.recordSecondaryBatch(fi, pass, pipeline, draws); ok {
		if err := r.backend.ExecuteSecondaries(fi, recs); err == nil {
			return
		}
		r.log.Warnf("executing secondary batch for pass %d failed, recording inline", pass)
		r.stats.InlineFallbacks++
	}

	primary.SetPipeline(pipeline)
	for i := range draws {
		primary.Draw(draws[i].push, draws[i].mesh)
	}
}

func (r *Recorder) recordSecondaryBatch(fi FrameInfo, pass PassKind, pipeline PipelineKind, draws []viewDraw) ([]PassRecorder, bool) {
	if !r.opts.MultithreadedRecording || r.pool == nil || !r.backend.SupportsSecondary(pass) {
		return nil, false
	}

	workers := r.opts.Workers
	if workers > len(draws) {
		workers = len(draws)
	}
	if workers < 1 {
		workers = 1
	}

	recs := make([]PassRecorder, workers)
	for w := 0; w < workers; w++ {
		rec, err := r.backend.NewSecondaryRecorder(fi, pass, w)
		if err != nil {
			r.log.Warnf("secondary recorder alloc failed for pass %d worker %d: %v", pass, w, err)
			r.stats.InlineFallbacks++
			return nil, false
		}
		recs[w] = rec
	}

	var failed atomic.Bool
	chunk := (len(draws) + workers - 1) / workers
	g := jobs.NewGroup(r.pool)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(draws) {
			end = len(draws)
		}
		rec := recs[w]
		g.Go(func() {
			rec.SetPipeline(pipeline)
			for i := start; i < end; i++ {
				rec.Draw(draws[i].push, draws[i].mesh)
			}
			if err := rec.Finish(); err != nil {
				failed.Store(true)
			}
		})
	}
	g.Wait()

	if failed.Load() {
		r.log.Warnf("secondary batch for pass %d failed, recording inline", pass)
		r.stats.InlineFallbacks++
		return nil, false
	}
	return recs, true
}

// recordOverlay draws the unit cube scaled and translated to each
// visible element's world AABB with the line pipeline.
func (r *Recorder) recordOverlay(primary PassRecorder, in FrameInput) {
	primary.SetPipeline(PipelineLine)
	viewElems := in.ViewScene.Elements()
	for _, idx := range in.ViewContext.VisibleIndices() {
		e := &viewElems[idx]
		if e.UserIndex < 0 || e.UserIndex >= len(in.Records) {
			continue
		}
		rec := &in.Records[e.UserIndex]
		size := rec.AABBMax.Sub(rec.AABBMin)
		center := rec.AABBMin.Add(rec.AABBMax).Mul(0.5)
		model := mgl32.Translate3D(center.X(), center.Y(), center.Z()).
			Mul4(mgl32.Scale3D(size.X(), size.Y(), size.Z()))
		primary.Draw(DrawPush{Model: model, BaseColor: mgl32.Vec4{1, 1, 0, 1}, ModePad: [4]uint32{1}}, in.UnitCube)
	}
}
