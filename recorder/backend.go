// Package recorder drives the per-frame GPU work around shadows and
// occlusion: the shadow pass, the depth prepass, per-draw occlusion
// queries and the main draws, sharded across a worker pool into
// secondary batches where the backend supports it. The graphics API
// object layer itself stays behind the Backend interface; the package
// only specifies how work is scheduled against it.
package recorder

import (
	"github.com/gekko3d/shscull/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// PassKind names the recording passes of a frame, in the order the
// primary buffer executes them.
type PassKind uint8

const (
	PassShadow PassKind = iota
	PassDepthPrepass
	PassViewQueries
	PassMain
)

// PipelineKind selects one of the fixed pipeline variants; all draw
// pipelines share the single DrawPush push-constant layout and the two
// shadow pipelines share ShadowPush.
type PipelineKind uint8

const (
	// PipelineDepthPrepass fills back-culled depth, no color.
	PipelineDepthPrepass PipelineKind = iota
	// PipelineOccQuery rasterizes with depth test only, culling
	// disabled, no color and no depth writes; used for query proxies.
	PipelineOccQuery
	// PipelineTri is the lit forward pipeline with the shadow-map
	// descriptor bound.
	PipelineTri
	// PipelineLine is the wireframe overlay, no depth test or write.
	PipelineLine
	// ShadowPipelineDepth writes the shadow map.
	ShadowPipelineDepth
	// ShadowPipelineOccQuery is the shadow-pass query proxy, no depth
	// write.
	ShadowPipelineOccQuery
)

// DrawPush is the per-draw push-constant block of every view pipeline.
// Field order and padding are the frozen binary contract: mat4 model,
// vec4 base_color, uvec4 mode_pad.
type DrawPush struct {
	Model     mgl32.Mat4
	BaseColor mgl32.Vec4
	ModePad   [4]uint32
}

// ShadowPush is the shadow pipelines' push-constant block.
type ShadowPush struct {
	LightMVP mgl32.Mat4
}

// CameraUBO is the per-frame camera uniform block shared by the lit
// pipeline and the shadow sampling math.
type CameraUBO struct {
	ViewProj      mgl32.Mat4
	CameraPos     mgl32.Vec4
	LightDirWS    mgl32.Vec4
	LightViewProj mgl32.Mat4
	// ShadowParams packs {strength, bias_const, bias_slope, pcf_step}.
	ShadowParams mgl32.Vec4
	// ShadowMisc packs {pcf_radius, 0, 0, 0}.
	ShadowMisc mgl32.Vec4
}

// FrameInfo is what BeginFrame hands back: the acquired slot, the
// monotonically increasing frame index, the drawable extent and whether
// a depth attachment exists (occlusion requires one).
type FrameInfo struct {
	SlotIndex          int
	FrameIndex         uint64
	Extent             [2]uint32
	HasDepthAttachment bool
}

// PassRecorder records draws into either the primary buffer (inline)
// or one secondary batch entry. Implementations are not safe for
// concurrent use; each worker owns exactly one recorder.
type PassRecorder interface {
	SetPipeline(kind PipelineKind)
	Draw(push DrawPush, mesh scene.MeshHandle)
	DrawShadow(push ShadowPush, mesh scene.MeshHandle)
	// BeginQuery/EndQuery wrap the next draw in an occlusion query
	// against the current pass's query pool. Only valid on inline
	// recorders (the primary buffer owns the query scope).
	BeginQuery(queryIndex uint32)
	EndQuery()
	// Finish seals the recorder. For secondary recorders a non-nil
	// error fails the whole batch and the frame falls back to inline
	// recording.
	Finish() error
}

// Backend is the platform contract the recorder schedules against,
// mirroring the backend-facing interface list: frame begin/end, pass
// begin/end, query pool reset and 64-bit waited result collection, and
// the shadow-depth-to-sampled barrier. BeginFrame must wait on the
// acquired slot's fence before returning, so all per-slot CPU state is
// safe to reuse once a FrameInfo is in hand.
type Backend interface {
	BeginFrame() (FrameInfo, error)
	// EndFrame finishes the primary buffer, submits it and presents;
	// after it returns the slot is in flight until the next BeginFrame
	// that lands on the same slot.
	EndFrame(fi FrameInfo) error

	// ResetQueryPools resizes and zeroes the slot's view/shadow pools
	// at the start of primary recording.
	ResetQueryPools(slot, viewCount, shadowCount int) error
	// CollectViewQueryResults performs a 64-bit "wait" read of the
	// slot's first count view query results. Only legal for a slot
	// whose fence has signaled.
	CollectViewQueryResults(slot, count int) ([]uint64, error)
	CollectShadowQueryResults(slot, count int) ([]uint64, error)

	UpdateCamera(slot int, ubo CameraUBO) error

	// BeginShadowPass opens the depth-only shadow render pass and
	// returns its inline recorder.
	BeginShadowPass(fi FrameInfo) (PassRecorder, error)
	EndShadowPass(fi FrameInfo) error
	// ShadowDepthBarrier issues the memory barrier making the shadow
	// depth readable by fragment shaders (late fragment tests ->
	// fragment shader, depth write -> shader read).
	ShadowDepthBarrier(fi FrameInfo)

	// BeginMainPass opens the main render pass (color + depth) and
	// returns its inline recorder.
	BeginMainPass(fi FrameInfo) (PassRecorder, error)
	EndMainPass(fi FrameInfo) error

	// SupportsSecondary reports whether pass can be recorded into
	// secondary batches on worker threads; recorders for unsupported
	// passes stay inline on the primary.
	SupportsSecondary(pass PassKind) bool
	// NewSecondaryRecorder allocates worker w's secondary recorder for
	// pass from the worker's own per-slot pool (reset before use).
	NewSecondaryRecorder(fi FrameInfo, pass PassKind, worker int) (PassRecorder, error)
	// ExecuteSecondaries stitches a finished batch into the primary,
	// inside the currently open pass, in slice order.
	ExecuteSecondaries(fi FrameInfo, recs []PassRecorder) error
}
