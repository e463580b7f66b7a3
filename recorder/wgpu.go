package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/shscull/scene"
	"github.com/gekko3d/shscull/shserr"
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is the fixed vertex layout every registered mesh uses.
type Vertex struct {
	Pos    mgl32.Vec3
	Normal mgl32.Vec3
}

const (
	vertexStride = 24

	// Dynamic-offset uniform stride; WebGPU's minimum dynamic alignment.
	pushStride = 256

	cameraUBOSize  = 192
	drawPushSize   = 96
	shadowPushSize = 64

	depthFormat   = wgpu.TextureFormatDepth32Float
	shadowMapSize = 2048
)

type meshEntry struct {
	buf         *wgpu.Buffer
	vertexCount uint32
}

type slotResources struct {
	camBuf *wgpu.Buffer

	drawBuf *wgpu.Buffer
	drawCap int
	drawBG  *wgpu.BindGroup

	shadowBuf *wgpu.Buffer
	shadowCap int
	shadowBG  *wgpu.BindGroup

	frameBG *wgpu.BindGroup

	viewQS        *wgpu.QuerySet
	viewQSCap     int
	viewResolve   *wgpu.Buffer
	viewReadback  *wgpu.Buffer
	shadowQS      *wgpu.QuerySet
	shadowQSCap   int
	shadowResolve *wgpu.Buffer
	shadowRead    *wgpu.Buffer

	// Staging for this frame's per-draw uniform blocks; workers append
	// under mu while recording bundles.
	mu         sync.Mutex
	drawData   []byte
	drawUsed   int
	shadowData []byte
	shadowUsed int
	dropWarned bool
	issuedView int
	issuedShad int
}

type frameState struct {
	encoder     *wgpu.CommandEncoder
	surfaceTex  *wgpu.Texture
	surfaceView *wgpu.TextureView
	pass        *wgpu.RenderPassEncoder
}

// WGPU is the WebGPU-backed Backend: render bundles play the role of
// secondary command buffers, occlusion query sets back the query pools,
// and per-draw push constants become dynamic-offset uniform blocks.
type WGPU struct {
	adapter *wgpu.Adapter
	device  *wgpu.Device
	queue   *wgpu.Queue
	surface *wgpu.Surface
	config  *wgpu.SurfaceConfiguration

	depthTex  *wgpu.Texture
	depthView *wgpu.TextureView

	shadowTex     *wgpu.Texture
	shadowView    *wgpu.TextureView
	shadowSampler *wgpu.Sampler

	frameBGL  *wgpu.BindGroupLayout
	drawBGL   *wgpu.BindGroupLayout
	shadowBGL *wgpu.BindGroupLayout

	pipelines map[PipelineKind]*wgpu.RenderPipeline

	slots      []*slotResources
	frameIndex uint64
	frame      frameState

	meshes map[scene.MeshHandle]meshEntry

	log Logger
}

// NewWGPU builds the backend over an initialized device/surface pair;
// the caller owns instance/adapter/device creation and the window, the
// same split the platform layer keeps everywhere else.
func NewWGPU(adapter *wgpu.Adapter, device *wgpu.Device, surface *wgpu.Surface, config *wgpu.SurfaceConfiguration, slotCount int, log Logger) (*WGPU, error) {
	if slotCount < 1 {
		return nil, &shserr.ConfigurationError{Field: "FrameRing", Reason: "slot count must be >= 1"}
	}
	b := &WGPU{
		adapter:   adapter,
		device:    device,
		queue:     device.GetQueue(),
		surface:   surface,
		config:    config,
		pipelines: map[PipelineKind]*wgpu.RenderPipeline{},
		meshes:    map[scene.MeshHandle]meshEntry{},
		log:       log,
	}

	if err := b.createShadowMap(); err != nil {
		return nil, err
	}
	if err := b.createDepth(); err != nil {
		return nil, err
	}
	if err := b.createLayouts(); err != nil {
		return nil, err
	}
	if err := b.createPipelines(); err != nil {
		return nil, err
	}
	for i := 0; i < slotCount; i++ {
		slot, err := b.createSlot()
		if err != nil {
			return nil, err
		}
		b.slots = append(b.slots, slot)
	}
	return b, nil
}

// Resize reconfigures the surface and recreates the depth attachment.
func (b *WGPU) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	b.config.Width = uint32(w)
	b.config.Height = uint32(h)
	b.surface.Configure(b.adapter, b.device, b.config)
	return b.createDepth()
}

// RegisterMesh uploads a triangle-list (or line-list, for meshes bound
// to the line pipeline) vertex buffer under handle. Must be called
// outside BeginFrame/EndFrame.
func (b *WGPU) RegisterMesh(handle scene.MeshHandle, vertices []Vertex) error {
	data := make([]byte, len(vertices)*vertexStride)
	for i, v := range vertices {
		off := i * vertexStride
		putVec3(data[off:], v.Pos)
		putVec3(data[off+12:], v.Normal)
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "MeshVB",
		Size:  uint64(len(data)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "mesh vertex buffer", Cause: err}
	}
	b.queue.WriteBuffer(buf, 0, data)
	b.meshes[handle] = meshEntry{buf: buf, vertexCount: uint32(len(vertices))}
	return nil
}

func (b *WGPU) createShadowMap() error {
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "ShadowMap",
		Size:          wgpu.Extent3D{Width: shadowMapSize, Height: shadowMapSize, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        depthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow map", Cause: err}
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow map view", Cause: err}
	}
	sampler, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		Compare:       wgpu.CompareFunctionLessEqual,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow sampler", Cause: err}
	}
	b.shadowTex, b.shadowView, b.shadowSampler = tex, view, sampler
	return nil
}

func (b *WGPU) createDepth() error {
	if b.depthTex != nil {
		b.depthTex.Release()
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "ViewDepth",
		Size:          wgpu.Extent3D{Width: b.config.Width, Height: b.config.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        depthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "depth attachment", Cause: err}
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return &shserr.ResourceError{Resource: "depth view", Cause: err}
	}
	b.depthTex, b.depthView = tex, view
	return nil
}

func (b *WGPU) createLayouts() error {
	var err error
	b.frameBGL, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "FrameBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: cameraUBOSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeComparison},
			},
		},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "frame bind group layout", Cause: err}
	}
	b.drawBGL, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "DrawBGL",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
			Buffer: wgpu.BufferBindingLayout{
				Type:             wgpu.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   drawPushSize,
			},
		}},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "draw bind group layout", Cause: err}
	}
	b.shadowBGL, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ShadowBGL",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageVertex,
			Buffer: wgpu.BufferBindingLayout{
				Type:             wgpu.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   shadowPushSize,
			},
		}},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow bind group layout", Cause: err}
	}
	return nil
}

func (b *WGPU) createPipelines() error {
	drawModule, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "DrawWGSL",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: drawWGSL},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "draw shader", Cause: err}
	}
	shadowModule, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ShadowWGSL",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shadowWGSL},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow shader", Cause: err}
	}

	drawLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.frameBGL, b.drawBGL},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "draw pipeline layout", Cause: err}
	}
	shadowLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.shadowBGL},
	})
	if err != nil {
		return &shserr.ResourceError{Resource: "shadow pipeline layout", Cause: err}
	}

	vertexLayout := []wgpu.VertexBufferLayout{{
		ArrayStride: vertexStride,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes: []wgpu.VertexAttribute{
			{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
			{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		},
	}}
	shadowVertexLayout := []wgpu.VertexBufferLayout{{
		ArrayStride: vertexStride,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes: []wgpu.VertexAttribute{
			{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		},
	}}
	stencil := wgpu.StencilFaceState{
		Compare:     wgpu.CompareFunctionAlways,
		FailOp:      wgpu.StencilOperationKeep,
		DepthFailOp: wgpu.StencilOperationKeep,
		PassOp:      wgpu.StencilOperationKeep,
	}
	depth := func(write bool, compare wgpu.CompareFunction) *wgpu.DepthStencilState {
		return &wgpu.DepthStencilState{
			Format:            depthFormat,
			DepthWriteEnabled: write,
			DepthCompare:      compare,
			StencilFront:      stencil,
			StencilBack:       stencil,
			StencilReadMask:   0xFFFFFFFF,
			StencilWriteMask:  0xFFFFFFFF,
		}
	}
	fragment := func(entry string, mask wgpu.ColorWriteMask) *wgpu.FragmentState {
		return &wgpu.FragmentState{
			Module:     drawModule,
			EntryPoint: entry,
			Targets: []wgpu.ColorTargetState{{
				Format:    b.config.Format,
				WriteMask: mask,
			}},
		}
	}
	multisample := wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF}

	build := func(kind PipelineKind, desc *wgpu.RenderPipelineDescriptor) error {
		p, perr := b.device.CreateRenderPipeline(desc)
		if perr != nil {
			return &shserr.ResourceError{Resource: fmt.Sprintf("pipeline %d", kind), Cause: perr}
		}
		b.pipelines[kind] = p
		return nil
	}

	if err := build(PipelineDepthPrepass, &wgpu.RenderPipelineDescriptor{
		Label:  "DepthPrepass",
		Layout: drawLayout,
		Vertex: wgpu.VertexState{Module: drawModule, EntryPoint: "vs_main", Buffers: vertexLayout},
		// Color writes masked off; only depth comes out of this one.
		Fragment: fragment("fs_flat", 0),
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: depth(true, wgpu.CompareFunctionLess),
		Multisample:  multisample,
	}); err != nil {
		return err
	}

	if err := build(PipelineOccQuery, &wgpu.RenderPipelineDescriptor{
		Label:    "OccQuery",
		Layout:   drawLayout,
		Vertex:   wgpu.VertexState{Module: drawModule, EntryPoint: "vs_main", Buffers: vertexLayout},
		Fragment: fragment("fs_flat", 0),
		// Culling disabled so a proxy never vanishes on winding.
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depth(false, wgpu.CompareFunctionLessEqual),
		Multisample:  multisample,
	}); err != nil {
		return err
	}

	if err := build(PipelineTri, &wgpu.RenderPipelineDescriptor{
		Label:    "LitForward",
		Layout:   drawLayout,
		Vertex:   wgpu.VertexState{Module: drawModule, EntryPoint: "vs_main", Buffers: vertexLayout},
		Fragment: fragment("fs_main", wgpu.ColorWriteMaskAll),
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: depth(false, wgpu.CompareFunctionLessEqual),
		Multisample:  multisample,
	}); err != nil {
		return err
	}

	if err := build(PipelineLine, &wgpu.RenderPipelineDescriptor{
		Label:    "LineOverlay",
		Layout:   drawLayout,
		Vertex:   wgpu.VertexState{Module: drawModule, EntryPoint: "vs_main", Buffers: vertexLayout},
		Fragment: fragment("fs_flat", wgpu.ColorWriteMaskAll),
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyLineList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depth(false, wgpu.CompareFunctionAlways),
		Multisample:  multisample,
	}); err != nil {
		return err
	}

	if err := build(ShadowPipelineDepth, &wgpu.RenderPipelineDescriptor{
		Label:  "ShadowDepth",
		Layout: shadowLayout,
		Vertex: wgpu.VertexState{Module: shadowModule, EntryPoint: "vs_shadow", Buffers: shadowVertexLayout},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:              depthFormat,
			DepthWriteEnabled:   true,
			DepthCompare:        wgpu.CompareFunctionLess,
			StencilFront:        stencil,
			StencilBack:         stencil,
			StencilReadMask:     0xFFFFFFFF,
			StencilWriteMask:    0xFFFFFFFF,
			DepthBias:           2,
			DepthBiasSlopeScale: 2.0,
		},
		Multisample: multisample,
	}); err != nil {
		return err
	}

	return build(ShadowPipelineOccQuery, &wgpu.RenderPipelineDescriptor{
		Label:  "ShadowOccQuery",
		Layout: shadowLayout,
		Vertex: wgpu.VertexState{Module: shadowModule, EntryPoint: "vs_shadow", Buffers: shadowVertexLayout},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depth(false, wgpu.CompareFunctionLessEqual),
		Multisample:  multisample,
	})
}

func (b *WGPU) createSlot() (*slotResources, error) {
	s := &slotResources{}
	var err error
	s.camBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "CameraUB",
		Size:  pushStride,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, &shserr.ResourceError{Resource: "camera buffer", Cause: err}
	}
	s.frameBG, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "FrameBG",
		Layout: b.frameBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: s.camBuf, Size: cameraUBOSize},
			{Binding: 1, TextureView: b.shadowView},
			{Binding: 2, Sampler: b.shadowSampler},
		},
	})
	if err != nil {
		return nil, &shserr.ResourceError{Resource: "frame bind group", Cause: err}
	}
	if err := b.ensureDrawCapacity(s, 64, 16); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureDrawCapacity sizes the slot's per-draw uniform arenas. Growing
// recreates buffer and bind group, so it only runs between frames
// (ResetQueryPools), never while recorders hold the old bind group.
func (b *WGPU) ensureDrawCapacity(s *slotResources, drawEntries, shadowEntries int) error {
	var err error
	if drawEntries > s.drawCap {
		if s.drawBuf != nil {
			s.drawBuf.Release()
		}
		s.drawBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "DrawPushArena",
			Size:  uint64(drawEntries * pushStride),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "draw push arena", Cause: err}
		}
		s.drawBG, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "DrawBG",
			Layout: b.drawBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: s.drawBuf, Size: drawPushSize},
			},
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "draw bind group", Cause: err}
		}
		s.drawCap = drawEntries
		s.drawData = make([]byte, drawEntries*pushStride)
	}
	if shadowEntries > s.shadowCap {
		if s.shadowBuf != nil {
			s.shadowBuf.Release()
		}
		s.shadowBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "ShadowPushArena",
			Size:  uint64(shadowEntries * pushStride),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "shadow push arena", Cause: err}
		}
		s.shadowBG, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "ShadowBG",
			Layout: b.shadowBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: s.shadowBuf, Size: shadowPushSize},
			},
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "shadow bind group", Cause: err}
		}
		s.shadowCap = shadowEntries
		s.shadowData = make([]byte, shadowEntries*pushStride)
	}
	return nil
}

func (b *WGPU) ensureQuerySets(s *slotResources, viewCount, shadowCount int) error {
	var err error
	if viewCount > s.viewQSCap {
		if s.viewQS != nil {
			s.viewQS.Release()
			s.viewResolve.Release()
			s.viewReadback.Release()
		}
		s.viewQS, err = b.device.CreateQuerySet(&wgpu.QuerySetDescriptor{
			Label: "ViewOcclusionQS",
			Type:  wgpu.QueryTypeOcclusion,
			Count: uint32(viewCount),
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "view query set", Cause: err}
		}
		s.viewResolve, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "ViewQueryResolve",
			Size:  uint64(viewCount * 8),
			Usage: wgpu.BufferUsageQueryResolve | wgpu.BufferUsageCopySrc,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "view query resolve buffer", Cause: err}
		}
		s.viewReadback, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "ViewQueryReadback",
			Size:  uint64(viewCount * 8),
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "view query readback buffer", Cause: err}
		}
		s.viewQSCap = viewCount
	}
	if shadowCount > s.shadowQSCap {
		if s.shadowQS != nil {
			s.shadowQS.Release()
			s.shadowResolve.Release()
			s.shadowRead.Release()
		}
		s.shadowQS, err = b.device.CreateQuerySet(&wgpu.QuerySetDescriptor{
			Label: "ShadowOcclusionQS",
			Type:  wgpu.QueryTypeOcclusion,
			Count: uint32(shadowCount),
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "shadow query set", Cause: err}
		}
		s.shadowResolve, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "ShadowQueryResolve",
			Size:  uint64(shadowCount * 8),
			Usage: wgpu.BufferUsageQueryResolve | wgpu.BufferUsageCopySrc,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "shadow query resolve buffer", Cause: err}
		}
		s.shadowRead, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "ShadowQueryReadback",
			Size:  uint64(shadowCount * 8),
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return &shserr.ResourceError{Resource: "shadow query readback buffer", Cause: err}
		}
		s.shadowQSCap = shadowCount
	}
	return nil
}

func (b *WGPU) slot(i int) *slotResources { return b.slots[i%len(b.slots)] }

// BeginFrame acquires the next drawable and opens the primary encoder.
// The slot-fence wait is implicit: query readback for this slot mapped
// with a blocking poll before its last results were consumed, so no
// in-flight GPU work still references the slot's CPU state.
func (b *WGPU) BeginFrame() (FrameInfo, error) {
	tex, err := b.surface.GetCurrentTexture()
	if err != nil {
		return FrameInfo{}, &shserr.RecordError{Stage: "acquire", Cause: err}
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return FrameInfo{}, &shserr.RecordError{Stage: "acquire view", Cause: err}
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		tex.Release()
		return FrameInfo{}, &shserr.DeviceLost{Cause: err}
	}

	fi := FrameInfo{
		SlotIndex:          int(b.frameIndex % uint64(len(b.slots))),
		FrameIndex:         b.frameIndex,
		Extent:             [2]uint32{b.config.Width, b.config.Height},
		HasDepthAttachment: true,
	}
	b.frameIndex++
	b.frame = frameState{encoder: encoder, surfaceTex: tex, surfaceView: view}
	return fi, nil
}

func (b *WGPU) EndFrame(fi FrameInfo) error {
	s := b.slot(fi.SlotIndex)

	// Per-draw uniform arenas are written once for the whole frame;
	// queue writes land before the submit below.
	if s.drawUsed > 0 {
		b.queue.WriteBuffer(s.drawBuf, 0, s.drawData[:s.drawUsed])
	}
	if s.shadowUsed > 0 {
		b.queue.WriteBuffer(s.shadowBuf, 0, s.shadowData[:s.shadowUsed])
	}

	if s.issuedView > 0 {
		b.frame.encoder.ResolveQuerySet(s.viewQS, 0, uint32(s.issuedView), s.viewResolve, 0)
		b.frame.encoder.CopyBufferToBuffer(s.viewResolve, 0, s.viewReadback, 0, uint64(s.issuedView*8))
	}
	if s.issuedShad > 0 {
		b.frame.encoder.ResolveQuerySet(s.shadowQS, 0, uint32(s.issuedShad), s.shadowResolve, 0)
		b.frame.encoder.CopyBufferToBuffer(s.shadowResolve, 0, s.shadowRead, 0, uint64(s.issuedShad*8))
	}

	cmd, err := b.frame.encoder.Finish(nil)
	if err != nil {
		return &shserr.DeviceLost{Cause: err}
	}
	b.queue.Submit(cmd)
	b.surface.Present()
	b.device.Poll(false, nil)

	b.frame.surfaceView.Release()
	b.frame.surfaceTex.Release()
	b.frame = frameState{}
	return nil
}

func (b *WGPU) ResetQueryPools(slot, viewCount, shadowCount int) error {
	s := b.slot(slot)
	if err := b.ensureQuerySets(s, viewCount, shadowCount); err != nil {
		return err
	}
	// Prepass + query proxy + main + overlay can each touch every view
	// element once.
	if err := b.ensureDrawCapacity(s, viewCount*4+64, shadowCount*2+16); err != nil {
		return err
	}
	s.drawUsed = 0
	s.shadowUsed = 0
	s.issuedView = 0
	s.issuedShad = 0
	s.dropWarned = false
	return nil
}

func (b *WGPU) readQueryBuffer(buf *wgpu.Buffer, count int) ([]uint64, error) {
	size := uint64(count * 8)
	done := false
	var status wgpu.BufferMapAsyncStatus
	buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	// Blocking poll: this is the 64-bit "wait" read, and also what
	// guarantees the slot's submission has fully completed.
	b.device.Poll(true, nil)
	if !done || status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map failed: status %d", status)
	}
	data := buf.GetMappedRange(0, uint(size))
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		out[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	buf.Unmap()
	return out, nil
}

func (b *WGPU) CollectViewQueryResults(slot, count int) ([]uint64, error) {
	s := b.slot(slot)
	if count <= 0 || count > s.issuedView {
		return nil, &shserr.QueryError{Slot: slot, Cause: fmt.Errorf("collect %d of %d issued", count, s.issuedView)}
	}
	out, err := b.readQueryBuffer(s.viewReadback, count)
	if err != nil {
		return nil, &shserr.QueryError{Slot: slot, Cause: err}
	}
	return out, nil
}

func (b *WGPU) CollectShadowQueryResults(slot, count int) ([]uint64, error) {
	s := b.slot(slot)
	if count <= 0 || count > s.issuedShad {
		return nil, &shserr.QueryError{Slot: slot, Cause: fmt.Errorf("collect %d of %d issued", count, s.issuedShad)}
	}
	out, err := b.readQueryBuffer(s.shadowRead, count)
	if err != nil {
		return nil, &shserr.QueryError{Slot: slot, Cause: err}
	}
	return out, nil
}

func (b *WGPU) UpdateCamera(slot int, ubo CameraUBO) error {
	buf := make([]byte, cameraUBOSize)
	putMat4(buf[0:], ubo.ViewProj)
	putVec4(buf[64:], ubo.CameraPos)
	putVec4(buf[80:], ubo.LightDirWS)
	putMat4(buf[96:], ubo.LightViewProj)
	putVec4(buf[160:], ubo.ShadowParams)
	putVec4(buf[176:], ubo.ShadowMisc)
	b.queue.WriteBuffer(b.slot(slot).camBuf, 0, buf)
	return nil
}

func (b *WGPU) BeginShadowPass(fi FrameInfo) (PassRecorder, error) {
	s := b.slot(fi.SlotIndex)
	pass := b.frame.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "ShadowPass",
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.shadowView,
			DepthClearValue: 1.0,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
		},
		OcclusionQuerySet: s.shadowQS,
	})
	b.frame.pass = pass
	return &wgpuPass{b: b, slot: s, rpass: pass, shadow: true}, nil
}

func (b *WGPU) EndShadowPass(fi FrameInfo) error {
	if err := b.frame.pass.End(); err != nil {
		return &shserr.RecordError{Stage: "shadow pass", Cause: err}
	}
	b.frame.pass = nil
	return nil
}

// ShadowDepthBarrier keeps the depth-write -> shader-read ordering
// contract explicit; WebGPU derives the actual barrier from the shadow
// map's usage transition between the two passes.
func (b *WGPU) ShadowDepthBarrier(fi FrameInfo) {}

func (b *WGPU) BeginMainPass(fi FrameInfo) (PassRecorder, error) {
	s := b.slot(fi.SlotIndex)
	pass := b.frame.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "MainPass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       b.frame.surfaceView,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.05, G: 0.06, B: 0.08, A: 1},
		}},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthView,
			DepthClearValue: 1.0,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
		},
		OcclusionQuerySet: s.viewQS,
	})
	b.frame.pass = pass
	return &wgpuPass{b: b, slot: s, rpass: pass}, nil
}

func (b *WGPU) EndMainPass(fi FrameInfo) error {
	if err := b.frame.pass.End(); err != nil {
		return &shserr.RecordError{Stage: "main pass", Cause: err}
	}
	b.frame.pass = nil
	return nil
}

// SupportsSecondary: render bundles stand in for secondary buffers, but
// occlusion query scopes are primary-only in WebGPU, so query draws
// always record inline.
func (b *WGPU) SupportsSecondary(pass PassKind) bool {
	return pass == PassDepthPrepass || pass == PassMain
}

func (b *WGPU) NewSecondaryRecorder(fi FrameInfo, pass PassKind, worker int) (PassRecorder, error) {
	s := b.slot(fi.SlotIndex)
	enc, err := b.device.CreateRenderBundleEncoder(&wgpu.RenderBundleEncoderDescriptor{
		Label:              fmt.Sprintf("Bundle-%d-%d", pass, worker),
		ColorFormats:       []wgpu.TextureFormat{b.config.Format},
		DepthStencilFormat: depthFormat,
		SampleCount:        1,
	})
	if err != nil {
		return nil, &shserr.RecordError{Stage: "bundle alloc", Cause: err}
	}
	return &wgpuPass{b: b, slot: s, bundle: enc}, nil
}

func (b *WGPU) ExecuteSecondaries(fi FrameInfo, recs []PassRecorder) error {
	bundles := make([]*wgpu.RenderBundle, 0, len(recs))
	for _, rec := range recs {
		p, ok := rec.(*wgpuPass)
		if !ok || p.finished == nil {
			return &shserr.RecordError{Stage: "execute bundles", Cause: fmt.Errorf("unfinished bundle")}
		}
		bundles = append(bundles, p.finished)
	}
	b.frame.pass.ExecuteBundles(bundles...)
	return nil
}

// renderEncoder is the command subset shared by the primary pass
// encoder and bundle encoders.
type renderEncoder interface {
	SetPipeline(pipeline *wgpu.RenderPipeline)
	SetBindGroup(groupIndex uint32, group *wgpu.BindGroup, dynamicOffsets []uint32)
	SetVertexBuffer(slot uint32, buffer *wgpu.Buffer, offset, size uint64)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
}

type wgpuPass struct {
	b          *WGPU
	slot       *slotResources
	rpass      *wgpu.RenderPassEncoder
	bundle     *wgpu.RenderBundleEncoder
	finished   *wgpu.RenderBundle
	shadow     bool
	shadowPipe bool
	recordErr  error
}

func (p *wgpuPass) enc() renderEncoder {
	if p.bundle != nil {
		return p.bundle
	}
	return p.rpass
}

func (p *wgpuPass) SetPipeline(kind PipelineKind) {
	pipe, ok := p.b.pipelines[kind]
	if !ok {
		p.recordErr = fmt.Errorf("unknown pipeline %d", kind)
		return
	}
	p.shadowPipe = kind == ShadowPipelineDepth || kind == ShadowPipelineOccQuery
	p.enc().SetPipeline(pipe)
	if !p.shadowPipe {
		p.enc().SetBindGroup(0, p.slot.frameBG, nil)
	}
}

// appendDraw reserves one stride-aligned entry in the slot's uniform
// arena and copies data into it. Thread-safe: bundle workers share the
// arena.
func (s *slotResources) appendDraw(data []byte, shadow bool) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shadow {
		if s.shadowUsed+pushStride > len(s.shadowData) {
			return 0, false
		}
		off := s.shadowUsed
		copy(s.shadowData[off:], data)
		s.shadowUsed += pushStride
		return uint32(off), true
	}
	if s.drawUsed+pushStride > len(s.drawData) {
		return 0, false
	}
	off := s.drawUsed
	copy(s.drawData[off:], data)
	s.drawUsed += pushStride
	return uint32(off), true
}

func (p *wgpuPass) Draw(push DrawPush, mesh scene.MeshHandle) {
	entry, ok := p.b.meshes[mesh]
	if !ok {
		return
	}
	data := make([]byte, drawPushSize)
	putMat4(data[0:], push.Model)
	putVec4(data[64:], push.BaseColor)
	for i, v := range push.ModePad {
		binary.LittleEndian.PutUint32(data[80+i*4:], v)
	}
	off, ok := p.slot.appendDraw(data, false)
	if !ok {
		p.warnDrop()
		return
	}
	e := p.enc()
	e.SetBindGroup(1, p.slot.drawBG, []uint32{off})
	e.SetVertexBuffer(0, entry.buf, 0, entry.buf.GetSize())
	e.Draw(entry.vertexCount, 1, 0, 0)
}

func (p *wgpuPass) DrawShadow(push ShadowPush, mesh scene.MeshHandle) {
	entry, ok := p.b.meshes[mesh]
	if !ok {
		return
	}
	data := make([]byte, shadowPushSize)
	putMat4(data, push.LightMVP)
	off, ok := p.slot.appendDraw(data, true)
	if !ok {
		p.warnDrop()
		return
	}
	e := p.enc()
	e.SetBindGroup(0, p.slot.shadowBG, []uint32{off})
	e.SetVertexBuffer(0, entry.buf, 0, entry.buf.GetSize())
	e.Draw(entry.vertexCount, 1, 0, 0)
}

func (p *wgpuPass) warnDrop() {
	p.slot.mu.Lock()
	warned := p.slot.dropWarned
	p.slot.dropWarned = true
	p.slot.mu.Unlock()
	if !warned {
		p.b.log.Warnf("per-draw uniform arena exhausted, dropping draws this frame")
	}
}

func (p *wgpuPass) BeginQuery(queryIndex uint32) {
	if p.rpass == nil {
		p.recordErr = fmt.Errorf("queries are primary-only")
		return
	}
	p.rpass.BeginOcclusionQuery(queryIndex)
	if p.shadow {
		if int(queryIndex)+1 > p.slot.issuedShad {
			p.slot.issuedShad = int(queryIndex) + 1
		}
	} else {
		if int(queryIndex)+1 > p.slot.issuedView {
			p.slot.issuedView = int(queryIndex) + 1
		}
	}
}

func (p *wgpuPass) EndQuery() {
	if p.rpass != nil {
		p.rpass.EndOcclusionQuery()
	}
}

func (p *wgpuPass) Finish() error {
	if p.recordErr != nil {
		return &shserr.RecordError{Stage: "record", Cause: p.recordErr}
	}
	if p.bundle == nil {
		return nil
	}
	bundle, err := p.bundle.Finish(nil)
	if err != nil {
		return &shserr.RecordError{Stage: "bundle finish", Cause: err}
	}
	p.finished = bundle
	return nil
}

func putMat4(dst []byte, m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(m[i]))
	}
}

func putVec4(dst []byte, v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v[i]))
	}
}

func putVec3(dst []byte, v mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v[i]))
	}
}
