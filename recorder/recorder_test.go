package recorder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gekko3d/shscull/cell"
	"github.com/gekko3d/shscull/cull"
	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/jobs"
	"github.com/gekko3d/shscull/queryring"
	"github.com/gekko3d/shscull/scene"
	"github.com/gekko3d/shscull/visibility"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLog struct{}

func (nopLog) Debugf(string, ...any) {}
func (nopLog) Warnf(string, ...any)  {}
func (nopLog) Errorf(string, ...any) {}

// mockRecorder logs recorded calls into its owning backend's event list.
type mockRecorder struct {
	b         *mockBackend
	name      string
	draws     int
	finishErr error
}

func (m *mockRecorder) SetPipeline(kind PipelineKind) {
	m.b.event("%s:pipeline=%d", m.name, kind)
}

func (m *mockRecorder) Draw(push DrawPush, mesh scene.MeshHandle) {
	m.draws++
	m.b.event("%s:draw", m.name)
}

func (m *mockRecorder) DrawShadow(push ShadowPush, mesh scene.MeshHandle) {
	m.draws++
	m.b.event("%s:shadowdraw", m.name)
}

func (m *mockRecorder) BeginQuery(queryIndex uint32) { m.b.event("%s:beginq=%d", m.name, queryIndex) }
func (m *mockRecorder) EndQuery()                    { m.b.event("%s:endq", m.name) }
func (m *mockRecorder) Finish() error                { return m.finishErr }

type mockBackend struct {
	events []string

	frameIndex    uint64
	slotCount     int
	hasDepth      bool
	secondary     bool
	secondaryFail bool

	viewResults   map[int][]uint64
	shadowResults map[int][]uint64

	secondaries []*mockRecorder
}

func newMockBackend(slots int) *mockBackend {
	return &mockBackend{
		slotCount:     slots,
		hasDepth:      true,
		viewResults:   map[int][]uint64{},
		shadowResults: map[int][]uint64{},
	}
}

func (b *mockBackend) event(format string, args ...any) {
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

func (b *mockBackend) BeginFrame() (FrameInfo, error) {
	fi := FrameInfo{
		SlotIndex:          int(b.frameIndex % uint64(b.slotCount)),
		FrameIndex:         b.frameIndex,
		Extent:             [2]uint32{64, 64},
		HasDepthAttachment: b.hasDepth,
	}
	b.frameIndex++
	b.event("beginframe:%d", fi.SlotIndex)
	return fi, nil
}

func (b *mockBackend) EndFrame(fi FrameInfo) error {
	b.event("endframe")
	return nil
}

func (b *mockBackend) ResetQueryPools(slot, viewCount, shadowCount int) error {
	b.event("resetpools:%d:%d:%d", slot, viewCount, shadowCount)
	return nil
}

func (b *mockBackend) CollectViewQueryResults(slot, count int) ([]uint64, error) {
	r, ok := b.viewResults[slot]
	if !ok || len(r) < count {
		return nil, errors.New("no results")
	}
	return r[:count], nil
}

func (b *mockBackend) CollectShadowQueryResults(slot, count int) ([]uint64, error) {
	r, ok := b.shadowResults[slot]
	if !ok || len(r) < count {
		return nil, errors.New("no results")
	}
	return r[:count], nil
}

func (b *mockBackend) UpdateCamera(slot int, ubo CameraUBO) error {
	b.event("camera:%d", slot)
	return nil
}

func (b *mockBackend) BeginShadowPass(fi FrameInfo) (PassRecorder, error) {
	b.event("beginshadow")
	return &mockRecorder{b: b, name: "shadow"}, nil
}

func (b *mockBackend) EndShadowPass(fi FrameInfo) error {
	b.event("endshadow")
	return nil
}

func (b *mockBackend) ShadowDepthBarrier(fi FrameInfo) { b.event("barrier") }

func (b *mockBackend) BeginMainPass(fi FrameInfo) (PassRecorder, error) {
	b.event("beginmain")
	return &mockRecorder{b: b, name: "main"}, nil
}

func (b *mockBackend) EndMainPass(fi FrameInfo) error {
	b.event("endmain")
	return nil
}

func (b *mockBackend) SupportsSecondary(pass PassKind) bool {
	return b.secondary && (pass == PassDepthPrepass || pass == PassMain)
}

func (b *mockBackend) NewSecondaryRecorder(fi FrameInfo, pass PassKind, worker int) (PassRecorder, error) {
	rec := &mockRecorder{b: b, name: fmt.Sprintf("sec%d-%d", pass, worker)}
	if b.secondaryFail {
		rec.finishErr = errors.New("record failed")
	}
	b.secondaries = append(b.secondaries, rec)
	return rec, nil
}

func (b *mockBackend) ExecuteSecondaries(fi FrameInfo, recs []PassRecorder) error {
	b.event("execsecondaries:%d", len(recs))
	return nil
}

// unitCubeCell is the [-1,1]^3 region with inward normals.
func unitCubeCell(t *testing.T) cell.ConvexCell {
	t.Helper()
	var c cell.ConvexCell
	for _, p := range []geom.Plane{
		{Normal: mgl32.Vec3{1, 0, 0}, D: 1}, {Normal: mgl32.Vec3{-1, 0, 0}, D: 1},
		{Normal: mgl32.Vec3{0, 1, 0}, D: 1}, {Normal: mgl32.Vec3{0, -1, 0}, D: 1},
		{Normal: mgl32.Vec3{0, 0, 1}, D: 1}, {Normal: mgl32.Vec3{0, 0, -1}, D: 1},
	} {
		require.NoError(t, c.AddPlane(p))
	}
	return c
}

type fixture struct {
	backend *mockBackend
	rec     *Recorder
	ring    *queryring.Ring
	pool    *jobs.Pool

	viewSet   *scene.ElementSet
	shadowSet *scene.ElementSet
	viewCtx   *cull.Context
	shadowCtx *cull.Context
	records   []DrawRecord
}

func newFixture(t *testing.T, backend *mockBackend, hideConfirm, showConfirm int, mt bool) *fixture {
	t.Helper()
	ring, err := queryring.NewRing(backend.slotCount)
	require.NoError(t, err)
	pool := jobs.NewPool(2)
	t.Cleanup(pool.Close)

	cfg := visibility.Config{HideConfirmFrames: hideConfirm, ShowConfirmFrames: showConfirm}
	f := &fixture{
		backend:   backend,
		ring:      ring,
		pool:      pool,
		viewSet:   scene.NewElementSet(8),
		shadowSet: scene.NewElementSet(8),
		viewCtx:   cull.NewContext(cfg),
		shadowCtx: cull.NewContext(cfg),
	}
	f.rec = New(backend, ring, pool, Options{Workers: 2, MultithreadedRecording: mt, MinVisibleSamples: 1}, nopLog{})
	return f
}

func (f *fixture) addElement(pos mgl32.Vec3, castsShadow bool) {
	rec := DrawRecord{Mesh: scene.NewMeshHandle(), Model: mgl32.Ident4(), BaseColor: mgl32.Vec4{1, 1, 1, 1}}
	f.records = append(f.records, rec)
	userIndex := len(f.records) - 1

	e := scene.Element{Shape: geom.NewSphere(pos, 0.25), Enabled: true, CastsShadow: castsShadow, UserIndex: userIndex}
	f.viewSet.Add(e)
	if castsShadow {
		f.shadowSet.Add(e)
	}
}

func (f *fixture) runFrame(t *testing.T, in FrameInput) FrameStats {
	t.Helper()
	frustum := unitCubeCell(t)
	f.viewCtx.RunFrustum(f.viewSet, frustum, cull.DefaultRequest)
	f.shadowCtx.RunFrustum(f.shadowSet, frustum, cull.DefaultRequest)

	in.ViewScene = f.viewSet
	in.ShadowScene = f.shadowSet
	in.ViewContext = f.viewCtx
	in.ShadowContext = f.shadowCtx
	in.Records = f.records

	stats, err := f.rec.RunFrame(in)
	require.NoError(t, err)
	return stats
}

func indexOf(events []string, needle string) int {
	for i, e := range events {
		if e == needle {
			return i
		}
	}
	return -1
}

func TestFramePassOrdering(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 1, 1, false)
	f.addElement(mgl32.Vec3{0, 0, 0}, true)

	stats := f.runFrame(t, FrameInput{EnableShadows: true, EnableOcclusion: true})
	assert.Equal(t, 1, stats.View.VisibleCount)
	assert.Equal(t, 1, stats.ViewQueries)
	assert.Equal(t, 1, stats.ShadowQueries)

	ev := backend.events
	shadowEnd := indexOf(ev, "endshadow")
	barrier := indexOf(ev, "barrier")
	mainBegin := indexOf(ev, "beginmain")
	require.GreaterOrEqual(t, shadowEnd, 0)
	require.GreaterOrEqual(t, barrier, 0)
	require.GreaterOrEqual(t, mainBegin, 0)
	assert.Less(t, shadowEnd, barrier, "shadow pass must end before the depth barrier")
	assert.Less(t, barrier, mainBegin, "barrier must precede the main pass")

	// Within the main pass: prepass pipeline, then occ-query pipeline,
	// then lit pipeline.
	prepass := indexOf(ev, fmt.Sprintf("main:pipeline=%d", PipelineDepthPrepass))
	occ := indexOf(ev, fmt.Sprintf("main:pipeline=%d", PipelineOccQuery))
	tri := indexOf(ev, fmt.Sprintf("main:pipeline=%d", PipelineTri))
	require.GreaterOrEqual(t, prepass, 0)
	require.GreaterOrEqual(t, occ, 0)
	require.GreaterOrEqual(t, tri, 0)
	assert.Less(t, prepass, occ)
	assert.Less(t, occ, tri)
}

func TestQueryResultsDriveVisibility(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 1, 1, false)
	f.addElement(mgl32.Vec3{-0.5, 0, 0}, false)
	f.addElement(mgl32.Vec3{0.5, 0, 0}, false)

	// Frame 1: no history yet, both visible, two queries issued.
	stats := f.runFrame(t, FrameInput{EnableOcclusion: true})
	assert.Equal(t, 2, stats.View.VisibleCount)
	assert.Equal(t, 2, stats.ViewQueries)

	// Frame 2 consumes samples [0, 42]: element 0 becomes occluded.
	backend.viewResults[0] = []uint64{0, 42}
	stats = f.runFrame(t, FrameInput{EnableOcclusion: true})
	assert.Equal(t, 1, stats.View.VisibleCount)
	assert.Equal(t, 1, stats.View.OccludedCount)

	elems := f.viewSet.Elements()
	assert.True(t, elems[0].Occluded)
	assert.False(t, elems[0].Visible)
	assert.True(t, elems[1].Visible)
}

func TestHideConfirmTwoNeedsTwoMisses(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 2, 1, false)
	f.addElement(mgl32.Vec3{-0.5, 0, 0}, false)
	f.addElement(mgl32.Vec3{0.5, 0, 0}, false)

	f.runFrame(t, FrameInput{EnableOcclusion: true})

	// One miss for element 1 is not enough at hide_confirm=2.
	backend.viewResults[0] = []uint64{7, 0}
	stats := f.runFrame(t, FrameInput{EnableOcclusion: true})
	assert.Equal(t, 2, stats.View.VisibleCount)

	// Second consecutive miss commits the occlusion.
	backend.viewResults[0] = []uint64{7, 0}
	stats = f.runFrame(t, FrameInput{EnableOcclusion: true})
	assert.Equal(t, 1, stats.View.VisibleCount)
	assert.True(t, f.viewSet.Elements()[1].Occluded)
}

func TestFailedQueryFetchKeepsHistory(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 1, 1, false)
	f.addElement(mgl32.Vec3{0, 0, 0}, false)

	f.runFrame(t, FrameInput{EnableOcclusion: true})

	// No results registered in the mock: the fetch fails, history keeps
	// the element visible instead of flipping it.
	stats := f.runFrame(t, FrameInput{EnableOcclusion: true})
	assert.Equal(t, 1, stats.View.VisibleCount)
	assert.False(t, f.viewSet.Elements()[0].Occluded)
}

func TestSecondaryBatchShardsDraws(t *testing.T) {
	backend := newMockBackend(1)
	backend.secondary = true
	f := newFixture(t, backend, 1, 1, true)
	for i := 0; i < 6; i++ {
		f.addElement(mgl32.Vec3{float32(i)*0.1 - 0.3, 0, 0}, false)
	}

	stats := f.runFrame(t, FrameInput{})
	assert.Equal(t, 6, stats.View.VisibleCount)
	assert.Zero(t, stats.InlineFallbacks)

	// Two batches (prepass + main), each executed as secondaries.
	count := 0
	for _, e := range backend.events {
		if e == "execsecondaries:2" {
			count++
		}
	}
	assert.Equal(t, 2, count)

	// All 12 draws (6 prepass + 6 main) went through secondary
	// recorders, none inline.
	total := 0
	for _, rec := range backend.secondaries {
		total += rec.draws
	}
	assert.Equal(t, 12, total)
	assert.Equal(t, -1, indexOf(backend.events, "main:draw"))
}

func TestSecondaryFailureFallsBackInline(t *testing.T) {
	backend := newMockBackend(1)
	backend.secondary = true
	backend.secondaryFail = true
	f := newFixture(t, backend, 1, 1, true)
	for i := 0; i < 3; i++ {
		f.addElement(mgl32.Vec3{0, 0, 0}, false)
	}

	stats := f.runFrame(t, FrameInput{})
	assert.Equal(t, 2, stats.InlineFallbacks)

	inline := 0
	for _, e := range backend.events {
		if e == "main:draw" {
			inline++
		}
	}
	assert.Equal(t, 6, inline, "prepass + main draws must record inline after fallback")
}

func TestNonCasterDrawnNowhere(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 1, 1, false)
	// Outside the camera frustum, would be inside a light frustum; with
	// casts_shadow false it never reaches the shadow set at all.
	f.addElement(mgl32.Vec3{5, 0, 0}, false)

	stats := f.runFrame(t, FrameInput{EnableShadows: true})
	assert.Zero(t, stats.View.VisibleCount)
	assert.Zero(t, stats.Shadow.VisibleCount)
	assert.Equal(t, -1, indexOf(backend.events, "shadow:shadowdraw"))
	assert.Equal(t, -1, indexOf(backend.events, "main:draw"))
}

func TestOverlayUsesUnitCube(t *testing.T) {
	backend := newMockBackend(1)
	f := newFixture(t, backend, 1, 1, false)
	f.addElement(mgl32.Vec3{0, 0, 0}, false)
	f.records[0].AABBMin = mgl32.Vec3{-1, -1, -1}
	f.records[0].AABBMax = mgl32.Vec3{1, 1, 1}

	f.runFrame(t, FrameInput{ShowAABBOverlay: true, UnitCube: scene.NewMeshHandle()})

	line := indexOf(backend.events, fmt.Sprintf("main:pipeline=%d", PipelineLine))
	assert.GreaterOrEqual(t, line, 0)
}
