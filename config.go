package shscull

import (
	"github.com/gekko3d/shscull/lightbin"
	"github.com/gekko3d/shscull/shserr"
)

// LightCullingMode mirrors lightbin.Mode at the configuration surface.
type LightCullingMode = lightbin.Mode

const (
	LightCullingNone       = lightbin.ModeNone
	LightCullingTiled      = lightbin.ModeTiled
	LightCullingTiledDepth = lightbin.ModeTiledDepthRange
	LightCullingClustered  = lightbin.ModeClustered
)

// RenderPreset is the cycling "render path preset" exposed on the CLI:
// each step changes the light-culling mode the lit path queries.
type RenderPreset uint8

const (
	PresetForward RenderPreset = iota
	PresetForwardTiled
	PresetForwardTiledDepth
	PresetForwardClustered
	presetCount
)

func (p RenderPreset) String() string {
	switch p {
	case PresetForward:
		return "forward"
	case PresetForwardTiled:
		return "forward+tiled"
	case PresetForwardTiledDepth:
		return "forward+tiled-depth"
	case PresetForwardClustered:
		return "forward+clustered"
	}
	return "unknown"
}

// Next cycles to the following preset, wrapping around.
func (p RenderPreset) Next() RenderPreset {
	return (p + 1) % presetCount
}

// LightCullingMode maps the preset onto the binner mode it drives.
func (p RenderPreset) LightCullingMode() LightCullingMode {
	switch p {
	case PresetForwardTiled:
		return LightCullingTiled
	case PresetForwardTiledDepth:
		return LightCullingTiledDepth
	case PresetForwardClustered:
		return LightCullingClustered
	}
	return LightCullingNone
}

// Config collects every culling/recording option the library exposes.
type Config struct {
	// HideConfirmFrames is how many consecutive not-visible query
	// results are needed before an element is hidden.
	HideConfirmFrames int
	// ShowConfirmFrames is the symmetric threshold for re-showing.
	ShowConfirmFrames int
	// MinVisibleSamples is the occlusion query sample threshold.
	MinVisibleSamples uint64
	// OcclusionWarmupAfterCameraMove suppresses occlusion for this many
	// frames after the camera moves, letting queries repopulate against
	// the new viewpoint before anything is hidden.
	OcclusionWarmupAfterCameraMove int
	// MaxRecordingWorkers bounds the secondary-recording worker count.
	MaxRecordingWorkers int
	// FrameRing is the frame slot count F.
	FrameRing int

	LightCullingMode   LightCullingMode
	TileSize           int
	ClusterDepthSlices int

	EnableShadows          bool
	EnableOcclusion        bool
	ShowAABBOverlay        bool
	Wireframe              bool
	MultithreadedRecording bool
	Preset                 RenderPreset
}

// DefaultConfig returns the documented defaults: hide/show confirm 3/2,
// one visible sample, 2 warmup frames, 8 workers max, a single frame
// slot, 16px tiles and 16 cluster slices.
func DefaultConfig() Config {
	return Config{
		HideConfirmFrames:              3,
		ShowConfirmFrames:              2,
		MinVisibleSamples:              1,
		OcclusionWarmupAfterCameraMove: 2,
		MaxRecordingWorkers:            8,
		FrameRing:                      1,
		LightCullingMode:               LightCullingNone,
		TileSize:                       16,
		ClusterDepthSlices:             16,
		EnableShadows:                  true,
		EnableOcclusion:                true,
		MultithreadedRecording:         true,
	}
}

// Validate checks the invalid combinations that must be rejected at
// setup rather than discovered mid-frame.
func (c *Config) Validate() error {
	if c.HideConfirmFrames < 0 {
		return &shserr.ConfigurationError{Field: "HideConfirmFrames", Reason: "must be >= 0"}
	}
	if c.ShowConfirmFrames < 0 {
		return &shserr.ConfigurationError{Field: "ShowConfirmFrames", Reason: "must be >= 0"}
	}
	if c.OcclusionWarmupAfterCameraMove < 0 {
		return &shserr.ConfigurationError{Field: "OcclusionWarmupAfterCameraMove", Reason: "must be >= 0"}
	}
	if c.MaxRecordingWorkers < 1 {
		return &shserr.ConfigurationError{Field: "MaxRecordingWorkers", Reason: "must be >= 1"}
	}
	if c.FrameRing < 1 {
		return &shserr.ConfigurationError{Field: "FrameRing", Reason: "must be >= 1"}
	}
	if c.LightCullingMode != LightCullingNone && c.TileSize <= 0 {
		return &shserr.ConfigurationError{Field: "TileSize", Reason: "must be > 0 when light culling is enabled"}
	}
	if c.LightCullingMode == LightCullingClustered && c.ClusterDepthSlices <= 0 {
		return &shserr.ConfigurationError{Field: "ClusterDepthSlices", Reason: "must be > 0 in clustered mode"}
	}
	return nil
}
