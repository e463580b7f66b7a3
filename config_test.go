package shscull

import (
	"testing"

	"github.com/gekko3d/shscull/shserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.HideConfirmFrames)
	assert.Equal(t, 2, cfg.ShowConfirmFrames)
	assert.Equal(t, uint64(1), cfg.MinVisibleSamples)
	assert.Equal(t, 1, cfg.FrameRing)
	assert.Equal(t, 16, cfg.TileSize)
	assert.Equal(t, 16, cfg.ClusterDepthSlices)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative hide", func(c *Config) { c.HideConfirmFrames = -1 }, "HideConfirmFrames"},
		{"negative show", func(c *Config) { c.ShowConfirmFrames = -2 }, "ShowConfirmFrames"},
		{"zero workers", func(c *Config) { c.MaxRecordingWorkers = 0 }, "MaxRecordingWorkers"},
		{"zero ring", func(c *Config) { c.FrameRing = 0 }, "FrameRing"},
		{"zero tile size tiled", func(c *Config) { c.LightCullingMode = LightCullingTiled; c.TileSize = 0 }, "TileSize"},
		{"zero slices clustered", func(c *Config) { c.LightCullingMode = LightCullingClustered; c.ClusterDepthSlices = 0 }, "ClusterDepthSlices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *shserr.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestPresetCycling(t *testing.T) {
	p := PresetForward
	modes := []LightCullingMode{}
	for i := 0; i < 4; i++ {
		modes = append(modes, p.LightCullingMode())
		p = p.Next()
	}
	assert.Equal(t, PresetForward, p, "four steps return to the start")
	assert.Equal(t, []LightCullingMode{
		LightCullingNone, LightCullingTiled, LightCullingTiledDepth, LightCullingClustered,
	}, modes)
}
