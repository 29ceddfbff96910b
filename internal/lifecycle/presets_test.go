package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxstore/internal/config"
	apperrors "ctxstore/internal/errors"
)

func testPresets() Presets {
	return NewPresets(config.TTLConfig{
		Scratchpad: config.Duration(time.Hour),
		Session:    config.Duration(7 * 24 * time.Hour),
		Cache:      config.Duration(5 * time.Minute),
		Temporary:  config.Duration(time.Minute),
		Persistent: config.Duration(30 * 24 * time.Hour),
	})
}

func TestResolve(t *testing.T) {
	p := testPresets()

	cases := []struct {
		name string
		want time.Duration
	}{
		{PresetScratchpad, time.Hour},
		{PresetSession, 7 * 24 * time.Hour},
		{PresetCache, 5 * time.Minute},
		{PresetTemporary, time.Minute},
		{PresetPersistent, 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Resolve(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveUnknownPreset(t *testing.T) {
	_, err := testPresets().Resolve("eternal")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestResolveOrExplicit(t *testing.T) {
	p := testPresets()

	got, err := p.ResolveOrExplicit("cache", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, got)

	// An explicit TTL wins over the preset.
	got, err = p.ResolveOrExplicit("cache", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got)

	// Nothing given falls back to the scratchpad default.
	got, err = p.ResolveOrExplicit("", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got)

	_, err = p.ResolveOrExplicit("", -time.Second)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNamesSorted(t *testing.T) {
	assert.Equal(t,
		[]string{"cache", "persistent", "scratchpad", "session", "temporary"},
		testPresets().Names(),
	)
}
