package quantum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimensions = 3
	_, err := New(cfg)
	assert.Error(t, err, "3D should be rejected")

	cfg = DefaultConfig()
	cfg.Resolution = 1
	_, err = New(cfg)
	assert.Error(t, err, "resolution 1 should be rejected")

	cfg = DefaultConfig()
	cfg.Min, cfg.Max = 5, -5
	_, err = New(cfg)
	assert.Error(t, err, "inverted bounds should be rejected")
}

func TestNormalizedOnConstruction(t *testing.T) {
	for _, dims := range []int{1, 2} {
		for _, shape := range []Shape{ShapeGround, ShapeExcited, ShapeSuperposition} {
			cfg := DefaultConfig()
			cfg.Dimensions = dims
			cfg.Shape = shape
			st, err := New(cfg)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, st.TotalProbability(), 1e-9,
				"dims=%d shape=%s", dims, shape)
		}
	}
}

func TestEvolvePreservesDensity1D(t *testing.T) {
	st, err := New(DefaultConfig())
	require.NoError(t, err)

	before := st.Density()
	st.Evolve(0.1)
	after := st.Density()

	// A pure phase rotation cannot move probability between samples.
	for i := range before {
		assert.InDelta(t, before[i], after[i], 1e-9, "sample %d", i)
	}
}

func TestEvolveRotatesPhase(t *testing.T) {
	st, err := New(DefaultConfig())
	require.NoError(t, err)

	before := make([]complex128, len(st.Psi))
	copy(before, st.Psi)
	st.Evolve(0.5)

	// The last sample carries the full energy ramp, so its phase must move.
	last := len(st.Psi) - 1
	assert.NotEqual(t, before[last], st.Psi[last])
	// The first sample has zero energy in 1D and must be untouched.
	assert.InDelta(t, real(before[0]), real(st.Psi[0]), 1e-9)
	assert.InDelta(t, imag(before[0]), imag(st.Psi[0]), 1e-9)
}

func TestEvolveKeepsNormalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimensions = 2
	cfg.Resolution = 40
	cfg.Shape = ShapeSuperposition
	st, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		st.Evolve(0.1)
	}
	assert.InDelta(t, 1.0, st.TotalProbability(), 1e-9)
}

func TestNormalizeZeroVector(t *testing.T) {
	st := &State{Dims: 1, Res: 10, Min: -5, Max: 5, Psi: make([]complex128, 10)}
	assert.Error(t, st.Normalize())
}

func TestCloneIndependence(t *testing.T) {
	st, err := New(DefaultConfig())
	require.NoError(t, err)

	cp := st.Clone()
	cp.Evolve(1.0)

	// Original is untouched by evolving the copy.
	assert.Equal(t, st.Psi[len(st.Psi)-1], st.Clone().Psi[len(st.Psi)-1])
	assert.NotEqual(t, st.Psi[len(st.Psi)-1], cp.Psi[len(cp.Psi)-1])
}

func TestPosEndpoints(t *testing.T) {
	st, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, -5.0, st.Pos(0), 1e-12)
	assert.InDelta(t, 5.0, st.Pos(st.Res-1), 1e-12)
	assert.InDelta(t, 0.1, st.Dx(), 1e-12)
}

func TestParseShape(t *testing.T) {
	sh, err := ParseShape("SuperPosition")
	require.NoError(t, err)
	assert.Equal(t, ShapeSuperposition, sh)

	_, err = ParseShape("cat")
	assert.Error(t, err)

	assert.Equal(t, "ground", ShapeGround.String())
	assert.Equal(t, "excited", ShapeExcited.String())
}

func TestExcitedVanishesAtOrigin1D(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 101 // odd resolution puts a sample exactly at x=0
	cfg.Shape = ShapeExcited
	st, err := New(cfg)
	require.NoError(t, err)

	mid := st.Res / 2
	assert.InDelta(t, 0.0, st.Pos(mid), 1e-12)
	assert.InDelta(t, 0.0, math.Sqrt(st.Density()[mid]), 1e-12)
}
