package viz

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/multiverse-analyzer/internal/multiverse"
	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

func forkedSim(t *testing.T) *multiverse.Simulator {
	t.Helper()
	cfg := multiverse.DefaultConfig()
	cfg.Resolution = 24
	sim, err := multiverse.New(cfg)
	require.NoError(t, err)

	first, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)
	_, err = sim.TriggerEvent(first[0], 3)
	require.NoError(t, err)
	return sim
}

func TestWaveSeries1D(t *testing.T) {
	st, err := quantum.New(quantum.DefaultConfig())
	require.NoError(t, err)

	w := WaveSeries(st)
	assert.Equal(t, 1, w.Dimensions)
	assert.Len(t, w.X, 100)
	assert.Len(t, w.Density, 100)
	assert.Len(t, w.Real, 100)
	assert.Len(t, w.Imag, 100)
	assert.InDelta(t, -5, w.X[0], 1e-12)
	assert.InDelta(t, 5, w.X[99], 1e-12)
}

func TestWaveSeries2D(t *testing.T) {
	cfg := quantum.DefaultConfig()
	cfg.Dimensions = 2
	cfg.Resolution = 16
	st, err := quantum.New(cfg)
	require.NoError(t, err)

	w := WaveSeries(st)
	assert.Equal(t, 2, w.Dimensions)
	assert.Equal(t, 16, w.Resolution)
	assert.Len(t, w.Density, 16*16)
	assert.Empty(t, w.X)
	assert.Empty(t, w.Real)
}

func TestTreeLayout(t *testing.T) {
	sim := forkedSim(t)

	segs := TreeLayout(sim.Root())
	assert.Len(t, segs, sim.BranchCount(), "one segment per branch")

	// Root segment spans the full slot at depth 0.
	assert.Equal(t, 0.0, segs[0].Y0)
	assert.Equal(t, 1.0, segs[0].Y1)
	assert.Equal(t, 10.0, segs[0].X1-segs[0].X0)
	assert.Equal(t, 1.0, segs[0].Prob)

	// Children of one fork split the parent slot evenly.
	var depth1 []Segment
	for _, s := range segs {
		if s.Y0 == 1.0 {
			depth1 = append(depth1, s)
		}
	}
	require.Len(t, depth1, 2)
	assert.InDelta(t, 5.0, depth1[0].X1-depth1[0].X0, 1e-12)
}

func TestSpectrumSeries(t *testing.T) {
	sim := forkedSim(t)
	branches := sim.Branches()

	sp := SpectrumSeries(branches, 1)
	assert.Len(t, sp.X, SpectrumResolution)
	assert.Len(t, sp.Lines, len(branches))
	require.Len(t, sp.Current, SpectrumResolution)
	assert.Equal(t, sp.Lines[1], sp.Current)

	// Every line is non-negative and not identically zero.
	for _, line := range sp.Lines {
		peak := 0.0
		for _, v := range line {
			assert.GreaterOrEqual(t, v, 0.0)
			if v > peak {
				peak = v
			}
		}
		assert.Greater(t, peak, 0.0)
	}
}

func TestNavigatorPoints(t *testing.T) {
	sim := forkedSim(t)
	branches := sim.Branches()

	nav := NavigatorPoints(branches, sim.CurrentIndex())
	require.Len(t, nav.Points, len(branches))

	currents := 0
	for _, p := range nav.Points {
		assert.GreaterOrEqual(t, p.Theta, 0.0)
		assert.Less(t, p.Theta, 2*math.Pi)
		assert.GreaterOrEqual(t, p.R, 0.5)
		assert.LessOrEqual(t, p.R, 1.0)
		if p.Current {
			currents++
		}
	}
	assert.Equal(t, 1, currents)

	// One link per parent-child edge: every branch except the root.
	assert.Len(t, nav.Links, len(branches)-1)
}

func TestNavigatorEmpty(t *testing.T) {
	nav := NavigatorPoints(nil, 0)
	assert.Empty(t, nav.Points)
	assert.Empty(t, nav.Links)
}
