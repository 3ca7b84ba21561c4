package multiverse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

func newTestSim(t *testing.T) *Simulator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Resolution = 32
	sim, err := New(cfg)
	require.NoError(t, err)
	return sim
}

func TestNewSimulator(t *testing.T) {
	sim := newTestSim(t)

	assert.Equal(t, 1, sim.BranchCount())
	assert.Same(t, sim.Root(), sim.Current())
	assert.Equal(t, 1.0, sim.Root().AbsProb)
	assert.Equal(t, 0, sim.CurrentIndex())

	events := sim.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "init", events[0].Category)
}

func TestTriggerEvent(t *testing.T) {
	sim := newTestSim(t)

	children, err := sim.TriggerEvent(nil, 3)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, 4, sim.BranchCount())

	// Relative probabilities of one fork sum to 1.
	total := 0.0
	for _, c := range children {
		total += c.BranchProb
		assert.Same(t, sim.Root(), c.Parent)
		assert.Equal(t, 1, c.Depth)
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	// First child ground, second excited, the rest superposition.
	assert.Equal(t, quantum.ShapeGround, children[0].Shape)
	assert.Equal(t, quantum.ShapeExcited, children[1].Shape)
	assert.Equal(t, quantum.ShapeSuperposition, children[2].Shape)
}

func TestWideForkShapes(t *testing.T) {
	sim := newTestSim(t)

	children, err := sim.TriggerEvent(nil, 5)
	require.NoError(t, err)
	require.Len(t, children, 5)

	assert.Equal(t, quantum.ShapeGround, children[0].Shape)
	assert.Equal(t, quantum.ShapeExcited, children[1].Shape)
	for i, c := range children[2:] {
		assert.Equal(t, quantum.ShapeSuperposition, c.Shape, "child %d", i+2)
	}
}

func TestAbsoluteProbabilityChains(t *testing.T) {
	sim := newTestSim(t)

	first, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)

	second, err := sim.TriggerEvent(first[0], 2)
	require.NoError(t, err)

	for _, c := range second {
		assert.InDelta(t, first[0].AbsProb*c.BranchProb, c.AbsProb, 1e-12)
	}
}

func TestFanOutClampAndCap(t *testing.T) {
	sim := newTestSim(t)

	// n < 2 is clamped up to 2.
	children, err := sim.TriggerEvent(nil, 1)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	_, err = sim.TriggerEvent(nil, MaxFanOut+1)
	assert.Error(t, err)
}

func TestDepthCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 16
	cfg.MaxDepth = 2
	sim, err := New(cfg)
	require.NoError(t, err)

	b := sim.Root()
	for depth := 0; depth < 2; depth++ {
		children, err := sim.TriggerEvent(b, 2)
		require.NoError(t, err)
		b = children[0]
	}

	_, err = sim.TriggerEvent(b, 2)
	assert.Error(t, err, "fork beyond max depth must be refused")
}

func TestSelect(t *testing.T) {
	sim := newTestSim(t)
	_, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)

	require.NoError(t, sim.Select(2))
	assert.Equal(t, 2, sim.CurrentIndex())

	assert.Error(t, sim.Select(-1))
	assert.Error(t, sim.Select(99))
}

func TestEvolveAll(t *testing.T) {
	sim := newTestSim(t)
	_, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)

	sim.EvolveAll(0.1)
	sim.EvolveAll(0.1)

	assert.InDelta(t, 0.2, sim.Time(), 1e-12)
	for _, b := range sim.Branches() {
		assert.InDelta(t, 1.0, b.State.TotalProbability(), 1e-9)
	}
}

func TestStructure(t *testing.T) {
	sim := newTestSim(t)
	first, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)
	_, err = sim.TriggerEvent(first[1], 2)
	require.NoError(t, err)

	root := sim.Structure()
	assert.Equal(t, 1.0, root.Probability)
	require.Len(t, root.Children, 2)
	assert.Len(t, root.Children[1].Children, 2)
	assert.Empty(t, root.Children[0].Children)
}

func TestPickForkTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 16
	cfg.MaxDepth = 1
	sim, err := New(cfg)
	require.NoError(t, err)

	// Only the root is eligible at first.
	assert.Same(t, sim.Root(), sim.PickForkTarget(0.99))

	_, err = sim.TriggerEvent(nil, 2)
	require.NoError(t, err)

	// Children sit at max depth and the root is no longer a leaf.
	assert.Nil(t, sim.PickForkTarget(0.5))
}

func TestSubscribeReceivesEvents(t *testing.T) {
	sim := newTestSim(t)

	id, ch := sim.Subscribe()
	defer sim.Unsubscribe(id)

	_, err := sim.TriggerEvent(nil, 2)
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, "fork", e.Category)
	default:
		t.Fatal("expected a fork event on the subscription channel")
	}
}

func TestCloseSubscribersDetachesAll(t *testing.T) {
	sim := newTestSim(t)

	_, ch1 := sim.Subscribe()
	_, ch2 := sim.Subscribe()

	sim.CloseSubscribers()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	// A replaced simulator must not panic on later unsubscribes.
	sim.Unsubscribe(0)
}

func TestRestoreEvents(t *testing.T) {
	sim := newTestSim(t)

	history := []Event{
		{Tick: 10, Description: "quantum event: 2 branches forked at depth 1", Category: "fork"},
		{Tick: 20, Description: "observer moved to branch 1", Category: "select"},
	}
	sim.RestoreEvents(history)

	events := sim.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "fork", events[0].Category)
	assert.Equal(t, "select", events[1].Category)
	assert.Equal(t, "init", events[2].Category)
}

func TestRestoreRoundTrip(t *testing.T) {
	src := newTestSim(t)
	// Fork mid-run so restore has to replay branches from different ages.
	src.EvolveAll(0.3)
	children, err := src.TriggerEvent(nil, 2)
	require.NoError(t, err)
	src.SetTick(50)
	src.EvolveAll(0.2)

	cfg := DefaultConfig()
	cfg.Resolution = 32
	dst, err := New(cfg)
	require.NoError(t, err)

	for _, c := range children {
		require.NoError(t, dst.RestoreBranch(0, c.Shape, c.BranchProb, c.BornTick, c.BornTime, c.ID))
	}
	dst.RestoreClock(50, 0.5)

	assert.Equal(t, src.BranchCount(), dst.BranchCount())
	assert.Equal(t, src.Tick(), dst.Tick())
	assert.InDelta(t, src.Time(), dst.Time(), 1e-12)

	// Replayed evolution reproduces the wave functions.
	for i := range src.Branches() {
		sb := src.Branches()[i]
		db := dst.Branches()[i]
		if i > 0 {
			// Root IDs differ (the destination minted its own); restored
			// children carry their persisted IDs.
			assert.Equal(t, sb.ID, db.ID)
		}
		for j := range sb.State.Psi {
			assert.InDelta(t, real(sb.State.Psi[j]), real(db.State.Psi[j]), 1e-9)
			assert.InDelta(t, imag(sb.State.Psi[j]), imag(db.State.Psi[j]), 1e-9)
		}
	}
}
