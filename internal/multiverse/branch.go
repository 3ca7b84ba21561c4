// Package multiverse maintains the branching universe tree: every quantum
// event forks a branch into children with assigned probabilities, each child
// carrying its own wave function.
package multiverse

import (
	"github.com/google/uuid"

	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

// Branch is a node in the multiverse tree.
type Branch struct {
	ID       uuid.UUID
	Parent   *Branch
	Children []*Branch

	State *quantum.State
	Shape quantum.Shape

	// BranchProb is the probability relative to the parent at fork time.
	// AbsProb is the product of BranchProb along the ancestry (root = 1).
	BranchProb float64
	AbsProb    float64

	BornTick uint64
	// BornTime is the simulated time at fork. Fresh branches have evolved
	// only from this point on, which restore-from-persistence relies on.
	BornTime float64
	Depth    int
}

// newBranch links a child under parent and derives its absolute probability.
func newBranch(state *quantum.State, shape quantum.Shape, parent *Branch, prob float64, tick uint64, bornTime float64) *Branch {
	b := &Branch{
		ID:         uuid.New(),
		Parent:     parent,
		State:      state,
		Shape:      shape,
		BranchProb: prob,
		AbsProb:    prob,
	}
	if parent != nil {
		b.AbsProb = parent.AbsProb * prob
		b.Depth = parent.Depth + 1
		b.BornTick = tick
		b.BornTime = bornTime
		parent.Children = append(parent.Children, b)
	}
	return b
}

// Leaf reports whether the branch has no children.
func (b *Branch) Leaf() bool {
	return len(b.Children) == 0
}
