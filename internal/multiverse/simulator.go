package multiverse

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/multiverse-analyzer/internal/fluctuation"
	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

// DefaultMaxDepth bounds the branching tree. With fan-out 2–3 this keeps the
// flat branch list in the low hundreds even on long runs.
const DefaultMaxDepth = 6

// MaxFanOut caps how many children a single quantum event may create.
const MaxFanOut = 8

// EventLogCap bounds the in-memory event log; older entries are trimmed.
const EventLogCap = 1000

// Event is a notable occurrence in the multiverse.
type Event struct {
	Tick        uint64 `json:"tick"`
	Description string `json:"description"`
	Category    string `json:"category"` // "fork", "evolve", "select", "init"
}

// Config holds simulator construction parameters.
type Config struct {
	Dimensions int
	Resolution int
	Shape      quantum.Shape
	MaxDepth   int
	Seed       int64 // drives the fluctuation field
}

// DefaultConfig returns a 1D ground-state multiverse.
func DefaultConfig() Config {
	return Config{
		Dimensions: 1,
		Resolution: 100,
		Shape:      quantum.ShapeGround,
		MaxDepth:   DefaultMaxDepth,
		Seed:       42,
	}
}

// Simulator owns the branch tree and the simulated clock.
// All exported methods are safe for concurrent use: the tick engine mutates
// while HTTP handlers read.
type Simulator struct {
	mu sync.RWMutex

	root    *Branch
	current *Branch

	// branches is the flat list in creation order. Indices into it are the
	// API contract for branch selection, so order never changes.
	branches []*Branch

	time float64
	tick uint64

	events   []Event
	maxDepth int
	seed     int64

	// Flux perturbs fork probability splits. Nil means uniform splits.
	Flux *fluctuation.Field

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// New creates a simulator with a single root branch.
func New(cfg Config) (*Simulator, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	root, err := quantum.New(quantum.Config{
		Dimensions: cfg.Dimensions,
		Resolution: cfg.Resolution,
		Min:        -5,
		Max:        5,
		Shape:      cfg.Shape,
	})
	if err != nil {
		return nil, fmt.Errorf("root state: %w", err)
	}

	rb := newBranch(root, cfg.Shape, nil, 1.0, 0, 0)
	sim := &Simulator{
		root:        rb,
		current:     rb,
		branches:    []*Branch{rb},
		maxDepth:    cfg.MaxDepth,
		seed:        cfg.Seed,
		Flux:        fluctuation.NewField(cfg.Seed),
		subscribers: make(map[int]chan Event),
	}

	sim.EmitEvent(Event{
		Description: fmt.Sprintf("multiverse initialized (%dD, resolution %d, %s state)",
			cfg.Dimensions, cfg.Resolution, cfg.Shape),
		Category: "init",
	})
	return sim, nil
}

// TriggerEvent forks the given branch (nil = current) into n children.
// The first child keeps the ground profile, the second takes excited, and
// every further child lands in superposition. The probability split is
// near-uniform, perturbed by the fluctuation field.
func (s *Simulator) TriggerEvent(b *Branch, n int) ([]*Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b == nil {
		b = s.current
	}
	if n < 2 {
		n = 2
	}
	if n > MaxFanOut {
		return nil, fmt.Errorf("fan-out %d exceeds maximum %d", n, MaxFanOut)
	}
	if b.Depth >= s.maxDepth {
		return nil, fmt.Errorf("branch at depth %d cannot fork (max depth %d)", b.Depth, s.maxDepth)
	}

	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 1.0 / float64(n)
	}
	if s.Flux != nil {
		s.Flux.PerturbSplit(probs, s.time)
	}

	children := make([]*Branch, 0, n)
	for i := 0; i < n; i++ {
		var shape quantum.Shape
		switch i {
		case 0:
			shape = quantum.ShapeGround
		case 1:
			shape = quantum.ShapeExcited
		default:
			shape = quantum.ShapeSuperposition
		}
		st, err := quantum.New(quantum.Config{
			Dimensions: b.State.Dims,
			Resolution: b.State.Res,
			Min:        b.State.Min,
			Max:        b.State.Max,
			Shape:      shape,
		})
		if err != nil {
			return nil, fmt.Errorf("child state: %w", err)
		}
		child := newBranch(st, shape, b, probs[i], s.tick, s.time)
		children = append(children, child)
		s.branches = append(s.branches, child)
	}

	s.emitLocked(Event{
		Tick:        s.tick,
		Description: fmt.Sprintf("quantum event: %d branches forked at depth %d", n, b.Depth+1),
		Category:    "fork",
	})
	slog.Debug("quantum event", "fan_out", n, "depth", b.Depth+1, "total_branches", len(s.branches))

	return children, nil
}

// EvolveAll advances simulated time by dt and evolves every branch.
func (s *Simulator) EvolveAll(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.time += dt
	for _, b := range s.branches {
		b.State.Evolve(dt)
	}
}

// SetTick records the driving engine's tick for event timestamps.
func (s *Simulator) SetTick(tick uint64) {
	s.mu.Lock()
	s.tick = tick
	s.mu.Unlock()
}

// Select makes the branch at the given flat index current.
func (s *Simulator) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.branches) {
		return fmt.Errorf("branch index %d out of range [0, %d)", index, len(s.branches))
	}
	s.current = s.branches[index]
	s.emitLocked(Event{
		Tick:        s.tick,
		Description: fmt.Sprintf("observer moved to branch %d", index),
		Category:    "select",
	})
	return nil
}

// PickForkTarget maps a uniform random value in [0,1) to a branch that can
// still fork. Returns nil when the whole tree has reached maximum depth.
func (s *Simulator) PickForkTarget(r float64) *Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var eligible []*Branch
	for _, b := range s.branches {
		if b.Depth < s.maxDepth && b.Leaf() {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	i := int(r * float64(len(eligible)))
	if i >= len(eligible) {
		i = len(eligible) - 1
	}
	return eligible[i]
}

// Node is one element of the serializable tree structure.
type Node struct {
	ID          uuid.UUID `json:"id"`
	Probability float64   `json:"probability"`
	Shape       string    `json:"shape"`
	Children    []Node    `json:"children"`
}

// Structure returns the recursive branch tree with absolute probabilities.
func (s *Simulator) Structure() Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildNode(s.root)
}

func buildNode(b *Branch) Node {
	n := Node{
		ID:          b.ID,
		Probability: b.AbsProb,
		Shape:       b.Shape.String(),
		Children:    make([]Node, 0, len(b.Children)),
	}
	for _, c := range b.Children {
		n.Children = append(n.Children, buildNode(c))
	}
	return n
}

// Root returns the root branch.
func (s *Simulator) Root() *Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Current returns the currently selected branch.
func (s *Simulator) Current() *Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Branches returns a snapshot copy of the flat branch list.
func (s *Simulator) Branches() []*Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Branch, len(s.branches))
	copy(out, s.branches)
	return out
}

// BranchAt returns the branch at a flat index, or an error.
func (s *Simulator) BranchAt(index int) (*Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.branches) {
		return nil, fmt.Errorf("branch index %d out of range [0, %d)", index, len(s.branches))
	}
	return s.branches[index], nil
}

// CurrentIndex returns the flat index of the current branch.
func (s *Simulator) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, b := range s.branches {
		if b == s.current {
			return i
		}
	}
	return 0
}

// BranchCount returns the number of branches.
func (s *Simulator) BranchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.branches)
}

// Time returns the accumulated simulated time.
func (s *Simulator) Time() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.time
}

// Tick returns the last recorded engine tick.
func (s *Simulator) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// MaxDepth returns the configured branching depth cap.
func (s *Simulator) MaxDepth() int {
	return s.maxDepth
}

// Seed returns the fluctuation seed the simulator was built with.
func (s *Simulator) Seed() int64 {
	return s.seed
}

// SetRootID overrides the root branch ID. Used when replaying a saved run so
// restored identities match the original tree.
func (s *Simulator) SetRootID(id uuid.UUID) {
	s.mu.Lock()
	s.root.ID = id
	s.mu.Unlock()
}

// Events returns a snapshot of the event log, newest last.
func (s *Simulator) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EmitEvent appends to the event log and fans out to subscribers.
func (s *Simulator) EmitEvent(e Event) {
	s.mu.Lock()
	s.emitLocked(e)
	s.mu.Unlock()
}

// emitLocked requires s.mu held.
func (s *Simulator) emitLocked(e Event) {
	s.events = append(s.events, e)
	if len(s.events) > EventLogCap {
		s.events = s.events[len(s.events)-EventLogCap:]
	}

	s.subMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default: // slow subscriber drops events rather than stalling ticks
		}
	}
	s.subMu.Unlock()
}

// Subscribe registers an event channel for SSE streaming.
func (s *Simulator) Subscribe() (int, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, 64)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Simulator) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// CloseSubscribers closes every subscriber channel. Called when this
// simulator is replaced so streaming clients can re-attach to its successor.
func (s *Simulator) CloseSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// RestoreBranch re-links a branch loaded from persistence. Used only by the
// persistence layer when replaying a saved run; probabilities and order come
// from the database.
func (s *Simulator) RestoreBranch(parentIndex int, shape quantum.Shape, prob float64, bornTick uint64, bornTime float64, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentIndex < 0 || parentIndex >= len(s.branches) {
		return fmt.Errorf("restore: parent index %d out of range", parentIndex)
	}
	parent := s.branches[parentIndex]

	st, err := quantum.New(quantum.Config{
		Dimensions: parent.State.Dims,
		Resolution: parent.State.Res,
		Min:        parent.State.Min,
		Max:        parent.State.Max,
		Shape:      shape,
	})
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	b := newBranch(st, shape, parent, prob, bornTick, bornTime)
	b.ID = id
	s.branches = append(s.branches, b)
	return nil
}

// RestoreEvents seeds the event log with persisted history, oldest first,
// ahead of anything emitted since construction.
func (s *Simulator) RestoreEvents(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make([]Event, 0, len(events)+len(s.events))
	restored = append(restored, events...)
	restored = append(restored, s.events...)
	if len(restored) > EventLogCap {
		restored = restored[len(restored)-EventLogCap:]
	}
	s.events = restored
}

// RestoreClock sets time and tick from persisted metadata and replays the
// phase evolution so every branch's wave function matches the saved run.
func (s *Simulator) RestoreClock(tick uint64, simTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick = tick
	s.time = simTime
	// Phase factors compose: evolving once by the elapsed time equals the
	// original sequence of small steps. Each branch has only evolved since
	// its fork, so replay from its born time.
	for _, b := range s.branches {
		if dt := simTime - b.BornTime; dt > 0 {
			b.State.Evolve(dt)
		}
	}
}
