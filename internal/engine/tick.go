// Package engine provides the tick-based simulation loop. Every tick evolves
// the multiverse by one time step; quantum events and persistence snapshots
// run on coarser cadences.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tick cadences. One tick is one evolution step of DefaultTimeStep.
const (
	TicksPerEvent    = 40  // auto quantum event every ~40 ticks (see EventJitter)
	TicksPerSnapshot = 600 // persistence snapshot every 600 ticks
)

// DefaultTimeStep is the simulated time advanced per tick.
const DefaultTimeStep = 0.1

// Engine drives the simulation forward. Tick, speed, and the running flag are
// guarded by a mutex: the loop goroutine reads them while HTTP handlers and
// the signal handler write.
type Engine struct {
	Interval time.Duration // Base tick interval (default 250ms)

	// Callbacks for each cadence — populated during setup.
	OnTick     func(tick uint64) // Every tick (one evolution step)
	OnEvent    func(tick uint64) // Roughly every TicksPerEvent ticks
	OnSnapshot func(tick uint64) // Every TicksPerSnapshot ticks

	// EventJitter, when set, offsets the gap to the next auto event by a few
	// ticks so forks do not land on a metronome.
	EventJitter func(tick uint64) int

	mu        sync.Mutex
	tick      uint64
	speed     float64 // Multiplier: 1.0 = real-time, 0 = paused
	running   bool
	nextEvent uint64
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		speed:    1.0,
		Interval: 250 * time.Millisecond,
	}
}

// Tick returns the current tick counter.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick resets the tick counter and reschedules the next auto event.
func (e *Engine) SetTick(tick uint64) {
	e.mu.Lock()
	e.tick = tick
	e.nextEvent = tick + TicksPerEvent
	e.mu.Unlock()
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. 0 pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the simulation loop. Blocks until Stop() is called.
func (e *Engine) Run() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())

	for e.Running() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused — sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick())
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	e.mu.Lock()
	e.tick++
	tick := e.tick

	if e.nextEvent == 0 {
		e.nextEvent = TicksPerEvent
	}
	fireEvent := tick >= e.nextEvent
	if fireEvent {
		gap := TicksPerEvent
		if e.EventJitter != nil {
			if off := e.EventJitter(tick); gap+off >= 1 {
				gap += off
			}
		}
		e.nextEvent = tick + uint64(gap)
	}
	e.mu.Unlock()

	// Every tick: phase evolution across all branches.
	if e.OnTick != nil {
		e.OnTick(tick)
	}

	// Periodic quantum event: fork a random eligible branch.
	if fireEvent && e.OnEvent != nil {
		e.OnEvent(tick)
	}

	// Periodic persistence snapshot.
	if tick%TicksPerSnapshot == 0 && e.OnSnapshot != nil {
		e.OnSnapshot(tick)
	}
}

// SimTime renders a tick as the simulated clock: accumulated evolution time
// plus the epoch count (one epoch per auto event).
func SimTime(tick uint64) string {
	return fmt.Sprintf("t=%.1f epoch %d", float64(tick)*DefaultTimeStep, tick/TicksPerEvent)
}
