package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepCadence(t *testing.T) {
	e := NewEngine()

	var ticks, events, snapshots int
	e.OnTick = func(uint64) { ticks++ }
	e.OnEvent = func(uint64) { events++ }
	e.OnSnapshot = func(uint64) { snapshots++ }

	for i := 0; i < TicksPerSnapshot; i++ {
		e.step()
	}

	assert.Equal(t, TicksPerSnapshot, ticks)
	assert.Equal(t, TicksPerSnapshot/TicksPerEvent, events)
	assert.Equal(t, 1, snapshots)
	assert.Equal(t, uint64(TicksPerSnapshot), e.Tick())
}

func TestEventCadenceJitter(t *testing.T) {
	e := NewEngine()
	e.EventJitter = func(uint64) int { return 5 }

	var fired []uint64
	e.OnEvent = func(tick uint64) { fired = append(fired, tick) }

	for i := 0; i < 100; i++ {
		e.step()
	}

	// First event on the base cadence, the next one shifted by the jitter.
	assert.Equal(t, []uint64{40, 85}, fired)
}

func TestEventJitterNeverStalls(t *testing.T) {
	e := NewEngine()
	e.EventJitter = func(uint64) int { return -TicksPerEvent * 2 }

	var fired []uint64
	e.OnEvent = func(tick uint64) { fired = append(fired, tick) }

	for i := 0; i < 81; i++ {
		e.step()
	}

	// A jitter that would schedule the next event in the past is ignored.
	assert.Equal(t, []uint64{40, 80}, fired)
}

func TestSetTickReschedulesEvents(t *testing.T) {
	e := NewEngine()

	var fired []uint64
	e.OnEvent = func(tick uint64) { fired = append(fired, tick) }

	for i := 0; i < 50; i++ {
		e.step()
	}
	e.SetTick(0)
	for i := 0; i < 45; i++ {
		e.step()
	}

	assert.Equal(t, []uint64{40, 40}, fired)
}

func TestStepNilCallbacks(t *testing.T) {
	e := NewEngine()
	for i := 0; i < TicksPerEvent; i++ {
		e.step() // must not panic with no callbacks wired
	}
	assert.Equal(t, uint64(TicksPerEvent), e.Tick())
}

func TestRunConcurrentControl(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Millisecond

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	for !e.Running() {
		time.Sleep(time.Millisecond)
	}
	e.SetSpeed(4)
	e.SetTick(100)
	e.Stop()
	<-done

	assert.False(t, e.Running())
	assert.Equal(t, 4.0, e.Speed())
}

func TestSimTime(t *testing.T) {
	assert.Equal(t, "t=0.0 epoch 0", SimTime(0))
	assert.Equal(t, "t=4.0 epoch 1", SimTime(40))
	assert.Equal(t, "t=12.5 epoch 3", SimTime(125))
}
