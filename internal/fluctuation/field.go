// Package fluctuation provides a deterministic vacuum-noise field built from
// layered simplex noise. It nudges fork probabilities away from the uniform
// split and jitters the auto-event cadence, so repeated runs with the same
// seed produce the same multiverse.
package fluctuation

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// DefaultAmplitude bounds the probability jitter before renormalization.
const DefaultAmplitude = 0.1

// MinSplitProb is the floor for any perturbed branch probability.
const MinSplitProb = 0.01

// MaxEventJitter bounds the auto-event cadence offset, in ticks.
const MaxEventJitter = 10

// Field samples bounded noise indexed by (branch, sim-time).
type Field struct {
	noise     opensimplex.Noise
	Amplitude float64
}

// NewField creates a fluctuation field for the given seed.
func NewField(seed int64) *Field {
	return &Field{
		noise:     opensimplex.NewNormalized(seed),
		Amplitude: DefaultAmplitude,
	}
}

// Sample returns a jitter value in [-Amplitude, +Amplitude] for a branch
// index at simulation time t.
func (f *Field) Sample(branchIndex int, t float64) float64 {
	// Two octaves are plenty for a jitter signal.
	n := octaveNoise(f.noise, float64(branchIndex)*1.7, t, 2, 0.35, 0.5)
	return (n*2 - 1) * f.Amplitude
}

// PerturbSplit applies per-child jitter to a probability split and
// renormalizes so the probabilities still sum to 1. Each entry keeps a small
// positive floor so no branch is born impossible.
func (f *Field) PerturbSplit(probs []float64, t float64) {
	total := 0.0
	for i := range probs {
		probs[i] += f.Sample(i, t)
		if probs[i] < MinSplitProb {
			probs[i] = MinSplitProb
		}
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
}

// EventJitter returns a tick offset in [-MaxEventJitter, +MaxEventJitter]
// used to shift when the next auto quantum event fires. The negative second
// coordinate keeps this signal off the lattice PerturbSplit samples.
func (f *Field) EventJitter(tick uint64) int {
	n := octaveNoise(f.noise, float64(tick)*0.13, -3.7, 2, 0.35, 0.5)
	return int((n*2 - 1) * MaxEventJitter)
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
