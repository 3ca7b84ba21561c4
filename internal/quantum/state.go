// Package quantum implements the toy wave-function core: a fixed-resolution
// complex sample grid with closed-form phase evolution and renormalization.
// This is an educational stand-in, not a physics solver.
package quantum

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// Shape selects the initial wave-function profile.
type Shape uint8

const (
	ShapeGround        Shape = iota // Gaussian
	ShapeExcited                    // first excited state (x·Gaussian / r²·Gaussian)
	ShapeSuperposition              // (ground + i·excited)/√2
)

var shapeNames = [...]string{"ground", "excited", "superposition"}

// String returns the wire name of the shape.
func (sh Shape) String() string {
	if int(sh) < len(shapeNames) {
		return shapeNames[sh]
	}
	return "unknown"
}

// ParseShape converts a wire name ("ground", "excited", "superposition")
// into a Shape. Matching is case-insensitive.
func ParseShape(s string) (Shape, error) {
	for i, name := range shapeNames {
		if strings.EqualFold(s, name) {
			return Shape(i), nil
		}
	}
	return ShapeGround, fmt.Errorf("unknown shape %q", s)
}

// Config holds wave-function construction parameters.
type Config struct {
	Dimensions int     // 1 or 2
	Resolution int     // samples per dimension (≥ 2)
	Min, Max   float64 // spatial bounds, identical per dimension
	Shape      Shape
}

// DefaultConfig returns the standard 1D ground-state setup.
func DefaultConfig() Config {
	return Config{
		Dimensions: 1,
		Resolution: 100,
		Min:        -5,
		Max:        5,
		Shape:      ShapeGround,
	}
}

// State is a sampled complex wave function over a uniform grid.
// In 2D, Psi is row-major: Psi[row*Res + col] with y varying by row.
type State struct {
	Dims int
	Res  int
	Min  float64
	Max  float64
	Psi  []complex128
}

// New builds and normalizes a wave function from the config.
func New(cfg Config) (*State, error) {
	if cfg.Dimensions != 1 && cfg.Dimensions != 2 {
		return nil, fmt.Errorf("dimensions must be 1 or 2, got %d", cfg.Dimensions)
	}
	if cfg.Resolution < 2 {
		return nil, fmt.Errorf("resolution must be at least 2, got %d", cfg.Resolution)
	}
	if cfg.Max <= cfg.Min {
		return nil, fmt.Errorf("bounds must satisfy min < max, got [%g, %g]", cfg.Min, cfg.Max)
	}

	st := &State{
		Dims: cfg.Dimensions,
		Res:  cfg.Resolution,
		Min:  cfg.Min,
		Max:  cfg.Max,
	}

	n := cfg.Resolution
	if cfg.Dimensions == 2 {
		n *= cfg.Resolution
	}
	st.Psi = make([]complex128, n)
	st.fill(cfg.Shape)

	if err := st.Normalize(); err != nil {
		return nil, err
	}
	return st, nil
}

// Pos returns the sample position along one axis for index i.
// Endpoints are included, matching linspace semantics.
func (st *State) Pos(i int) float64 {
	return st.Min + (st.Max-st.Min)*float64(i)/float64(st.Res-1)
}

// Dx is the cell width used for probability integration.
func (st *State) Dx() float64 {
	return (st.Max - st.Min) / float64(st.Res)
}

// fill writes the raw (unnormalized) profile for a shape into Psi.
func (st *State) fill(shape Shape) {
	invSqrtPi := 1 / math.Sqrt(math.Pi)

	switch shape {
	case ShapeGround:
		st.each(func(i int, x, y float64) complex128 {
			r2 := x*x + y*y
			return complex(math.Exp(-r2/2)*invSqrtPi, 0)
		})
	case ShapeExcited:
		if st.Dims == 1 {
			st.each(func(i int, x, _ float64) complex128 {
				return complex(x*math.Exp(-x*x/2)*invSqrtPi, 0)
			})
		} else {
			st.each(func(i int, x, y float64) complex128 {
				r2 := x*x + y*y
				return complex(r2*math.Exp(-r2/2)*invSqrtPi, 0)
			})
		}
	case ShapeSuperposition:
		ground := make([]complex128, len(st.Psi))
		st.fill(ShapeGround)
		copy(ground, st.Psi)
		st.fill(ShapeExcited)
		invSqrt2 := complex(1/math.Sqrt2, 0)
		for i := range st.Psi {
			st.Psi[i] = (ground[i] + complex(0, 1)*st.Psi[i]) * invSqrt2
		}
	}
}

// each visits every sample with its spatial coordinates (y is 0 in 1D).
func (st *State) each(f func(i int, x, y float64) complex128) {
	if st.Dims == 1 {
		for i := range st.Psi {
			st.Psi[i] = f(i, st.Pos(i), 0)
		}
		return
	}
	for row := 0; row < st.Res; row++ {
		y := st.Pos(row)
		for col := 0; col < st.Res; col++ {
			i := row*st.Res + col
			st.Psi[i] = f(i, st.Pos(col), y)
		}
	}
}

// Evolve advances the wave function by dt using a position-dependent phase
// rotation: psi[i] *= exp(-i·E_i·dt). In 1D the energy ramps linearly from
// 0 to 5 across the grid; in 2D it is x²+y². Renormalizes afterward.
func (st *State) Evolve(dt float64) {
	if st.Dims == 1 {
		for i := range st.Psi {
			energy := 5 * float64(i) / float64(st.Res-1)
			st.Psi[i] *= cmplx.Exp(complex(0, -energy*dt))
		}
	} else {
		for row := 0; row < st.Res; row++ {
			y := st.Pos(row)
			for col := 0; col < st.Res; col++ {
				x := st.Pos(col)
				energy := x*x + y*y
				st.Psi[row*st.Res+col] *= cmplx.Exp(complex(0, -energy*dt))
			}
		}
	}
	// Phase rotation preserves magnitudes, but renormalize anyway so
	// accumulated float error never drifts the total probability.
	st.Normalize()
}

// Normalize rescales Psi so the summed probability density integrates to 1
// over the grid. Errors on an all-zero vector.
func (st *State) Normalize() error {
	var sum float64
	for _, a := range st.Psi {
		re, im := real(a), imag(a)
		sum += re*re + im*im
	}

	cell := st.Dx()
	if st.Dims == 2 {
		cell *= cell
	}
	norm := math.Sqrt(sum * cell)
	if norm == 0 {
		return fmt.Errorf("cannot normalize zero wave function")
	}

	inv := complex(1/norm, 0)
	for i := range st.Psi {
		st.Psi[i] *= inv
	}
	return nil
}

// Density returns |psi|² per sample.
func (st *State) Density() []float64 {
	out := make([]float64, len(st.Psi))
	for i, a := range st.Psi {
		re, im := real(a), imag(a)
		out[i] = re*re + im*im
	}
	return out
}

// TotalProbability integrates the density over the grid. 1.0 when normalized.
func (st *State) TotalProbability() float64 {
	var sum float64
	for _, a := range st.Psi {
		re, im := real(a), imag(a)
		sum += re*re + im*im
	}
	cell := st.Dx()
	if st.Dims == 2 {
		cell *= cell
	}
	return sum * cell
}

// Clone returns an independent deep copy.
func (st *State) Clone() *State {
	cp := *st
	cp.Psi = make([]complex128, len(st.Psi))
	copy(cp.Psi, st.Psi)
	return &cp
}
