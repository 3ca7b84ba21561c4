// Package viz turns simulator state into plain numeric series for the
// browser canvas plots (wave plot, branch tree, spectrum, polar navigator).
// Nothing here draws; the frontend owns pixels.
package viz

import (
	"math"

	"github.com/google/uuid"

	"github.com/talgya/multiverse-analyzer/internal/multiverse"
	"github.com/talgya/multiverse-analyzer/internal/quantum"
)

// SpectrumResolution is the number of samples per spectral line.
const SpectrumResolution = 100

// SpectrumRange is the upper bound of the spectrum x-axis.
const SpectrumRange = 10.0

// WaveData carries the wave plot series. In 1D, X/Density/Real/Imag are
// parallel slices. In 2D, Density is the flattened row-major grid and
// Resolution lets the client reshape it; Real/Imag are omitted.
type WaveData struct {
	Dimensions int       `json:"dimensions"`
	Resolution int       `json:"resolution"`
	X          []float64 `json:"x,omitempty"`
	Density    []float64 `json:"density"`
	Real       []float64 `json:"real,omitempty"`
	Imag       []float64 `json:"imag,omitempty"`
}

// WaveSeries extracts the plot series from a wave function.
func WaveSeries(st *quantum.State) WaveData {
	data := WaveData{
		Dimensions: st.Dims,
		Resolution: st.Res,
		Density:    st.Density(),
	}
	if st.Dims != 1 {
		return data
	}

	data.X = make([]float64, st.Res)
	data.Real = make([]float64, st.Res)
	data.Imag = make([]float64, st.Res)
	for i, a := range st.Psi {
		data.X[i] = st.Pos(i)
		data.Real[i] = real(a)
		data.Imag[i] = imag(a)
	}
	return data
}

// Segment is one line of the branching-tree plot. Y is branching depth.
type Segment struct {
	ID   uuid.UUID `json:"id"`
	X0   float64   `json:"x0"`
	Y0   float64   `json:"y0"`
	X1   float64   `json:"x1"`
	Y1   float64   `json:"y1"`
	Prob float64   `json:"prob"`
}

// TreeLayout computes line segments for the branch tree: each branch spans a
// horizontal slot subdivided among its children, one depth level per row.
func TreeLayout(root *multiverse.Branch) []Segment {
	var segs []Segment
	layoutBranch(root, 0, 0, 10, &segs)
	return segs
}

func layoutBranch(b *multiverse.Branch, x, y, dx float64, segs *[]Segment) {
	*segs = append(*segs, Segment{
		ID:   b.ID,
		X0:   x,
		Y0:   y,
		X1:   x + dx,
		Y1:   y + 1,
		Prob: b.AbsProb,
	})

	n := len(b.Children)
	if n == 0 {
		return
	}
	childDx := dx / float64(n)
	for i, c := range b.Children {
		childX := x + dx - childDx*float64(n-i)
		layoutBranch(c, childX, y+1, childDx, segs)
	}
}

// SpectrumData holds one Gaussian-peak series per branch plus a highlighted
// series for the current branch.
type SpectrumData struct {
	X       []float64   `json:"x"`
	Lines   [][]float64 `json:"lines"`
	Current []float64   `json:"current"`
}

// SpectrumSeries synthesizes a spectral line per branch: four Gaussian peaks
// whose positions derive from the branch index and whose heights scale with
// absolute probability.
func SpectrumSeries(branches []*multiverse.Branch, currentIdx int) SpectrumData {
	x := make([]float64, SpectrumResolution)
	for i := range x {
		x[i] = SpectrumRange * float64(i) / float64(SpectrumResolution-1)
	}

	data := SpectrumData{
		X:     x,
		Lines: make([][]float64, len(branches)),
	}
	for i, b := range branches {
		data.Lines[i] = spectralLine(x, i, b.AbsProb)
	}
	if currentIdx >= 0 && currentIdx < len(branches) {
		data.Current = spectralLine(x, currentIdx, branches[currentIdx].AbsProb)
	}
	return data
}

func spectralLine(x []float64, index int, absProb float64) []float64 {
	y := make([]float64, len(x))
	for j := 1; j < 5; j++ {
		position := math.Mod(float64(index)*2.5+float64(j), SpectrumRange)
		height := absProb * float64(5-j) / 2
		for k, xv := range x {
			d := xv - position
			y[k] += height * math.Exp(-d*d/0.1)
		}
	}
	return y
}

// PolarPoint places one branch on the navigator plot.
type PolarPoint struct {
	Theta   float64 `json:"theta"`
	R       float64 `json:"r"`
	Current bool    `json:"current"`
}

// Link connects a parent's polar point to a child's.
type Link struct {
	FromTheta float64 `json:"from_theta"`
	FromR     float64 `json:"from_r"`
	ToTheta   float64 `json:"to_theta"`
	ToR       float64 `json:"to_r"`
}

// NavigatorData is the polar navigator: a point per branch, links along the
// tree edges.
type NavigatorData struct {
	Points []PolarPoint `json:"points"`
	Links  []Link       `json:"links"`
}

// NavigatorPoints maps branches onto polar coordinates: angle by flat index,
// radius by absolute probability.
func NavigatorPoints(branches []*multiverse.Branch, currentIdx int) NavigatorData {
	n := len(branches)
	data := NavigatorData{Points: make([]PolarPoint, n)}
	if n == 0 {
		return data
	}

	index := make(map[*multiverse.Branch]int, n)
	for i, b := range branches {
		index[b] = i
		data.Points[i] = PolarPoint{
			Theta:   float64(i) / float64(n) * 2 * math.Pi,
			R:       0.5 + b.AbsProb*0.5,
			Current: i == currentIdx,
		}
	}

	for i, b := range branches {
		from := data.Points[i]
		for _, c := range b.Children {
			ci, ok := index[c]
			if !ok {
				continue
			}
			to := data.Points[ci]
			data.Links = append(data.Links, Link{
				FromTheta: from.Theta,
				FromR:     from.R,
				ToTheta:   to.Theta,
				ToR:       to.R,
			})
		}
	}
	return data
}
