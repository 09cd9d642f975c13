// Package threshold selects global intensity thresholds from image histograms.
package threshold

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultBins is the histogram resolution used for threshold selection on
// non-integer data
const DefaultBins = 256

// MaxLevels caps the number of bins of a per-level histogram
const MaxLevels = 1 << 16

// Histogram holds bin counts and bin centres spanning [min, max] of the data
type Histogram struct {
	Counts  []float64
	Centers []float64
}

// NewHistogram bins values into nbins equal-width bins between the minimum
// and maximum value. The last bin is closed on the right.
func NewHistogram(values []float64, nbins int) Histogram {
	if len(values) == 0 || nbins <= 0 {
		return Histogram{}
	}

	lo, hi := floats.Min(values), floats.Max(values)
	counts := make([]float64, nbins)
	centers := make([]float64, nbins)

	width := (hi - lo) / float64(nbins)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*width
	}

	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(nbins))
			if idx >= nbins {
				idx = nbins - 1
			}
		}
		counts[idx]++
	}

	return Histogram{Counts: counts, Centers: centers}
}

// LevelHistogram builds one bin per integer level between the minimum and
// maximum value, with the level itself as bin centre. ok is false when a
// value is not a whole number or the range spans more than MaxLevels levels.
func LevelHistogram(values []float64) (h Histogram, ok bool) {
	if len(values) == 0 {
		return Histogram{}, false
	}
	for _, v := range values {
		if v != math.Trunc(v) {
			return Histogram{}, false
		}
	}

	lo, hi := floats.Min(values), floats.Max(values)
	if hi-lo+1 > MaxLevels {
		return Histogram{}, false
	}

	n := int(hi-lo) + 1
	counts := make([]float64, n)
	centers := make([]float64, n)
	for i := range centers {
		centers[i] = lo + float64(i)
	}
	for _, v := range values {
		counts[int(v-lo)]++
	}
	return Histogram{Counts: counts, Centers: centers}, true
}

// histogramFor uses per-level bins for integer images, as 8- and 16-bit
// microscopy planes are, and nbins equal-width bins otherwise
func histogramFor(values []float64, nbins int) Histogram {
	if h, ok := LevelHistogram(values); ok {
		return h
	}
	return NewHistogram(values, nbins)
}

// Values flattens a matrix into a row-major slice
func Values(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out = append(out, m.At(y, x))
		}
	}
	return out
}

// Otsu returns the threshold that maximises the between-class variance of
// the two pixel populations it separates, which is the same split that
// minimises the summed intra-class variance. Integer data is histogrammed
// per level and nbins only applies to non-integer data. A constant image
// returns its single value.
func Otsu(values []float64, nbins int) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		return lo
	}

	h := histogramFor(values, nbins)
	n := len(h.Counts)

	// cumulative weights and means from the left (1) and from the right (2)
	weight1 := make([]float64, n)
	weight2 := make([]float64, n)
	mean1 := make([]float64, n)
	mean2 := make([]float64, n)

	var w, s float64
	for i := 0; i < n; i++ {
		w += h.Counts[i]
		s += h.Counts[i] * h.Centers[i]
		weight1[i] = w
		if w > 0 {
			mean1[i] = s / w
		}
	}
	w, s = 0, 0
	for i := n - 1; i >= 0; i-- {
		w += h.Counts[i]
		s += h.Counts[i] * h.Centers[i]
		weight2[i] = w
		if w > 0 {
			mean2[i] = s / w
		}
	}

	best, bestIdx := math.Inf(-1), 0
	for i := 0; i < n-1; i++ {
		d := mean1[i] - mean2[i+1]
		v := weight1[i] * weight2[i+1] * d * d
		if v > best {
			best, bestIdx = v, i
		}
	}

	return h.Centers[bestIdx]
}

// Triangle returns the threshold found by the triangle method: a line is
// drawn from the histogram peak to the end of its longer tail and the
// threshold is the bin lying furthest below that line. It is robust to
// skewed histograms with a long dim tail. A constant image returns its
// single value.
func Triangle(values []float64, nbins int) float64 {
	if len(values) == 0 {
		return 0
	}

	h := histogramFor(values, nbins)
	n := len(h.Counts)

	argPeak := floats.MaxIdx(h.Counts)
	peakHeight := h.Counts[argPeak]

	argLow, argHigh := -1, -1
	for i, c := range h.Counts {
		if c > 0 {
			if argLow < 0 {
				argLow = i
			}
			argHigh = i
		}
	}
	if argLow == argHigh {
		return values[0]
	}

	hist := h.Counts
	flip := argPeak-argLow < argHigh-argPeak
	if flip {
		hist = make([]float64, n)
		for i, c := range h.Counts {
			hist[n-1-i] = c
		}
		argLow = n - argHigh - 1
		argPeak = n - argPeak - 1
	}

	width := float64(argPeak - argLow)
	norm := math.Hypot(peakHeight, width)
	peakNorm := peakHeight / norm
	widthNorm := width / norm

	best, bestIdx := math.Inf(-1), 0
	for x := 0; x < argPeak-argLow; x++ {
		length := peakNorm*float64(x) - widthNorm*hist[x+argLow]
		if length > best {
			best, bestIdx = length, x
		}
	}

	level := bestIdx + argLow
	if flip {
		level = n - level - 1
	}
	return h.Centers[level]
}
