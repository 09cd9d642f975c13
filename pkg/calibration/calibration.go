// Package calibration maps sample identifiers to physical pixel scales.
package calibration

import (
	"math"
	"path/filepath"
	"strings"
)

// DefaultPixelsPerMicron is used when a sample has no calibration entry.
// Measurements then stay in pixel units.
const DefaultPixelsPerMicron = 1.0

// Scale is a resolved calibration together with its provenance
type Scale struct {
	// PixelsPerMicron is always positive
	PixelsPerMicron float64

	// Fallback is true when the default was used instead of a table entry
	Fallback bool
}

// MicronsPerPixel converts the scale to the length of one pixel side
func (s Scale) MicronsPerPixel() float64 {
	return 1 / s.PixelsPerMicron
}

// PixelRadius converts a physical distance to a whole number of pixels,
// rounding half away from zero
func (s Scale) PixelRadius(microns float64) int {
	return int(math.Round(microns * s.PixelsPerMicron))
}

// Resolver looks up scales in an operator supplied table
type Resolver struct {
	table map[string]float64
}

// NewResolver creates a resolver over a copy of the given table
func NewResolver(table map[string]float64) *Resolver {
	t := make(map[string]float64, len(table))
	for id, v := range table {
		t[id] = v
	}
	return &Resolver{table: t}
}

// Resolve returns the scale for an identifier. Unknown identifiers and
// non-positive entries resolve to DefaultPixelsPerMicron with Fallback set.
func (r *Resolver) Resolve(id string) Scale {
	v, ok := r.table[id]
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return Scale{PixelsPerMicron: DefaultPixelsPerMicron, Fallback: true}
	}
	return Scale{PixelsPerMicron: v}
}

// SampleID derives the calibration identifier from a sample file or
// directory name: the base name without extension, up to the first '-'
func SampleID(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.Index(base, "-"); i >= 0 {
		return base[:i]
	}
	return base
}
