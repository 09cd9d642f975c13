// Package segmentation derives organoid masks and analysis regions from the
// projected structural channel.
//
// Two thresholds are taken on the same image. The Otsu threshold isolates
// the bright organoid body, which after dilation and hole filling becomes
// the solid mask used for shape measurement. The triangle threshold keeps
// the dimmer peripheral signal and yields the extended mask from which the
// centre and periphery intensity zones are carved.
package segmentation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"organoidquant/pkg/morphology"
	"organoidquant/pkg/threshold"
)

// Params holds the segmentation parameters
type Params struct {
	// Bins is the histogram resolution for threshold selection
	Bins int

	// DilationRadius is the disk radius applied to the Otsu mask
	DilationRadius int

	// RingErosionRadius is the disk radius that sets the boundary ring width
	RingErosionRadius int
}

// DefaultParams returns the parameters of the reference protocol
func DefaultParams() Params {
	return Params{
		Bins:              threshold.DefaultBins,
		DilationRadius:    2,
		RingErosionRadius: 2,
	}
}

// Masks are the two masks built from the structural channel
type Masks struct {
	// OtsuThreshold and TriangleThreshold are the selected intensity levels
	OtsuThreshold     float64
	TriangleThreshold float64

	// Body is the raw Otsu mask
	Body *morphology.Mask

	// Solid is the dilated, hole-filled Otsu mask
	Solid *morphology.Mask

	// Extended is the triangle mask
	Extended *morphology.Mask
}

// Regions are the disjoint analysis regions carved from the masks
type Regions struct {
	// Solid is the filled organoid mask the ring was cut from
	Solid *morphology.Mask

	// Inner is the solid mask eroded by the ring erosion radius
	Inner *morphology.Mask

	// BoundaryRing is the rim of the solid mask used for shape metrics
	BoundaryRing *morphology.Mask

	// CentralZone holds extended-mask pixels at least the zone radius
	// away from the mask edge
	CentralZone *morphology.Mask

	// OuterRing holds extended-mask pixels within the zone radius of the edge
	OuterRing *morphology.Mask
}

// BuildMasks thresholds the structural channel and cleans up the body mask
func BuildMasks(structural mat.Matrix, p Params) (*Masks, error) {
	rows, cols := structural.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty structural image")
	}
	if p.Bins <= 1 {
		return nil, fmt.Errorf("histogram needs at least 2 bins, got %d", p.Bins)
	}

	values := threshold.Values(structural)
	t1 := threshold.Otsu(values, p.Bins)
	t2 := threshold.Triangle(values, p.Bins)

	body := morphology.Above(structural, t1)
	dilated, err := morphology.Dilate(body, p.DilationRadius)
	if err != nil {
		return nil, fmt.Errorf("failed to dilate body mask: %w", err)
	}
	solid, err := morphology.FillHoles(dilated)
	if err != nil {
		return nil, fmt.Errorf("failed to fill body mask: %w", err)
	}

	return &Masks{
		OtsuThreshold:     t1,
		TriangleThreshold: t2,
		Body:              body,
		Solid:             solid,
		Extended:          morphology.Above(structural, t2),
	}, nil
}

// CarveRegions derives the boundary ring and the intensity zones. zoneRadius
// is the zone width in pixels.
func CarveRegions(m *Masks, p Params, zoneRadius int) (*Regions, error) {
	if zoneRadius < 0 {
		return nil, fmt.Errorf("negative zone radius %d", zoneRadius)
	}

	inner, err := morphology.Erode(m.Solid, p.RingErosionRadius)
	if err != nil {
		return nil, fmt.Errorf("failed to erode solid mask: %w", err)
	}
	central, err := morphology.Erode(m.Extended, zoneRadius)
	if err != nil {
		return nil, fmt.Errorf("failed to erode extended mask: %w", err)
	}

	return &Regions{
		Solid:        m.Solid,
		Inner:        inner,
		BoundaryRing: m.Solid.AndNot(inner),
		CentralZone:  central,
		OuterRing:    m.Extended.AndNot(central),
	}, nil
}
