// Package features measures the segmented organoid: shape descriptors of the
// dominant boundary ring component and marker intensities in the centre and
// periphery zones, converted to physical units.
package features

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"organoidquant/internal/models"
	"organoidquant/pkg/calibration"
	"organoidquant/pkg/morphology"
	"organoidquant/pkg/projection"
	"organoidquant/pkg/segmentation"
)

// ErrNoDetection is returned when the boundary ring has no components
var ErrNoDetection = errors.New("no region detected")

// Measurement is a value together with whether it was defaulted instead of
// measured
type Measurement struct {
	Value     float64
	Defaulted bool
}

// Component holds the properties of one labeled boundary ring component
type Component struct {
	Label         int
	Area          int
	Bounds        image.Rectangle
	Seed          image.Point
	MeanIntensity float64
}

// Outline describes the filled organoid region around a ring component
type Outline struct {
	Area      int
	Perimeter float64
}

// Input bundles everything the extractor consumes for one sample
type Input struct {
	Regions  *segmentation.Regions
	Channels *projection.Channels
	Scale    calibration.Scale
}

// Circularity returns 4π·area/perimeter². It is 1 for an ideal disk and is
// not bounded above for discretised or noisy outlines. A zero perimeter
// gives 0.
func Circularity(area, perimeter float64) float64 {
	if perimeter == 0 {
		return 0
	}
	return 4 * math.Pi * area / (perimeter * perimeter)
}

// Ratio divides numerator by denominator. A denominator of exactly 0 gives
// 0 with Defaulted set.
func Ratio(numerator, denominator float64) Measurement {
	if denominator == 0 {
		return Measurement{Value: 0, Defaulted: true}
	}
	return Measurement{Value: numerator / denominator}
}

// ZoneMean averages img over the zone. An empty zone gives 0 with
// Defaulted set.
func ZoneMean(img mat.Matrix, zone *morphology.Mask) Measurement {
	values := zone.Select(img)
	if len(values) == 0 {
		return Measurement{Value: 0, Defaulted: true}
	}
	return Measurement{Value: stat.Mean(values, nil)}
}

// Components labels the boundary ring and measures every component in a
// single pass over the image
func Components(ring *morphology.Mask, structural mat.Matrix) ([]Component, error) {
	labels, err := morphology.Label(ring)
	if err != nil {
		return nil, fmt.Errorf("failed to label boundary ring: %w", err)
	}

	sums := make([]float64, labels.Count)
	for i, id := range labels.Data {
		if id > 0 {
			sums[id-1] += structural.At(i/labels.Width, i%labels.Width)
		}
	}

	comps := make([]Component, labels.Count)
	for i, st := range labels.Stats {
		comps[i] = Component{
			Label:         i + 1,
			Area:          st.Area,
			Bounds:        st.Bounds,
			Seed:          st.Seed,
			MeanIntensity: sums[i] / float64(st.Area),
		}
	}
	return comps, nil
}

// Largest returns the component with the largest area. Ties go to the lowest
// label. ok is false when comps is empty.
func Largest(comps []Component) (c Component, ok bool) {
	for i, comp := range comps {
		if i == 0 || comp.Area > c.Area {
			c = comp
		}
	}
	return c, len(comps) > 0
}

// OutlineOf measures the component of the solid mask containing seed: its
// pixel count and contour length. The solid mask is already hole-filled, so
// an organoid cut by the image edge keeps its enclosed area.
func OutlineOf(solid *morphology.Mask, seed image.Point) (Outline, error) {
	labels, err := morphology.Label(solid)
	if err != nil {
		return Outline{}, fmt.Errorf("failed to label solid mask: %w", err)
	}
	id := labels.At(seed.X, seed.Y)
	if id == 0 {
		return Outline{}, fmt.Errorf("pixel %v is outside the solid mask", seed)
	}

	st := labels.Stats[id-1]
	// one pixel of margin so the contour is classified as in the full image
	crop := labels.Crop(id, st.Bounds.Inset(-1))
	return Outline{
		Area:      st.Area,
		Perimeter: morphology.Perimeter(crop),
	}, nil
}

// Extract computes the feature row of one sample. It returns ErrNoDetection
// when the boundary ring is empty. The row label is left for the caller.
func Extract(in Input) (*models.FeatureRow, error) {
	comps, err := Components(in.Regions.BoundaryRing, in.Channels.Structural)
	if err != nil {
		return nil, err
	}
	dominant, ok := Largest(comps)
	if !ok {
		return nil, ErrNoDetection
	}
	outline, err := OutlineOf(in.Regions.Solid, dominant.Seed)
	if err != nil {
		return nil, err
	}

	row := &models.FeatureRow{
		MeanIntensity: dominant.MeanIntensity,
		Circularity:   Circularity(float64(outline.Area), outline.Perimeter),
	}
	if in.Scale.Fallback {
		row.Flags |= models.CalibrationDefault
	}

	m1c := ZoneMean(in.Channels.Marker1, in.Regions.CentralZone)
	m2c := ZoneMean(in.Channels.Marker2, in.Regions.CentralZone)
	m1p := ZoneMean(in.Channels.Marker1, in.Regions.OuterRing)
	m2p := ZoneMean(in.Channels.Marker2, in.Regions.OuterRing)
	if m1c.Defaulted {
		row.Flags |= models.CenterEmpty
	}
	if m1p.Defaulted {
		row.Flags |= models.PeripheryEmpty
	}

	rc := Ratio(m2c.Value, m1c.Value)
	rp := Ratio(m2p.Value, m1p.Value)
	if rc.Defaulted {
		row.Flags |= models.CenterRatioDefaulted
	}
	if rp.Defaulted {
		row.Flags |= models.PeripheryRatioDefaulted
	}

	row.Marker1Center, row.Marker2Center, row.RatioCenter = m1c.Value, m2c.Value, rc.Value
	row.Marker1Periphery, row.Marker2Periphery, row.RatioPeriphery = m1p.Value, m2p.Value, rp.Value

	upp := in.Scale.MicronsPerPixel()
	row.Perimeter = outline.Perimeter * upp
	row.Area = float64(dominant.Area) * upp * upp
	row.EnclosedArea = float64(outline.Area) * upp * upp

	return row, nil
}
