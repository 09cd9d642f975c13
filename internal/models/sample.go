package models

import (
	"fmt"
	"strings"
)

// Channel identifies one acquisition channel of a sample
type Channel int

const (
	// Nuclear is the DAPI channel; it is projected but not measured
	Nuclear Channel = iota

	// Structural is the actin channel used for segmentation
	Structural

	// Marker1 is the first protein marker (CK14), the ratio denominator
	Marker1

	// Marker2 is the second protein marker (CK8), the ratio numerator
	Marker2
)

// NumChannels is the number of channels every sample must carry
const NumChannels = 4

func (c Channel) String() string {
	switch c {
	case Nuclear:
		return "nuclear"
	case Structural:
		return "structural"
	case Marker1:
		return "marker1"
	case Marker2:
		return "marker2"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Volume represents one channel of an acquired 3D stack
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order,
	// one Width*Height plane after another
	Data []float64

	// Width is the number of columns of each plane
	Width int

	// Height is the number of rows of each plane
	Height int

	// Depth is the number of planes along the optical axis
	Depth int
}

// NewVolume allocates a zeroed volume of the given dimensions
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// At returns the voxel at plane z, row y, column x
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Set stores a voxel value at plane z, row y, column x
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = value
}

// Sample is one acquired organoid stack as handed over by the reader
type Sample struct {
	// Name is the original file or directory name of the sample
	Name string

	// ID is the identifier used for calibration lookup
	ID string

	// Channels holds one volume per acquisition channel, indexed by Channel
	Channels []*Volume
}

// Volume returns the volume of channel c, or nil if it is missing
func (s *Sample) Volume(c Channel) *Volume {
	if int(c) < 0 || int(c) >= len(s.Channels) {
		return nil
	}
	return s.Channels[c]
}

// Flags records which values of a row were defaulted rather than measured
type Flags uint8

const (
	// CalibrationDefault marks rows computed with the fallback scale of 1.0
	CalibrationDefault Flags = 1 << iota

	// CenterEmpty marks rows whose central zone had no pixels
	CenterEmpty

	// PeripheryEmpty marks rows whose outer ring had no pixels
	PeripheryEmpty

	// CenterRatioDefaulted marks a centre ratio forced to 0 by a zero denominator
	CenterRatioDefaulted

	// PeripheryRatioDefaulted marks a periphery ratio forced to 0 by a zero denominator
	PeripheryRatioDefaulted
)

var flagNames = []string{
	"calibration_default",
	"center_empty",
	"periphery_empty",
	"center_ratio_defaulted",
	"periphery_ratio_defaulted",
}

// Has reports whether all bits of f2 are set
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
