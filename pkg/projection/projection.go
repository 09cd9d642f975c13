// Package projection reduces acquired 3D channel volumes to 2D images.
package projection

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"organoidquant/internal/models"
)

// DataShapeError reports a channel volume that cannot be projected
type DataShapeError struct {
	Channel models.Channel
	Reason  string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("malformed %s volume: %s", e.Channel, e.Reason)
}

// Channels holds the projected 2D image of every channel of a sample
type Channels struct {
	Nuclear    *mat.Dense
	Structural *mat.Dense
	Marker1    *mat.Dense
	Marker2    *mat.Dense
}

// MaxIntensity computes the maximum-intensity projection of a volume along
// its depth axis. The result has Height rows and Width columns.
func MaxIntensity(v *models.Volume) (*mat.Dense, error) {
	if err := validate(v); err != nil {
		return nil, err
	}

	plane := v.Width * v.Height
	out := make([]float64, plane)
	for i := range out {
		out[i] = math.Inf(-1)
	}

	for z := 0; z < v.Depth; z++ {
		offset := z * plane
		for i := 0; i < plane; i++ {
			if val := v.Data[offset+i]; val > out[i] {
				out[i] = val
			}
		}
	}

	return mat.NewDense(v.Height, v.Width, out), nil
}

func validate(v *models.Volume) error {
	if v == nil {
		return &DataShapeError{Reason: "volume is missing"}
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return &DataShapeError{Reason: fmt.Sprintf("invalid dimensions %dx%dx%d", v.Width, v.Height, v.Depth)}
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return &DataShapeError{Reason: fmt.Sprintf("expected %d voxels, got %d", v.Width*v.Height*v.Depth, len(v.Data))}
	}
	for _, val := range v.Data {
		if math.IsNaN(val) {
			return &DataShapeError{Reason: "volume contains NaN"}
		}
	}
	return nil
}

// ProjectSample projects every channel of a sample. All channels must share
// the same plane dimensions.
func ProjectSample(s *models.Sample) (*Channels, error) {
	var images [models.NumChannels]*mat.Dense
	for c := models.Channel(0); c < models.NumChannels; c++ {
		img, err := MaxIntensity(s.Volume(c))
		if err != nil {
			var shapeErr *DataShapeError
			if errors.As(err, &shapeErr) {
				shapeErr.Channel = c
			}
			return nil, err
		}
		images[c] = img
	}

	rows, cols := images[0].Dims()
	for c := 1; c < models.NumChannels; c++ {
		r, k := images[c].Dims()
		if r != rows || k != cols {
			return nil, &DataShapeError{
				Channel: models.Channel(c),
				Reason:  fmt.Sprintf("plane size %dx%d differs from %dx%d", k, r, cols, rows),
			}
		}
	}

	return &Channels{
		Nuclear:    images[models.Nuclear],
		Structural: images[models.Structural],
		Marker1:    images[models.Marker1],
		Marker2:    images[models.Marker2],
	}, nil
}
