// Package visualization saves the intermediate images of the pipeline:
// channel projections, threshold masks and carved regions.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"organoidquant/pkg/analysis"
	"organoidquant/pkg/morphology"
)

// Stage directories below the output root
const (
	ProjectionsStage = "01_projections"
	MasksStage       = "02_masks"
	RegionsStage     = "03_regions"
)

// Viewer writes the intermediate results of every analysed sample below an
// output directory, one sub-directory per stage
type Viewer struct {
	// outputDir is the root of the stage directories
	outputDir string
}

// NewViewer creates a viewer writing below outputDir
func NewViewer(outputDir string) *Viewer {
	return &Viewer{outputDir: outputDir}
}

// ExtractImage converts a 2D intensity image to 16-bit grayscale, stretching
// its value range onto [0, 65535]. A constant image maps to black.
func ExtractImage(m mat.Matrix) *image.Gray16 {
	rows, cols := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := m.At(y, x)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if !(hi > lo) {
		return img
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			scaled := (m.At(y, x) - lo) / (hi - lo) * 65535
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(scaled))})
		}
	}
	return img
}

// MaskImage renders a mask as white foreground on black
func MaskImage(m *morphology.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// SaveImage saves an image as PNG
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (v *Viewer) saveStage(stage, sample, name string, img image.Image) error {
	stageDir := filepath.Join(v.outputDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	filename := filepath.Join(stageDir, fmt.Sprintf("%s_%s.png", sample, name))
	if err := v.SaveImage(img, filename); err != nil {
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return nil
}

// Observe saves the projections, masks and regions of one sample. It is safe
// for concurrent use as every sample writes to its own files.
func (v *Viewer) Observe(st *analysis.Stages) error {
	name := st.Sample.Name

	projections := []struct {
		name string
		m    mat.Matrix
	}{
		{"nuclear", st.Channels.Nuclear},
		{"structural", st.Channels.Structural},
		{"marker1", st.Channels.Marker1},
		{"marker2", st.Channels.Marker2},
	}
	for _, p := range projections {
		if err := v.saveStage(ProjectionsStage, name, p.name, ExtractImage(p.m)); err != nil {
			return err
		}
	}

	masks := []struct {
		stage string
		name  string
		m     *morphology.Mask
	}{
		{MasksStage, "body", st.Masks.Body},
		{MasksStage, "solid", st.Masks.Solid},
		{MasksStage, "extended", st.Masks.Extended},
		{RegionsStage, "inner", st.Regions.Inner},
		{RegionsStage, "ring", st.Regions.BoundaryRing},
		{RegionsStage, "center", st.Regions.CentralZone},
		{RegionsStage, "periphery", st.Regions.OuterRing},
	}
	for _, m := range masks {
		if err := v.saveStage(m.stage, name, m.name, MaskImage(m.m)); err != nil {
			return err
		}
	}

	return nil
}
