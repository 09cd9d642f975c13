// Package overlay draws the carved regions of a sample over its structural
// projection for visual quality control.
package overlay

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"organoidquant/pkg/analysis"
	"organoidquant/pkg/morphology"
)

// Contour colours
var (
	RingColor      = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	CenterColor    = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	PeripheryColor = color.RGBA{R: 0, G: 128, B: 255, A: 0}
)

// Writer saves one overlay PNG per sample into a directory
type Writer struct {
	dir       string
	thickness int
}

// NewWriter creates a writer saving overlays into dir
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, thickness: 1}
}

// grayMat stretches an intensity image onto an 8-bit single channel Mat
func grayMat(m mat.Matrix) gocv.Mat {
	rows, cols := m.Dims()
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)

	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			lo = math.Min(lo, m.At(y, x))
			hi = math.Max(hi, m.At(y, x))
		}
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var v uint8
			if hi > lo {
				v = uint8(math.Round((m.At(y, x) - lo) / (hi - lo) * 255))
			}
			out.SetUCharAt(y, x, v)
		}
	}
	return out
}

// maskMat converts a mask to a binary 8-bit Mat with foreground at 255
func maskMat(m *morphology.Mask) gocv.Mat {
	out := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV8UC1)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Get(x, y) {
				out.SetUCharAt(y, x, 255)
			} else {
				out.SetUCharAt(y, x, 0)
			}
		}
	}
	return out
}

func (w *Writer) drawMask(img *gocv.Mat, m *morphology.Mask, c color.RGBA) {
	if m.Empty() {
		return
	}
	binary := maskMat(m)
	defer binary.Close()

	contours := gocv.FindContours(binary, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return
	}
	gocv.DrawContours(img, contours, -1, c, w.thickness)
}

// Render returns the BGR overlay of one sample. The caller must Close the
// returned Mat, also when an error is returned.
func (w *Writer) Render(st *analysis.Stages) (gocv.Mat, error) {
	gray := grayMat(st.Channels.Structural)
	defer gray.Close()

	img := gocv.NewMat()
	gocv.CvtColor(gray, &img, gocv.ColorGrayToBGR)
	if img.Empty() {
		return img, fmt.Errorf("failed to convert projection of %s", st.Sample.Name)
	}

	w.drawMask(&img, st.Regions.OuterRing, PeripheryColor)
	w.drawMask(&img, st.Regions.CentralZone, CenterColor)
	w.drawMask(&img, st.Regions.BoundaryRing, RingColor)

	return img, nil
}

// Observe writes <dir>/<sample>.png
func (w *Writer) Observe(st *analysis.Stages) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create overlay directory: %w", err)
	}

	img, err := w.Render(st)
	defer img.Close()
	if err != nil {
		return err
	}

	filename := filepath.Join(w.dir, st.Sample.Name+".png")
	if ok := gocv.IMWrite(filename, img); !ok {
		return fmt.Errorf("failed to write overlay %s", filename)
	}
	return nil
}
