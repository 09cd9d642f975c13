// Package morphology implements binary masks and the morphological
// operations used to carve organoid regions: disk-shaped dilation and
// erosion, hole filling, connected component labeling and perimeter
// estimation.
package morphology

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Mask is a 2D binary image stored row-major
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an empty mask
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

// Above builds a mask of the pixels of img strictly greater than t
func Above(img mat.Matrix, t float64) *Mask {
	rows, cols := img.Dims()
	m := NewMask(cols, rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.Bits[y*cols+x] = img.At(y, x) > t
		}
	}
	return m
}

// Get returns the pixel at column x, row y. Pixels outside the mask are false.
func (m *Mask) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Set assigns the pixel at column x, row y
func (m *Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// Clone returns an independent copy
func (m *Mask) Clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.Bits, m.Bits)
	return c
}

// Count returns the number of set pixels
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Empty reports whether no pixel is set
func (m *Mask) Empty() bool {
	for _, b := range m.Bits {
		if b {
			return false
		}
	}
	return true
}

// AndNot returns the pixels set in m and not set in other
func (m *Mask) AndNot(other *Mask) *Mask {
	out := NewMask(m.Width, m.Height)
	for i, b := range m.Bits {
		out.Bits[i] = b && !other.Bits[i]
	}
	return out
}

// SubsetOf reports whether every pixel set in m is also set in other
func (m *Mask) SubsetOf(other *Mask) bool {
	for i, b := range m.Bits {
		if b && !other.Bits[i] {
			return false
		}
	}
	return true
}

// Select returns the values of img at the set pixels, in row-major order
func (m *Mask) Select(img mat.Matrix) []float64 {
	var out []float64
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Bits[y*m.Width+x] {
				out = append(out, img.At(y, x))
			}
		}
	}
	return out
}

// Offset is a structuring element displacement
type Offset struct {
	DX, DY int
}

// Disk returns the offsets of a disk structuring element: every (dx, dy)
// with dx²+dy² <= radius²
func Disk(radius int) []Offset {
	if radius < 0 {
		radius = 0
	}
	var se []Offset
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				se = append(se, Offset{DX: dx, DY: dy})
			}
		}
	}
	return se
}

// diskKernel builds the disk structuring element as an 8-bit Mat with ones
// inside the disk
func diskKernel(radius int) gocv.Mat {
	if radius < 0 {
		radius = 0
	}
	size := 2*radius + 1
	kernel := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC1)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			kernel.SetUCharAt(y, x, 0)
		}
	}
	for _, o := range Disk(radius) {
		kernel.SetUCharAt(o.DY+radius, o.DX+radius, 1)
	}
	return kernel
}

// toMat copies the mask onto an 8-bit Mat with foreground at 255
func toMat(m *Mask) (gocv.Mat, error) {
	buf := make([]byte, len(m.Bits))
	for i, b := range m.Bits {
		if b {
			buf[i] = 255
		}
	}
	src, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert %dx%d mask: %w", m.Width, m.Height, err)
	}
	defer src.Close()
	return src.Clone(), nil
}

// fromMat reads an 8-bit Mat back into a mask; any non-zero pixel is set
func fromMat(src gocv.Mat, width, height int) (*Mask, error) {
	buf := src.ToBytes()
	if len(buf) != width*height {
		return nil, fmt.Errorf("expected %dx%d 8-bit image, got %d bytes", width, height, len(buf))
	}
	m := NewMask(width, height)
	for i, v := range buf {
		m.Bits[i] = v != 0
	}
	return m, nil
}

// morph applies a disk-shaped OpenCV morphological operation
func morph(m *Mask, radius int, apply func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)) (*Mask, error) {
	if m.Width == 0 || m.Height == 0 {
		return m.Clone(), nil
	}

	src, err := toMat(m)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	kernel := diskKernel(radius)
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	apply(src, &dst, kernel)

	return fromMat(dst, m.Width, m.Height)
}

// Dilate grows the mask by a disk of the given radius. Pixels outside the
// image count as background.
func Dilate(m *Mask, radius int) (*Mask, error) {
	return morph(m, radius, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Dilate(src, dst, kernel)
	})
}

// Erode shrinks the mask by a disk of the given radius. Pixels outside the
// image count as foreground, so regions touching the border are not eroded
// from that side.
func Erode(m *Mask, radius int) (*Mask, error) {
	return morph(m, radius, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Erode(src, dst, kernel)
	})
}

// FillHoles sets every background pixel that is not 4-connected to the
// image border. The outer contours of the 8-connected foreground are drawn
// filled; a 4-connected background path cannot cross such a contour.
func FillHoles(m *Mask) (*Mask, error) {
	if m.Width == 0 || m.Height == 0 || m.Empty() {
		return m.Clone(), nil
	}

	img, err := toMat(m)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	contours := gocv.FindContours(img, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	gocv.DrawContours(&img, contours, -1, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	filled, err := fromMat(img, m.Width, m.Height)
	if err != nil {
		return nil, err
	}
	for i, b := range m.Bits {
		filled.Bits[i] = filled.Bits[i] || b
	}
	return filled, nil
}
