package morphology

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// columns of the OpenCV connected component statistics
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// Stat describes one connected component
type Stat struct {
	Area int

	// Bounds is the bounding box in image coordinates
	Bounds image.Rectangle

	// Seed is the first pixel of the component in raster order
	Seed image.Point
}

// Labels assigns each foreground pixel the id of its connected component.
// Background pixels are 0; components are numbered from 1 in raster order
// of their first pixel.
type Labels struct {
	Width  int
	Height int
	Data   []int32
	Count  int

	// Stats holds one entry per component; index 0 is label 1
	Stats []Stat
}

// Label partitions the mask into 8-connected components
func Label(m *Mask) (*Labels, error) {
	w, h := m.Width, m.Height
	l := &Labels{Width: w, Height: h, Data: make([]int32, w*h)}
	if w == 0 || h == 0 || m.Empty() {
		return l, nil
	}

	src, err := toMat(m)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(src, &labels, &stats, &centroids)
	raw := labels.ToBytes()
	if len(raw) != 4*w*h {
		return nil, fmt.Errorf("expected %dx%d 32-bit labels, got %d bytes", w, h, len(raw))
	}

	// OpenCV numbers components in scan-block order; renumber them by
	// their first pixel so ties resolve the same way on every platform
	remap := make([]int32, n)
	for i := range l.Data {
		cv := int32(binary.NativeEndian.Uint32(raw[4*i:]))
		if cv == 0 {
			continue
		}
		if cv < 0 || int(cv) >= n {
			return nil, fmt.Errorf("label %d out of range [1, %d)", cv, n)
		}
		id := remap[cv]
		if id == 0 {
			row := int(cv)
			left := int(stats.GetIntAt(row, statLeft))
			top := int(stats.GetIntAt(row, statTop))
			l.Stats = append(l.Stats, Stat{
				Area: int(stats.GetIntAt(row, statArea)),
				Bounds: image.Rect(left, top,
					left+int(stats.GetIntAt(row, statWidth)),
					top+int(stats.GetIntAt(row, statHeight))),
				Seed: image.Pt(i%w, i/w),
			})
			id = int32(len(l.Stats))
			remap[cv] = id
		}
		l.Data[i] = id
	}
	l.Count = len(l.Stats)

	return l, nil
}

// Areas returns the pixel count of every component; index 0 is label 1
func (l *Labels) Areas() []int {
	areas := make([]int, l.Count)
	for i, st := range l.Stats {
		areas[i] = st.Area
	}
	return areas
}

// At returns the label at column x, row y, 0 outside the image
func (l *Labels) At(x, y int) int {
	if x < 0 || y < 0 || x >= l.Width || y >= l.Height {
		return 0
	}
	return int(l.Data[y*l.Width+x])
}

// Crop extracts the pixels of one label inside r as a mask of r's size.
// Parts of r outside the image stay background.
func (l *Labels) Crop(id int, r image.Rectangle) *Mask {
	m := NewMask(r.Dx(), r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if l.At(x, y) == id {
				m.Set(x-r.Min.X, y-r.Min.Y, true)
			}
		}
	}
	return m
}

var perimeterWeights = func() [50]float64 {
	var w [50]float64
	for _, i := range []int{5, 7, 15, 17, 25, 27} {
		w[i] = 1
	}
	for _, i := range []int{21, 33} {
		w[i] = math.Sqrt2
	}
	for _, i := range []int{13, 23} {
		w[i] = (1 + math.Sqrt2) / 2
	}
	return w
}()

// Perimeter estimates the contour length of all regions in the mask. Border
// pixels (foreground pixels with a 4-neighbour in the background) are
// classified by their 3x3 configuration of other border pixels: straight
// runs contribute 1, diagonal runs √2 and corners (1+√2)/2. Holes
// contribute their inner contour.
func Perimeter(m *Mask) float64 {
	w, h := m.Width, m.Height
	border := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m.Bits[y*w+x] {
				continue
			}
			if !m.Get(x-1, y) || !m.Get(x+1, y) || !m.Get(x, y-1) || !m.Get(x, y+1) {
				border.Bits[y*w+x] = true
			}
		}
	}

	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			code := 0
			if border.Bits[y*w+x] {
				code = 1
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if (dx == 0 && dy == 0) || !border.Get(x+dx, y+dy) {
						continue
					}
					if dx != 0 && dy != 0 {
						code += 10
					} else {
						code += 2
					}
				}
			}
			if code < len(perimeterWeights) {
				total += perimeterWeights[code]
			}
		}
	}
	return total
}
