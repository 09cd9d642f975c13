// Package reader loads acquired organoid stacks from disk. Every sample is a
// directory holding one grayscale plane per channel and depth, named
// c<channel>_z<index> with a .tif, .tiff or .png extension.
package reader

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/tiff"

	"organoidquant/internal/models"
	"organoidquant/pkg/calibration"
	"organoidquant/pkg/projection"
)

var planeName = regexp.MustCompile(`(?i)^c(\d+)_z(\d+)\.(tif|tiff|png)$`)

// Mapping gives the acquisition channel index of every channel role
type Mapping [models.NumChannels]int

// DefaultMapping stores the roles in acquisition order
func DefaultMapping() Mapping {
	return Mapping{0, 1, 2, 3}
}

// Directory is an analysis source over the sample directories below a root.
// Samples are decoded on Load, so only the samples being analysed are held
// in memory.
type Directory struct {
	root    string
	names   []string
	mapping Mapping
	log     zerolog.Logger
}

// Open lists the sample directories below root in name order
func Open(root string, mapping Mapping, log zerolog.Logger) (*Directory, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	d := &Directory{
		root:    root,
		mapping: mapping,
		log:     log.With().Str("component", "reader").Logger(),
	}
	for _, e := range entries {
		if e.IsDir() {
			d.names = append(d.names, e.Name())
		}
	}
	sort.Strings(d.names)
	d.log.Debug().Str("root", root).Int("samples", len(d.names)).Msg("input directory scanned")

	return d, nil
}

// Len returns the number of sample directories
func (d *Directory) Len() int { return len(d.names) }

// Name returns the directory name of sample i
func (d *Directory) Name(i int) string { return d.names[i] }

type plane struct {
	z    int
	path string
}

// Load decodes every plane of sample i. Missing channels, unreadable planes
// and planes of differing size are reported as *projection.DataShapeError.
func (d *Directory) Load(i int) (*models.Sample, error) {
	name := d.names[i]
	dir := filepath.Join(d.root, name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample directory: %w", err)
	}

	planes := make(map[int][]plane)
	for _, e := range entries {
		m := planeName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		ch, _ := strconv.Atoi(m[1])
		z, _ := strconv.Atoi(m[2])
		planes[ch] = append(planes[ch], plane{z: z, path: filepath.Join(dir, e.Name())})
	}

	s := &models.Sample{
		Name:     name,
		ID:       calibration.SampleID(name),
		Channels: make([]*models.Volume, models.NumChannels),
	}
	width, height := -1, -1
	for role := models.Channel(0); role < models.NumChannels; role++ {
		files := planes[d.mapping[role]]
		if len(files) == 0 {
			return nil, &projection.DataShapeError{
				Channel: role,
				Reason:  fmt.Sprintf("no planes for acquisition channel %d", d.mapping[role]),
			}
		}
		sort.Slice(files, func(a, b int) bool { return files[a].z < files[b].z })

		var vol *models.Volume
		for z, f := range files {
			img, err := loadImage(f.path)
			if err != nil {
				return nil, &projection.DataShapeError{Channel: role, Reason: err.Error()}
			}
			b := img.Bounds()
			if width < 0 {
				width, height = b.Dx(), b.Dy()
			}
			if b.Dx() != width || b.Dy() != height {
				return nil, &projection.DataShapeError{
					Channel: role,
					Reason: fmt.Sprintf("plane %s is %dx%d, expected %dx%d",
						filepath.Base(f.path), b.Dx(), b.Dy(), width, height),
				}
			}
			if vol == nil {
				vol = models.NewVolume(width, height, len(files))
			}
			fillPlane(vol, z, img)
		}
		s.Channels[role] = vol
	}

	d.log.Debug().Str("sample", name).Int("width", width).Int("height", height).Msg("sample loaded")
	return s, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// fillPlane copies the raw intensities of img into plane z. 16-bit and 8-bit
// grayscale keep their stored values; other models are converted to Gray16.
func fillPlane(v *models.Volume, z int, img image.Image) {
	b := img.Bounds()
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			px, py := b.Min.X+x, b.Min.Y+y
			var val float64
			switch g := img.(type) {
			case *image.Gray16:
				val = float64(g.Gray16At(px, py).Y)
			case *image.Gray:
				val = float64(g.GrayAt(px, py).Y)
			default:
				val = float64(color.Gray16Model.Convert(img.At(px, py)).(color.Gray16).Y)
			}
			v.Set(z, y, x, val)
		}
	}
}
