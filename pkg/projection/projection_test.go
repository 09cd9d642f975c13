package projection

import (
	"errors"
	"testing"

	"organoidquant/internal/models"
)

// newTestVolume fills a volume using the provided pattern
func newTestVolume(width, height, depth int, pattern func(z, y, x int) float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(z, y, x, pattern(z, y, x))
			}
		}
	}
	return v
}

// TestMaxIntensity verifies that the brightest plane wins at every pixel
func TestMaxIntensity(t *testing.T) {
	width, height, depth := 5, 3, 4
	v := newTestVolume(width, height, depth, func(z, y, x int) float64 {
		// plane z peaks at column z
		if x == z {
			return 100 + float64(y)
		}
		return float64(z)
	})

	img, err := MaxIntensity(v)
	if err != nil {
		t.Fatalf("MaxIntensity returned error: %v", err)
	}

	rows, cols := img.Dims()
	if rows != height || cols != width {
		t.Fatalf("Expected %dx%d image, got %dx%d", width, height, cols, rows)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			expected := float64(depth - 1)
			if x < depth {
				expected = 100 + float64(y)
			}
			if got := img.At(y, x); got != expected {
				t.Errorf("At (%d,%d): expected %.1f, got %.1f", x, y, expected, got)
			}
		}
	}
}

// TestMaxIntensityNegativeValues ensures the projection does not clamp at zero
func TestMaxIntensityNegativeValues(t *testing.T) {
	v := newTestVolume(2, 2, 2, func(z, y, x int) float64 { return -10 + float64(z) })

	img, err := MaxIntensity(v)
	if err != nil {
		t.Fatalf("MaxIntensity returned error: %v", err)
	}
	if got := img.At(1, 1); got != -9 {
		t.Errorf("Expected -9, got %f", got)
	}
}

// TestMaxIntensityMalformed verifies that malformed volumes yield DataShapeError
func TestMaxIntensityMalformed(t *testing.T) {
	testCases := []struct {
		name   string
		volume *models.Volume
	}{
		{"nil", nil},
		{"zero depth", &models.Volume{Width: 2, Height: 2, Depth: 0}},
		{"negative width", &models.Volume{Width: -1, Height: 2, Depth: 1, Data: []float64{1, 2}}},
		{"short data", &models.Volume{Width: 2, Height: 2, Depth: 2, Data: make([]float64, 7)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MaxIntensity(tc.volume)
			var shapeErr *DataShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("Expected DataShapeError, got %v", err)
			}
		})
	}
}

// TestProjectSample checks channel routing and error reporting
func TestProjectSample(t *testing.T) {
	channels := make([]*models.Volume, models.NumChannels)
	for c := range channels {
		value := float64(c + 1)
		channels[c] = newTestVolume(4, 4, 2, func(z, y, x int) float64 { return value * float64(z+1) })
	}
	s := &models.Sample{Name: "A1-01", ID: "A1", Channels: channels}

	proj, err := ProjectSample(s)
	if err != nil {
		t.Fatalf("ProjectSample returned error: %v", err)
	}

	expected := map[string]float64{"nuclear": 2, "structural": 4, "marker1": 6, "marker2": 8}
	got := map[string]float64{
		"nuclear":    proj.Nuclear.At(0, 0),
		"structural": proj.Structural.At(0, 0),
		"marker1":    proj.Marker1.At(0, 0),
		"marker2":    proj.Marker2.At(0, 0),
	}
	for name, want := range expected {
		if got[name] != want {
			t.Errorf("%s: expected %.0f, got %.0f", name, want, got[name])
		}
	}

	t.Run("missing channel", func(t *testing.T) {
		broken := &models.Sample{Name: "B", Channels: channels[:3]}
		_, err := ProjectSample(broken)
		var shapeErr *DataShapeError
		if !errors.As(err, &shapeErr) {
			t.Fatalf("Expected DataShapeError, got %v", err)
		}
		if shapeErr.Channel != models.Marker2 {
			t.Errorf("Expected error on %s, got %s", models.Marker2, shapeErr.Channel)
		}
	})

	t.Run("mismatched planes", func(t *testing.T) {
		mixed := append([]*models.Volume{}, channels...)
		mixed[models.Marker1] = newTestVolume(3, 4, 2, func(z, y, x int) float64 { return 0 })
		_, err := ProjectSample(&models.Sample{Name: "C", Channels: mixed})
		var shapeErr *DataShapeError
		if !errors.As(err, &shapeErr) {
			t.Fatalf("Expected DataShapeError, got %v", err)
		}
	})
}
