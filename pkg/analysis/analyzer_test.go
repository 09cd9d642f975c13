package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"organoidquant/internal/models"
	"organoidquant/pkg/features"
	"organoidquant/pkg/projection"
	"organoidquant/pkg/segmentation"
)

// createDiskSample builds a sample whose structural channel holds a disk of
// the given radius at 200 on a background of 10, and whose marker channels
// are uniform at 50 and 100
func createDiskSample(name, id string, size, radius int) *models.Sample {
	channels := make([]*models.Volume, models.NumChannels)
	for c := range channels {
		channels[c] = models.NewVolume(size, size, 3)
	}
	centre := size / 2
	for z := 0; z < 3; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				// the brightest plane is the middle one
				weight := 1.0
				if z != 1 {
					weight = 0.5
				}
				dx, dy := x-centre, y-centre
				structural := 10.0
				if dx*dx+dy*dy <= radius*radius {
					structural = 200
				}
				channels[models.Nuclear].Set(z, y, x, 5*weight)
				channels[models.Structural].Set(z, y, x, structural*weight)
				channels[models.Marker1].Set(z, y, x, 50*weight)
				channels[models.Marker2].Set(z, y, x, 100*weight)
			}
		}
	}
	return &models.Sample{Name: name, ID: id, Channels: channels}
}

func createEmptySample(name string, size int) *models.Sample {
	channels := make([]*models.Volume, models.NumChannels)
	for c := range channels {
		channels[c] = models.NewVolume(size, size, 2)
	}
	return &models.Sample{Name: name, ID: name, Channels: channels}
}

func testParams() *Params {
	return &Params{
		Condition:        "Soft-HMW-BME",
		Calibration:      map[string]float64{"img01": 2.0, "img02": 1.0},
		Segmentation:     segmentation.DefaultParams(),
		ZoneWidthMicrons: 10,
		Workers:          1,
		Logger:           zerolog.Nop(),
	}
}

func TestAnalyzeSampleReferenceDisk(t *testing.T) {
	a := NewAnalyzer(testParams())

	row, err := a.AnalyzeSample(createDiskSample("img01-a", "img01", 64, 20))
	if err != nil {
		t.Fatalf("AnalyzeSample returned error: %v", err)
	}

	if row.RatioCenter != 2.0 {
		t.Errorf("Expected ratio_center exactly 2.0, got %v", row.RatioCenter)
	}
	if row.Circularity < 0.8 || row.Circularity > 1.1 {
		t.Errorf("Expected circularity in [0.8, 1.1], got %.4f", row.Circularity)
	}
	// 236 ring pixels at 0.5 um per pixel
	if math.Abs(row.Area-236*0.25) > 1e-9 {
		t.Errorf("Expected ring area 59 um2, got %.4f", row.Area)
	}
	if row.SampleName != "img01-a" || row.SampleID != "img01" || row.Label != "" {
		t.Errorf("Unexpected identity fields: %+v", row)
	}
	if row.Flags.Has(models.CalibrationDefault) {
		t.Errorf("Calibration should have been found")
	}
}

func TestAnalyzeSampleNoDetection(t *testing.T) {
	a := NewAnalyzer(testParams())
	_, err := a.AnalyzeSample(createEmptySample("blank", 32))
	if !errors.Is(err, features.ErrNoDetection) {
		t.Errorf("Expected ErrNoDetection, got %v", err)
	}
}

func TestAnalyzeSampleShapeError(t *testing.T) {
	a := NewAnalyzer(testParams())
	s := createDiskSample("img01-a", "img01", 32, 8)
	s.Channels[models.Marker2] = nil

	_, err := a.AnalyzeSample(s)
	var shapeErr *projection.DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Errorf("Expected DataShapeError, got %v", err)
	}
}

// logEntries decodes the JSON lines written by a zerolog logger
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var e map[string]interface{}
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("invalid log line: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

// TestScaleFactorLogged checks that every sample states its scale factor at
// the default log level
func TestScaleFactorLogged(t *testing.T) {
	testCases := []struct {
		name    string
		id      string
		level   string
		message string
		ppm     float64
	}{
		{"calibrated", "img01", "info", "using scale factor", 2},
		{"fallback", "img09", "warn", "no scale factor found for sample, measurements stay in pixels", 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := testParams()
			p.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)

			if _, err := NewAnalyzer(p).AnalyzeSample(createDiskSample(tc.id+"-a", tc.id, 64, 20)); err != nil {
				t.Fatalf("AnalyzeSample returned error: %v", err)
			}

			found := false
			for _, e := range logEntries(t, &buf) {
				if e["message"] != tc.message {
					continue
				}
				found = true
				if e["level"] != tc.level || e["pixels_per_um"] != tc.ppm || e["sample"] != tc.id+"-a" {
					t.Errorf("Unexpected scale log entry: %v", e)
				}
			}
			if !found {
				t.Errorf("Expected a %q entry at level %s", tc.message, tc.level)
			}
		})
	}
}

func TestRun(t *testing.T) {
	samples := Samples{
		createDiskSample("img01-a", "img01", 64, 20),
		createEmptySample("blank", 32),
		createDiskSample("img02-b", "img02", 64, 12),
		createDiskSample("img03-c", "img03", 64, 16),
	}

	table, report, err := NewAnalyzer(testParams()).Run(samples)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(table.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(table.Rows))
	}
	expectedLabels := []string{"Soft-HMW-BME-0", "Soft-HMW-BME-1", "Soft-HMW-BME-2"}
	for i, row := range table.Rows {
		if row.Label != expectedLabels[i] {
			t.Errorf("row %d: expected label %s, got %s", i, expectedLabels[i], row.Label)
		}
		if row.Label == table.Summary.Label {
			t.Errorf("row %d shares the summary label", i)
		}
	}
	if table.Rows[1].SampleName != "img02-b" {
		t.Errorf("Rows must keep input order, got %s", table.Rows[1].SampleName)
	}

	if report.Processed != 3 || len(report.Skipped) != 1 || report.Skipped[0].Sample != "blank" {
		t.Errorf("Unexpected report: %+v", report)
	}
	if !errors.Is(report.Skipped[0].Err, features.ErrNoDetection) {
		t.Errorf("Expected skip reason ErrNoDetection, got %v", report.Skipped[0].Err)
	}
	if len(report.Fallbacks) != 1 || report.Fallbacks[0] != "img03-c" {
		t.Errorf("Expected img03-c to use the fallback calibration, got %v", report.Fallbacks)
	}

	if table.Summary.Label != models.SummaryLabel {
		t.Errorf("Expected summary label %s, got %s", models.SummaryLabel, table.Summary.Label)
	}
	all := table.All()
	if len(all) != 4 || all[3].Label != models.SummaryLabel {
		t.Errorf("All() should end with the summary row")
	}
}

func TestRunSkipsShapeErrors(t *testing.T) {
	broken := createDiskSample("img02-b", "img02", 32, 8)
	broken.Channels[models.Structural].Data = broken.Channels[models.Structural].Data[:10]
	samples := Samples{createDiskSample("img01-a", "img01", 64, 20), broken}

	table, report, err := NewAnalyzer(testParams()).Run(samples)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(table.Rows) != 1 || len(report.Skipped) != 1 {
		t.Errorf("Expected 1 row and 1 skipped sample, got %d and %d", len(table.Rows), len(report.Skipped))
	}

	p := testParams()
	p.FailOnShapeError = true
	_, _, err = NewAnalyzer(p).Run(samples)
	var shapeErr *projection.DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Errorf("Expected DataShapeError with the fail policy, got %v", err)
	}
}

// TestRunWarnsOncePerSkippedSample checks that the run reports each
// excluded sample with exactly one warning
func TestRunWarnsOncePerSkippedSample(t *testing.T) {
	var buf bytes.Buffer
	p := testParams()
	p.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)

	samples := Samples{createDiskSample("img01-a", "img01", 64, 20), createEmptySample("blank", 32)}
	_, report, err := NewAnalyzer(p).Run(samples)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("Expected 1 skipped sample, got %d", len(report.Skipped))
	}

	warnings := 0
	for _, e := range logEntries(t, &buf) {
		if e["sample"] == "blank" && e["message"] == "sample excluded from analysis" {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("Expected 1 exclusion warning for the skipped sample, got %d", warnings)
	}
}

func TestRunNoSamples(t *testing.T) {
	_, _, err := NewAnalyzer(testParams()).Run(Samples{})
	if !errors.Is(err, ErrNoSamples) {
		t.Errorf("Expected ErrNoSamples, got %v", err)
	}

	_, report, err := NewAnalyzer(testParams()).Run(Samples{createEmptySample("blank", 16)})
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
	if report == nil || len(report.Skipped) != 1 {
		t.Errorf("Expected the blank sample in the report")
	}
}

type failingSource struct{ Samples }

func (f failingSource) Load(i int) (*models.Sample, error) {
	if i == 0 {
		return nil, fmt.Errorf("disk unavailable")
	}
	return f.Samples[i], nil
}

func TestRunLoadError(t *testing.T) {
	src := failingSource{Samples{createDiskSample("bad", "bad", 32, 8), createDiskSample("img01-a", "img01", 64, 20)}}

	table, report, err := NewAnalyzer(testParams()).Run(src)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(table.Rows) != 1 || report.Skipped[0].Sample != "bad" {
		t.Errorf("Expected the failing sample to be skipped, got %+v", report)
	}
}

// TestRunParallelMatchesSequential checks that concurrent mapping yields the
// same table as the sequential run
func TestRunParallelMatchesSequential(t *testing.T) {
	var samples Samples
	for i := 0; i < 6; i++ {
		samples = append(samples, createDiskSample(fmt.Sprintf("img0%d-x", i), fmt.Sprintf("img0%d", i), 48, 8+i))
	}

	seq, _, err := NewAnalyzer(testParams()).Run(samples)
	if err != nil {
		t.Fatalf("sequential Run returned error: %v", err)
	}

	p := testParams()
	p.Workers = 4
	par, _, err := NewAnalyzer(p).Run(samples)
	if err != nil {
		t.Fatalf("parallel Run returned error: %v", err)
	}

	for i := range seq.Rows {
		if seq.Rows[i] != par.Rows[i] {
			t.Errorf("row %d differs: %+v vs %+v", i, seq.Rows[i], par.Rows[i])
		}
	}
	if seq.Summary != par.Summary {
		t.Errorf("summary differs")
	}
}

// TestRunIdempotent runs the same batch twice
func TestRunIdempotent(t *testing.T) {
	samples := Samples{createDiskSample("img01-a", "img01", 64, 20), createDiskSample("img02-b", "img02", 64, 14)}
	a, _, err := NewAnalyzer(testParams()).Run(samples)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	b, _, err := NewAnalyzer(testParams()).Run(samples)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for i := range a.Rows {
		if a.Rows[i] != b.Rows[i] {
			t.Errorf("row %d differs between runs", i)
		}
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingObserver) Observe(st *Stages) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, st.Sample.Name)
	if st.Regions == nil || st.Masks == nil || st.Channels == nil {
		return fmt.Errorf("incomplete stages")
	}
	return nil
}

func TestObservers(t *testing.T) {
	obs := &recordingObserver{}
	p := testParams()
	p.Observers = []Observer{obs}

	_, _, err := NewAnalyzer(p).Run(Samples{createDiskSample("img01-a", "img01", 64, 20), createEmptySample("blank", 16)})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(obs.names) != 2 {
		t.Errorf("Expected both samples to be observed, got %v", obs.names)
	}
}

func TestSummarize(t *testing.T) {
	rows := make([]models.FeatureRow, 3)
	for i := range rows {
		values := make([]float64, len(models.Columns))
		for j := range values {
			values[j] = float64((i + 1) * (j + 1))
		}
		rows[i].SetValues(values)
		rows[i].Label = fmt.Sprintf("c-%d", i)
	}

	summary := Summarize(rows)
	if summary.Label != models.SummaryLabel {
		t.Errorf("Expected label %s, got %s", models.SummaryLabel, summary.Label)
	}
	for j, v := range summary.Values() {
		// mean of 1, 2, 3 times (j+1)
		expected := 2 * float64(j+1)
		if math.Abs(v-expected) > 1e-12 {
			t.Errorf("column %s: expected %.2f, got %.2f", models.Columns[j], expected, v)
		}
	}
}
