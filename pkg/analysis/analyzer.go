// Package analysis drives the per-sample segmentation and quantification
// pipeline across a batch and aggregates the results.
package analysis

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"organoidquant/internal/models"
	"organoidquant/pkg/calibration"
	"organoidquant/pkg/features"
	"organoidquant/pkg/projection"
	"organoidquant/pkg/segmentation"
)

var (
	// ErrNoSamples is returned when the source holds no samples at all
	ErrNoSamples = errors.New("no samples found")

	// ErrNoRows is returned when every sample was skipped
	ErrNoRows = errors.New("no sample produced a feature row")
)

// Params holds the analysis parameters. They are fixed for the lifetime of
// an Analyzer.
type Params struct {
	// Condition is the experimental condition used to label rows
	Condition string

	// Calibration maps sample identifiers to pixels per micron
	Calibration map[string]float64

	// Segmentation holds the threshold and morphology parameters
	Segmentation segmentation.Params

	// ZoneWidthMicrons is the width of the peripheral intensity zone
	ZoneWidthMicrons float64

	// Workers is the number of samples analysed concurrently. Values below 2
	// run the batch sequentially.
	Workers int

	// FailOnShapeError aborts the run on the first sample that cannot be
	// loaded or projected instead of skipping it
	FailOnShapeError bool

	// Observers receive the intermediate stages of every segmented sample.
	// They must be safe for concurrent use when Workers > 1.
	Observers []Observer

	// Logger receives per-sample progress and warnings
	Logger zerolog.Logger
}

// Stages exposes the intermediate products of one sample
type Stages struct {
	Sample   *models.Sample
	Channels *projection.Channels
	Scale    calibration.Scale
	Masks    *segmentation.Masks
	Regions  *segmentation.Regions
}

// Observer is notified once the regions of a sample have been carved
type Observer interface {
	Observe(st *Stages) error
}

// Source provides the samples of a batch by index, so that only the samples
// being analysed need to be held in memory
type Source interface {
	Len() int
	Name(i int) string
	Load(i int) (*models.Sample, error)
}

// Samples is a Source over samples already in memory
type Samples []*models.Sample

func (s Samples) Len() int                           { return len(s) }
func (s Samples) Name(i int) string                  { return s[i].Name }
func (s Samples) Load(i int) (*models.Sample, error) { return s[i], nil }

// Skipped records a sample that did not contribute a row
type Skipped struct {
	Sample string
	Err    error
}

// Report summarises what happened to every sample of a run
type Report struct {
	// Processed is the number of samples that produced a row
	Processed int

	// Skipped lists the excluded samples in input order
	Skipped []Skipped

	// Fallbacks lists the samples analysed with the default calibration
	Fallbacks []string
}

// Analyzer runs the pipeline over batches of samples
type Analyzer struct {
	params   *Params
	resolver *calibration.Resolver
	log      zerolog.Logger
}

// NewAnalyzer creates a new analyzer instance with the provided parameters
func NewAnalyzer(params *Params) *Analyzer {
	return &Analyzer{
		params:   params,
		resolver: calibration.NewResolver(params.Calibration),
		log:      params.Logger.With().Str("component", "analysis").Str("condition", params.Condition).Logger(),
	}
}

// AnalyzeSample runs projection, calibration, segmentation and feature
// extraction on one sample. The returned row has no label yet. Errors are
// *projection.DataShapeError for malformed input and features.ErrNoDetection
// when no organoid was found.
func (a *Analyzer) AnalyzeSample(s *models.Sample) (*models.FeatureRow, error) {
	log := a.log.With().Str("sample", s.Name).Str("id", s.ID).Logger()

	channels, err := projection.ProjectSample(s)
	if err != nil {
		return nil, err
	}

	scale := a.resolver.Resolve(s.ID)
	if scale.Fallback {
		log.Warn().Float64("pixels_per_um", scale.PixelsPerMicron).
			Msg("no scale factor found for sample, measurements stay in pixels")
	} else {
		log.Info().Float64("pixels_per_um", scale.PixelsPerMicron).Msg("using scale factor")
	}

	masks, err := segmentation.BuildMasks(channels.Structural, a.params.Segmentation)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	zoneRadius := scale.PixelRadius(a.params.ZoneWidthMicrons)
	regions, err := segmentation.CarveRegions(masks, a.params.Segmentation, zoneRadius)
	if err != nil {
		return nil, fmt.Errorf("region carving failed: %w", err)
	}
	log.Debug().
		Float64("otsu", masks.OtsuThreshold).
		Float64("triangle", masks.TriangleThreshold).
		Int("zone_radius_px", zoneRadius).
		Int("ring_px", regions.BoundaryRing.Count()).
		Msg("regions carved")

	st := &Stages{Sample: s, Channels: channels, Scale: scale, Masks: masks, Regions: regions}
	for _, o := range a.params.Observers {
		if err := o.Observe(st); err != nil {
			log.Warn().Err(err).Msg("failed to save intermediate results")
		}
	}

	row, err := features.Extract(features.Input{Regions: regions, Channels: channels, Scale: scale})
	if err != nil {
		return nil, err
	}
	row.SampleName = s.Name
	row.SampleID = s.ID

	if row.Flags.Has(models.CenterEmpty) {
		log.Warn().Int("zone_radius_px", zoneRadius).Msg("central zone is empty, centre intensities set to 0")
	}
	if row.Flags.Has(models.PeripheryEmpty) {
		log.Warn().Msg("outer ring is empty, periphery intensities set to 0")
	}

	return row, nil
}

type outcome struct {
	name string
	row  *models.FeatureRow
	err  error
}

// Run analyses every sample of the source and returns the result table with
// its summary row. Samples without a detected organoid are skipped; samples
// that fail to load or project are skipped unless FailOnShapeError is set.
func (a *Analyzer) Run(src Source) (*models.ResultTable, *Report, error) {
	if src.Len() == 0 {
		return nil, nil, ErrNoSamples
	}

	outcomes := a.analyzeAll(src)

	table := &models.ResultTable{Condition: a.params.Condition}
	report := &Report{}
	for _, o := range outcomes {
		if o.err != nil {
			if a.params.FailOnShapeError && !errors.Is(o.err, features.ErrNoDetection) {
				return nil, report, fmt.Errorf("sample %s: %w", o.name, o.err)
			}
			a.log.Warn().Str("sample", o.name).Err(o.err).Msg("sample excluded from analysis")
			report.Skipped = append(report.Skipped, Skipped{Sample: o.name, Err: o.err})
			continue
		}

		row := *o.row
		row.Label = fmt.Sprintf("%s-%d", a.params.Condition, len(table.Rows))
		if row.Flags.Has(models.CalibrationDefault) {
			report.Fallbacks = append(report.Fallbacks, o.name)
		}
		table.Rows = append(table.Rows, row)
		a.log.Info().Str("sample", o.name).Str("label", row.Label).
			Float64("circularity", row.Circularity).
			Float64("ratio_center", row.RatioCenter).
			Float64("ratio_periphery", row.RatioPeriphery).
			Msg("sample analysed")
	}
	report.Processed = len(table.Rows)

	if len(table.Rows) == 0 {
		return nil, report, ErrNoRows
	}
	table.Summary = Summarize(table.Rows)

	return table, report, nil
}

func (a *Analyzer) analyzeOne(src Source, i int) outcome {
	name := src.Name(i)
	s, err := src.Load(i)
	if err != nil {
		return outcome{name: name, err: fmt.Errorf("failed to load sample: %w", err)}
	}
	row, err := a.AnalyzeSample(s)
	return outcome{name: name, row: row, err: err}
}

// analyzeAll maps AnalyzeSample over the source, keeping input order
func (a *Analyzer) analyzeAll(src Source) []outcome {
	n := src.Len()
	results := make([]outcome, n)

	if a.params.Workers < 2 {
		for i := 0; i < n; i++ {
			results[i] = a.analyzeOne(src, i)
		}
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < a.params.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = a.analyzeOne(src, i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
