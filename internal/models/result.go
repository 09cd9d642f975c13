package models

// SummaryLabel labels the synthetic row holding the cross-sample means
const SummaryLabel = "AVERAGE"

// FeatureRow holds the measurements of one successfully segmented sample.
// Areas are in square microns and perimeters in microns.
type FeatureRow struct {
	// Label is the sequential human-readable label assigned by the run
	Label string

	// SampleName and SampleID identify the source sample
	SampleName string
	SampleID   string

	// MeanIntensity is the mean structural intensity over the boundary ring component
	MeanIntensity float64

	// Circularity is 4π·area/perimeter² of the organoid outline
	Circularity float64

	Marker1Center float64
	Marker2Center float64
	RatioCenter   float64

	Marker1Periphery float64
	Marker2Periphery float64
	RatioPeriphery   float64

	// Perimeter is the outline length of the organoid
	Perimeter float64

	// Area is the area of the boundary ring component
	Area float64

	// EnclosedArea is the area inside the organoid outline
	EnclosedArea float64

	// Flags records defaulted values
	Flags Flags
}

// Columns lists the numeric fields of a FeatureRow in output order
var Columns = []string{
	"mean_intensity",
	"circularity",
	"mean_intensity_marker1_center",
	"mean_intensity_marker2_center",
	"ratio_center",
	"mean_intensity_marker1_periphery",
	"mean_intensity_marker2_periphery",
	"ratio_periphery",
	"perimeter_um",
	"area_um2",
	"enclosed_area_um2",
}

// Values returns the numeric fields in Columns order
func (r *FeatureRow) Values() []float64 {
	return []float64{
		r.MeanIntensity,
		r.Circularity,
		r.Marker1Center,
		r.Marker2Center,
		r.RatioCenter,
		r.Marker1Periphery,
		r.Marker2Periphery,
		r.RatioPeriphery,
		r.Perimeter,
		r.Area,
		r.EnclosedArea,
	}
}

// SetValues assigns the numeric fields from a slice in Columns order
func (r *FeatureRow) SetValues(v []float64) {
	if len(v) != len(Columns) {
		panic("models: value count does not match column count")
	}
	r.MeanIntensity = v[0]
	r.Circularity = v[1]
	r.Marker1Center = v[2]
	r.Marker2Center = v[3]
	r.RatioCenter = v[4]
	r.Marker1Periphery = v[5]
	r.Marker2Periphery = v[6]
	r.RatioPeriphery = v[7]
	r.Perimeter = v[8]
	r.Area = v[9]
	r.EnclosedArea = v[10]
}

// ResultTable is the final output of a run: per-sample rows followed by
// the summary row
type ResultTable struct {
	// Condition is the experimental condition the run was labelled with
	Condition string

	// Rows holds one entry per successfully segmented sample, in input order
	Rows []FeatureRow

	// Summary holds the column-wise means of Rows
	Summary FeatureRow
}

// All returns the per-sample rows followed by the summary row
func (t *ResultTable) All() []FeatureRow {
	out := make([]FeatureRow, 0, len(t.Rows)+1)
	out = append(out, t.Rows...)
	return append(out, t.Summary)
}
