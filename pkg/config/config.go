// Package config provides configuration loading and management for organoidquant.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Shape error policies
const (
	OnShapeErrorSkip = "skip"
	OnShapeErrorFail = "fail"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Experiment describes the batch being analysed
	Experiment struct {
		// Condition labels the rows of this run, e.g. "Soft-HMW-BME"
		Condition string `yaml:"condition"`

		// InputDir holds one sub-directory per sample
		InputDir string `yaml:"inputDir"`

		// OutputFile is the path of the result table
		OutputFile string `yaml:"outputFile"`
	} `yaml:"experiment"`

	// Calibration maps sample identifiers to pixels per micron
	Calibration map[string]float64 `yaml:"calibration"`

	// Channels gives the acquisition channel index of each marker
	Channels struct {
		Nuclear    int `yaml:"nuclear"`
		Structural int `yaml:"structural"`
		Marker1    int `yaml:"marker1"`
		Marker2    int `yaml:"marker2"`
	} `yaml:"channels"`

	// Segmentation parameters
	Segmentation struct {
		// HistogramBins is the histogram resolution for threshold selection
		HistogramBins int `yaml:"histogramBins"`

		// DilationRadius is the disk radius in pixels used to close the body mask
		DilationRadius int `yaml:"dilationRadius"`

		// RingErosionRadius is the width in pixels of the boundary ring
		RingErosionRadius int `yaml:"ringErosionRadius"`

		// ZoneWidthMicrons is the width of the peripheral intensity zone
		ZoneWidthMicrons float64 `yaml:"zoneWidthMicrons"`
	} `yaml:"segmentation"`

	// Processing parameters
	Processing struct {
		// Workers is the number of samples analysed concurrently
		Workers int `yaml:"workers"`

		// OnShapeError is "skip" or "fail"
		OnShapeError string `yaml:"onShapeError"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Delimiter separates fields in the result table
		Delimiter string `yaml:"delimiter"`

		// DecimalComma writes numbers with ',' as decimal separator
		DecimalComma bool `yaml:"decimalComma"`

		// ChartFile is an optional PNG bar chart of the per-sample ratios
		ChartFile string `yaml:"chartFile"`

		// OverlayDir receives QC overlays of the carved regions when set
		OverlayDir string `yaml:"overlayDir"`

		// IntermediaryDir receives projections and masks when set
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Experiment.Condition = "Organoid"
	cfg.Experiment.OutputFile = "analysis_results.csv"

	cfg.Calibration = map[string]float64{}

	cfg.Channels.Nuclear = 0
	cfg.Channels.Structural = 1
	cfg.Channels.Marker1 = 2
	cfg.Channels.Marker2 = 3

	cfg.Segmentation.HistogramBins = 256
	cfg.Segmentation.DilationRadius = 2
	cfg.Segmentation.RingErosionRadius = 2
	cfg.Segmentation.ZoneWidthMicrons = 10

	cfg.Processing.Workers = 1
	cfg.Processing.OnShapeError = OnShapeErrorSkip

	cfg.Output.Delimiter = ";"
	cfg.Output.DecimalComma = true
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	for id, v := range c.Calibration {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("calibration for %q must be positive and finite, got %g", id, v)
		}
	}

	idx := []int{c.Channels.Nuclear, c.Channels.Structural, c.Channels.Marker1, c.Channels.Marker2}
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		if i < 0 {
			return fmt.Errorf("channel index must be non-negative, got %d", i)
		}
		if seen[i] {
			return fmt.Errorf("channel index %d assigned twice", i)
		}
		seen[i] = true
	}

	if c.Segmentation.HistogramBins < 2 {
		return fmt.Errorf("histogramBins must be at least 2")
	}
	if c.Segmentation.DilationRadius < 0 || c.Segmentation.RingErosionRadius < 0 {
		return fmt.Errorf("morphology radii must be non-negative")
	}
	if w := c.Segmentation.ZoneWidthMicrons; !(w >= 0) || math.IsInf(w, 0) {
		return fmt.Errorf("zoneWidthMicrons must be non-negative and finite, got %g", w)
	}

	if c.Processing.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Processing.Workers > runtime.NumCPU()*4 {
		return fmt.Errorf("workers (%d) exceeds 4x the available CPUs", c.Processing.Workers)
	}
	switch c.Processing.OnShapeError {
	case OnShapeErrorSkip, OnShapeErrorFail:
	default:
		return fmt.Errorf("onShapeError must be %q or %q, got %q", OnShapeErrorSkip, OnShapeErrorFail, c.Processing.OnShapeError)
	}

	if len([]rune(c.Output.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Output.Delimiter)
	}
	if c.Output.DecimalComma && c.Output.Delimiter == "," {
		return fmt.Errorf("decimal comma cannot be combined with ',' as delimiter")
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if cfg.Calibration == nil {
		cfg.Calibration = map[string]float64{}
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
