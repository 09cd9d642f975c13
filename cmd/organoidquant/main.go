package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"organoidquant/internal/models"
	"organoidquant/pkg/analysis"
	"organoidquant/pkg/config"
	"organoidquant/pkg/overlay"
	"organoidquant/pkg/reader"
	"organoidquant/pkg/report"
	"organoidquant/pkg/segmentation"
	"organoidquant/pkg/visualization"
)

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(consoleWriter).Level(level).With().Timestamp().Logger()
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "organoidquant.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	inputDir := flag.String("input", "", "Directory holding one sub-directory per sample")
	outputFile := flag.String("output", "", "Output CSV file")
	condition := flag.String("condition", "", "Experimental condition used to label rows")
	workers := flag.Int("workers", 0, "Number of samples analysed concurrently")
	chartFile := flag.String("chart", "", "Optional PNG bar chart of the ratios")
	overlayDir := flag.String("overlay-dir", "", "Directory for QC overlays")
	intermediaryDir := flag.String("intermediary-dir", "", "Directory for projections and masks")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command line flags override file values
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Experiment.InputDir = *inputDir
		case "output":
			cfg.Experiment.OutputFile = *outputFile
		case "condition":
			cfg.Experiment.Condition = *condition
		case "workers":
			cfg.Processing.Workers = *workers
		case "chart":
			cfg.Output.ChartFile = *chartFile
		case "overlay-dir":
			cfg.Output.OverlayDir = *overlayDir
		case "intermediary-dir":
			cfg.Output.IntermediaryDir = *intermediaryDir
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	log := newLogger(cfg.Output.Verbose)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Experiment.InputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("analysis failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	src, err := reader.Open(cfg.Experiment.InputDir, reader.Mapping{
		models.Nuclear:    cfg.Channels.Nuclear,
		models.Structural: cfg.Channels.Structural,
		models.Marker1:    cfg.Channels.Marker1,
		models.Marker2:    cfg.Channels.Marker2,
	}, log)
	if err != nil {
		return err
	}

	params := &analysis.Params{
		Condition:   cfg.Experiment.Condition,
		Calibration: cfg.Calibration,
		Segmentation: segmentation.Params{
			Bins:              cfg.Segmentation.HistogramBins,
			DilationRadius:    cfg.Segmentation.DilationRadius,
			RingErosionRadius: cfg.Segmentation.RingErosionRadius,
		},
		ZoneWidthMicrons: cfg.Segmentation.ZoneWidthMicrons,
		Workers:          cfg.Processing.Workers,
		FailOnShapeError: cfg.Processing.OnShapeError == config.OnShapeErrorFail,
		Logger:           log,
	}
	if cfg.Output.IntermediaryDir != "" {
		params.Observers = append(params.Observers, visualization.NewViewer(cfg.Output.IntermediaryDir))
	}
	if cfg.Output.OverlayDir != "" {
		params.Observers = append(params.Observers, overlay.NewWriter(cfg.Output.OverlayDir))
	}

	log.Info().
		Str("input", cfg.Experiment.InputDir).
		Str("condition", cfg.Experiment.Condition).
		Int("samples", src.Len()).
		Int("workers", cfg.Processing.Workers).
		Msg("starting analysis")
	startTime := time.Now()

	table, rep, err := analysis.NewAnalyzer(params).Run(src)
	if err != nil {
		if errors.Is(err, analysis.ErrNoRows) {
			return fmt.Errorf("%w: no organoid was detected in any sample", err)
		}
		return err
	}

	format := report.DefaultFormat()
	format.Delimiter = []rune(cfg.Output.Delimiter)[0]
	format.DecimalComma = cfg.Output.DecimalComma
	if err := report.SaveTable(cfg.Experiment.OutputFile, table, format); err != nil {
		return err
	}

	if cfg.Output.ChartFile != "" {
		if err := report.SaveRatioChart(cfg.Output.ChartFile, table); err != nil {
			log.Warn().Err(err).Msg("failed to save ratio chart")
		}
	}

	log.Info().
		Int("processed", rep.Processed).
		Int("skipped", len(rep.Skipped)).
		Int("calibration_fallbacks", len(rep.Fallbacks)).
		Float64("ratio_center_avg", table.Summary.RatioCenter).
		Float64("ratio_periphery_avg", table.Summary.RatioPeriphery).
		Dur("elapsed", time.Since(startTime)).
		Str("output", cfg.Experiment.OutputFile).
		Msg("analysis completed")

	return nil
}
