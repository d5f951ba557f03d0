// batch-hotspots runs a single clustering pass over a static NDJSON dataset
// and writes the ranked hotspot list as JSON. No windowing, no alerting.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/arterial-data/hotspot.report/internal/config"
	"github.com/arterial-data/hotspot.report/internal/hotspot"
	"github.com/arterial-data/hotspot.report/internal/transport"
)

var (
	inputPath  = flag.String("input", "", "NDJSON event file (required)")
	outputPath = flag.String("output", "", "Output JSON path (stdout when omitted)")
	configPath = flag.String("config", "", "Path to tuning JSON")

	epsOverride    = flag.Float64("eps", 0, "Override eps in degrees")
	minPtsOverride = flag.Int("min-points", 0, "Override DBSCAN min_points")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "batch-hotspots: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	eps := cfg.GetEps()
	if *epsOverride > 0 {
		eps = *epsOverride
	}
	minPts := cfg.GetMinPoints()
	if *minPtsOverride > 0 {
		minPts = *minPtsOverride
	}

	events, err := transport.ReadEvents(*inputPath)
	if err != nil {
		return err
	}

	result, err := hotspot.RunBatch(events, eps, minPts, hotspot.AggregateOptions{
		MinClusterSize: cfg.GetMinClusterSize(),
		KmPerDegreeLat: cfg.GetKmPerDegreeLat(),
		KmPerDegreeLon: cfg.GetKmPerDegreeLon(),
	})
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
