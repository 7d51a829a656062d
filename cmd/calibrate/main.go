package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/sphgrid/config"
)

// evalRecord is one row of calibrate_log.csv.
type evalRecord struct {
	Eval        int     `csv:"eval"`
	Objective   float64 `csv:"objective"`
	RadiusRatio float64 `csv:"radius_ratio"`
	MassRatio   float64 `csv:"mass_ratio"`
	Density     float64 `csv:"density"`
	Neighbors   float64 `csv:"neighbors"`
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	seeds := flag.Int("seeds", 3, "Number of scenario seeds per evaluation")
	maxEvals := flag.Int("max-evals", 200, "Maximum number of evaluations")
	neighbors := flag.Float64("neighbors", 0, "Target interior neighbor count (0 = 20 in 2D, 40 in 3D)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	baseCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	target := *neighbors
	if target <= 0 {
		target = 20
		if baseCfg.Grid.Dims == 3 {
			target = 40
		}
	}

	evalSeeds := make([]int64, *seeds)
	for i := range evalSeeds {
		evalSeeds[i] = baseCfg.Scenario.Seed + int64(i)
	}

	params := NewParamVector()
	evaluator := NewEvaluator(params, baseCfg, evalSeeds, target)

	var records []evalRecord
	var lastErr error
	best := evalRecord{Objective: 1e9}
	start := time.Now()
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := params.Clamp(params.Denormalize(x))
			m, err := evaluator.Evaluate(raw)
			if err != nil {
				lastErr = err
			}

			rec := evalRecord{
				Eval:        len(records) + 1,
				Objective:   m.Objective,
				RadiusRatio: raw[0],
				MassRatio:   raw[1],
				Density:     m.Density,
				Neighbors:   m.Neighbors,
			}
			records = append(records, rec)
			if rec.Objective < best.Objective {
				best = rec
			}

			fmt.Printf("Eval %d/%d: objective=%.3g density=%.1f neighbors=%.1f (best=%.3g) | elapsed: %s\n",
				rec.Eval, *maxEvals, rec.Objective, rec.Density, rec.Neighbors, best.Objective,
				time.Since(start).Round(time.Millisecond))
			return m.Objective
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.2,
	}

	initX := params.Normalize(params.ExtractFromConfig(baseCfg))
	fmt.Printf("Calibrating %d parameters, target neighbors=%.0f, seeds=%d, max_evals=%d\n",
		params.Dim(), target, *seeds, *maxEvals)

	if _, err := optimize.Minimize(problem, initX, settings, method); err != nil {
		log.Printf("calibration ended: %v", err)
	}
	if lastErr != nil {
		log.Printf("last evaluation error: %v", lastErr)
	}
	if len(records) == 0 {
		log.Fatal("no evaluations completed")
	}

	logPath := filepath.Join(*outputDir, "calibrate_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	if err := gocsv.MarshalFile(&records, logFile); err != nil {
		log.Printf("failed to write log: %v", err)
	}

	fmt.Printf("\nCalibration complete after %d evaluations in %s\n", len(records), time.Since(start).Round(time.Second))
	fmt.Printf("Best objective: %.4g\n", best.Objective)
	fmt.Printf("  radius_ratio: %.4f\n  mass_ratio:   %.4f\n", best.RadiusRatio, best.MassRatio)
	fmt.Printf("  density:      %.2f (rest %.2f)\n  neighbors:    %.1f\n",
		best.Density, baseCfg.Fluid.RestDensity, best.Neighbors)

	bestCfg, _ := config.Load(*configPath)
	params.ApplyToConfig(bestCfg, []float64{best.RadiusRatio, best.MassRatio})
	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}
}
