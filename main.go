package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/sphgrid/config"
	"github.com/pthm-cable/sphgrid/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and snapshots")
	resume := flag.String("resume", "", "Snapshot file to resume from")
	seed := flag.Int64("seed", 0, "Scenario seed (0 = use config)")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 = run to t_end)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	s, err := sim.New(config.Cfg(), sim.Options{
		Seed:       *seed,
		LogStats:   *logStats,
		OutputDir:  *outputDir,
		ResumeFrom: *resume,
		MaxSteps:   *maxSteps,
	})
	if err != nil {
		slog.Error("failed to set up simulation", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_, runErr := s.Run(ctx)
	stop()

	if err := s.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
	}
	if runErr != nil {
		slog.Error("simulation stopped", "error", runErr)
		os.Exit(1)
	}
}
