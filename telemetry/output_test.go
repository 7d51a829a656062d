package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/sphgrid/config"
)

func TestOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v; want nil, nil", om, err)
	}

	// Every method is a no-op on a nil manager.
	if err := om.WriteSteps(StepStats{}); err != nil {
		t.Error(err)
	}
	if err := om.WritePerf(PerfStats{}, 1); err != nil {
		t.Error(err)
	}
	if err := om.WriteConfig(nil); err != nil {
		t.Error(err)
	}
	if path, err := om.WriteSnapshot(&Snapshot{}); path != "" || err != nil {
		t.Errorf("WriteSnapshot = %q, %v", path, err)
	}
	if om.Dir() != "" {
		t.Error("expected empty Dir")
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManager_WritesCSVWithSingleHeader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	for step := 100; step <= 300; step += 100 {
		if err := om.WriteSteps(StepStats{WindowEndStep: step, SimTime: float64(step) * 1e-3, Buckets: 7}); err != nil {
			t.Fatalf("WriteSteps: %v", err)
		}
		if err := om.WritePerf(PerfStats{StepsPerSecond: 50}, step); err != nil {
			t.Fatalf("WritePerf: %v", err)
		}
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "steps.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("steps.csv has %d lines, want header + 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "step,time,") {
		t.Errorf("header = %q", lines[0])
	}

	var rows []StepStats
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		t.Fatalf("parsing steps.csv: %v", err)
	}
	if rows[2].WindowEndStep != 300 || rows[2].Buckets != 7 {
		t.Errorf("last row = %+v", rows[2])
	}

	var perf []PerfStatsCSV
	perfData, err := os.ReadFile(filepath.Join(dir, "perf.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if err := gocsv.UnmarshalBytes(perfData, &perf); err != nil {
		t.Fatalf("parsing perf.csv: %v", err)
	}
	if len(perf) != 3 || perf[0].WindowEnd != 100 || perf[0].StepsPerSec != 50 {
		t.Errorf("perf rows = %+v", perf)
	}
}

func TestOutputManager_ConfigAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := om.WriteConfig(cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	if _, err := config.Load(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	y, _ := testState()
	path, err := om.WriteSnapshot(NewSnapshot(5, 0.5, 2, 2, y, nil))
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if want := filepath.Join(dir, "snapshots", "snapshot_000005.json"); path != want {
		t.Errorf("snapshot path = %s, want %s", path, want)
	}
}
