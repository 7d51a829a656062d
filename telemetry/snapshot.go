package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sugawarayuuta/sonnet"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// ErrBadSnapshot is returned by LoadSnapshot for files that decode but do
// not describe a usable state.
var ErrBadSnapshot = errors.New("telemetry: malformed snapshot")

// Snapshot holds the particle state at one step, enough to resume a run.
type Snapshot struct {
	Version int    `json:"version"`
	Seed    int64  `json:"seed"`
	Kind    string `json:"scenario"`

	Step int     `json:"step"`
	Time float64 `json:"time"`

	Dims       int       `json:"dims"`
	N          int       `json:"n"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Density    []float64 `json:"density,omitempty"`
}

// NewSnapshot copies the state vector y = [positions | velocities].
func NewSnapshot(step int, t float64, dims, n int, y, density []float64) *Snapshot {
	half := n * dims
	s := &Snapshot{
		Version:    SnapshotVersion,
		Step:       step,
		Time:       t,
		Dims:       dims,
		N:          n,
		Positions:  append([]float64(nil), y[:half]...),
		Velocities: append([]float64(nil), y[half:2*half]...),
	}
	if density != nil {
		s.Density = append([]float64(nil), density...)
	}
	return s
}

// State returns a fresh state vector [positions | velocities].
func (s *Snapshot) State() []float64 {
	y := make([]float64, 0, len(s.Positions)+len(s.Velocities))
	y = append(y, s.Positions...)
	return append(y, s.Velocities...)
}

func (s *Snapshot) validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrBadSnapshot, s.Version, SnapshotVersion)
	}
	if s.Dims != 2 && s.Dims != 3 {
		return fmt.Errorf("%w: dims %d", ErrBadSnapshot, s.Dims)
	}
	want := s.N * s.Dims
	if s.N < 0 || len(s.Positions) != want || len(s.Velocities) != want {
		return fmt.Errorf("%w: %d positions and %d velocities for %d particles in %dD",
			ErrBadSnapshot, len(s.Positions), len(s.Velocities), s.N, s.Dims)
	}
	if s.Density != nil && len(s.Density) != s.N {
		return fmt.Errorf("%w: %d densities for %d particles", ErrBadSnapshot, len(s.Density), s.N)
	}
	return nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%06d.json", snapshot.Step))

	data, err := sonnet.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := sonnet.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := snapshot.validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return &snapshot, nil
}
