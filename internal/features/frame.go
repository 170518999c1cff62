package features

import (
	"fmt"
	"math"
	"time"

	"github.com/paolodgm/solarcast/internal/models"
)

// Frame is the derived feature table handed to the trainer: one row per
// surviving observation, all values finite. Transient by design, recomputed
// per run and never persisted.
type Frame struct {
	Times   []time.Time
	Columns []string
	Rows    [][]float64
	Targets map[models.Horizon][]float64

	// Daylight marks rows whose observation time is classified as day; the
	// trainer upweights these.
	Daylight []bool

	// Irradiance is the measured value at each row's own timestamp, kept for
	// residual diagnostics.
	Irradiance []float64
}

func (f *Frame) Len() int { return len(f.Times) }

func (f *Frame) ColumnIndex(name string) (int, error) {
	for i, c := range f.Columns {
		if c == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no column %q", name)
}

// Slice returns a view of rows [lo, hi). Backing arrays are shared; the
// frame is treated as read-only after construction.
func (f *Frame) Slice(lo, hi int) *Frame {
	targets := make(map[models.Horizon][]float64, len(f.Targets))
	for h, t := range f.Targets {
		targets[h] = t[lo:hi]
	}
	return &Frame{
		Times:      f.Times[lo:hi],
		Columns:    f.Columns,
		Rows:       f.Rows[lo:hi],
		Targets:    targets,
		Daylight:   f.Daylight[lo:hi],
		Irradiance: f.Irradiance[lo:hi],
	}
}

// CheckFinite verifies no NaN/Inf survived construction. A violation here is
// a pipeline bug, not a data error.
func (f *Frame) CheckFinite() error {
	for i, row := range f.Rows {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d column %s not finite", i, f.Columns[j])
			}
		}
	}
	for h, t := range f.Targets {
		for i, v := range t {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d horizon %d target not finite", i, h)
			}
		}
	}
	return nil
}
