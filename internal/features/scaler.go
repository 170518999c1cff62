package features

import (
	"fmt"
	"math"
)

// Scaler standardises feature columns to zero mean and unit variance. It is
// owned by the forecasting service and passed explicitly; it is never a
// package global. Fitted once on the training partition, then applied
// unchanged to validation, test and live rows.
type Scaler struct {
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

func FitScaler(f *Frame) *Scaler {
	nCols := len(f.Columns)
	s := &Scaler{
		Columns: append([]string(nil), f.Columns...),
		Mean:    make([]float64, nCols),
		Std:     make([]float64, nCols),
	}
	n := float64(f.Len())
	for c := 0; c < nCols; c++ {
		var sum float64
		for _, row := range f.Rows {
			sum += row[c]
		}
		mean := sum / n
		var ss float64
		for _, row := range f.Rows {
			d := row[c] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 {
			std = 1 // constant column, pass through centred
		}
		s.Mean[c] = mean
		s.Std[c] = std
	}
	return s
}

// Transform returns a scaled copy of the frame's rows.
func (s *Scaler) Transform(f *Frame) ([][]float64, error) {
	if len(f.Columns) != len(s.Columns) {
		return nil, fmt.Errorf("scaler fitted on %d columns, frame has %d", len(s.Columns), len(f.Columns))
	}
	for i, c := range f.Columns {
		if c != s.Columns[i] {
			return nil, fmt.Errorf("column order mismatch at %d: %s vs %s", i, c, s.Columns[i])
		}
	}
	out := make([][]float64, len(f.Rows))
	for r, row := range f.Rows {
		scaled := make([]float64, len(row))
		for c, v := range row {
			scaled[c] = (v - s.Mean[c]) / s.Std[c]
		}
		out[r] = scaled
	}
	return out, nil
}

// TransformRow scales a single feature row at inference time.
func (s *Scaler) TransformRow(row []float64) ([]float64, error) {
	if len(row) != len(s.Columns) {
		return nil, fmt.Errorf("scaler fitted on %d columns, row has %d", len(s.Columns), len(row))
	}
	scaled := make([]float64, len(row))
	for c, v := range row {
		scaled[c] = (v - s.Mean[c]) / s.Std[c]
	}
	return scaled, nil
}
