package dataset

import (
	"testing"
	"time"
)

func hourly(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestSequentialSplitOrdering(t *testing.T) {
	times := hourly(100)
	sp, err := SequentialSplit(times, SplitConfig{TestSize: 0.2, ValSize: 0.2})
	if err != nil {
		t.Fatalf("SequentialSplit: %v", err)
	}

	if sp.TrainRows() != 60 || sp.ValRows() != 20 || sp.TestRows() != 20 {
		t.Errorf("split sizes = %d/%d/%d, want 60/20/20", sp.TrainRows(), sp.ValRows(), sp.TestRows())
	}

	maxTrain := times[sp.TrainEnd-1]
	minVal := times[sp.TrainEnd]
	maxVal := times[sp.ValEnd-1]
	minTest := times[sp.ValEnd]
	if !maxTrain.Before(minVal) {
		t.Errorf("max(train)=%v not before min(val)=%v", maxTrain, minVal)
	}
	if !maxVal.Before(minTest) {
		t.Errorf("max(val)=%v not before min(test)=%v", maxVal, minTest)
	}
}

func TestSequentialSplitNoOverlap(t *testing.T) {
	sp, err := SequentialSplit(hourly(57), DefaultSplitConfig())
	if err != nil {
		t.Fatalf("SequentialSplit: %v", err)
	}
	total := sp.TrainRows() + sp.ValRows() + sp.TestRows()
	if total != 57 {
		t.Errorf("partitions cover %d rows, want 57", total)
	}
}

func TestSequentialSplitErrors(t *testing.T) {
	tests := []struct {
		name  string
		times []time.Time
		cfg   SplitConfig
	}{
		{"empty", nil, DefaultSplitConfig()},
		{"zero val fraction", hourly(50), SplitConfig{TestSize: 0.2}},
		{"fractions exceed one", hourly(50), SplitConfig{TestSize: 0.6, ValSize: 0.5}},
		{"too small", hourly(3), SplitConfig{TestSize: 0.1, ValSize: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SequentialSplit(tt.times, tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSequentialSplitStrictMonotonic(t *testing.T) {
	times := hourly(50)
	times[10], times[11] = times[11], times[10]

	if _, err := SequentialSplit(times, SplitConfig{TestSize: 0.2, ValSize: 0.2, Strict: true}); err == nil {
		t.Error("strict split should reject non-monotonic timestamps")
	}

	// Non-strict mode warns but proceeds, and never reorders the input:
	// the caller's rows live in a parallel slice, so a repair here would
	// desynchronise timestamps from features.
	if _, err := SequentialSplit(times, SplitConfig{TestSize: 0.2, ValSize: 0.2}); err != nil {
		t.Errorf("non-strict split should proceed, got %v", err)
	}
	if !times[10].After(times[11]) {
		t.Error("split reordered the caller's timestamps")
	}
}
