package dataset

import (
	"fmt"
	"log"
	"sort"
	"time"
)

// SplitConfig controls the chronological train/validation/test partition.
// Fractions apply to row count, not calendar span.
type SplitConfig struct {
	TestSize float64
	ValSize  float64

	// Strict turns non-monotonic input timestamps into an error instead of a
	// warning.
	Strict bool
}

func DefaultSplitConfig() SplitConfig {
	return SplitConfig{TestSize: 0.2, ValSize: 0.2}
}

// Split holds the partition boundaries: rows [0, TrainEnd) train,
// [TrainEnd, ValEnd) validate, [ValEnd, N) test.
type Split struct {
	TrainEnd int
	ValEnd   int
	N        int
}

func (s Split) TrainRows() int { return s.TrainEnd }
func (s Split) ValRows() int   { return s.ValEnd - s.TrainEnd }
func (s Split) TestRows() int  { return s.N - s.ValEnd }

// SequentialSplit partitions n chronologically sorted rows without shuffling.
// Train strictly precedes validation strictly precedes test in time; no row
// appears in more than one partition. The input is never reordered: the
// splitter only sees timestamps, so callers own row order (the loader sorts
// at parse time) and out-of-order input warns unless Strict.
func SequentialSplit(times []time.Time, cfg SplitConfig) (Split, error) {
	n := len(times)
	if n == 0 {
		return Split{}, fmt.Errorf("empty dataset")
	}
	if cfg.TestSize <= 0 || cfg.ValSize <= 0 || cfg.TestSize+cfg.ValSize >= 1 {
		return Split{}, fmt.Errorf("invalid split fractions test=%v val=%v", cfg.TestSize, cfg.ValSize)
	}

	if !sort.SliceIsSorted(times, func(i, j int) bool { return times[i].Before(times[j]) }) {
		if cfg.Strict {
			return Split{}, fmt.Errorf("timestamps not monotonically non-decreasing")
		}
		log.Printf("dataset: timestamps not monotonic, splitting positionally; sort rows upstream for a clean partition")
	}

	testRows := int(float64(n) * cfg.TestSize)
	valRows := int(float64(n) * cfg.ValSize)
	trainEnd := n - testRows - valRows
	if trainEnd < 1 || valRows < 1 || testRows < 1 {
		return Split{}, fmt.Errorf("dataset too small for split: n=%d train=%d val=%d test=%d", n, trainEnd, valRows, testRows)
	}

	return Split{TrainEnd: trainEnd, ValEnd: trainEnd + valRows, N: n}, nil
}
