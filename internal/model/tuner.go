package model

import (
	"log"
	"math"
	"math/rand"
)

// Objective scores a candidate parameter set; lower is better. The tuner
// treats it as a black box.
type Objective func(Params) float64

// ParamSpace bounds the random search. Ranges are inclusive.
type ParamSpace struct {
	TreesMin, TreesMax                     int
	LearningRateMin, LearningRateMax       float64
	MaxDepthMin, MaxDepthMax               int
	SubsampleMin, SubsampleMax             float64
	FeatureFractionMin, FeatureFractionMax float64
	MinSamplesLeafMin, MinSamplesLeafMax   int
	LambdaMin, LambdaMax                   float64
}

func DefaultParamSpace() ParamSpace {
	return ParamSpace{
		TreesMin: 50, TreesMax: 300,
		LearningRateMin: 0.02, LearningRateMax: 0.2,
		MaxDepthMin: 2, MaxDepthMax: 6,
		SubsampleMin: 0.6, SubsampleMax: 1.0,
		FeatureFractionMin: 0.5, FeatureFractionMax: 1.0,
		MinSamplesLeafMin: 4, MinSamplesLeafMax: 20,
		LambdaMin: 0.1, LambdaMax: 5,
	}
}

func (sp ParamSpace) sample(rng *rand.Rand) Params {
	return Params{
		Trees:           sp.TreesMin + rng.Intn(sp.TreesMax-sp.TreesMin+1),
		LearningRate:    logUniform(sp.LearningRateMin, sp.LearningRateMax, rng),
		MaxDepth:        sp.MaxDepthMin + rng.Intn(sp.MaxDepthMax-sp.MaxDepthMin+1),
		Subsample:       uniform(sp.SubsampleMin, sp.SubsampleMax, rng),
		FeatureFraction: uniform(sp.FeatureFractionMin, sp.FeatureFractionMax, rng),
		MinSamplesLeaf:  sp.MinSamplesLeafMin + rng.Intn(sp.MinSamplesLeafMax-sp.MinSamplesLeafMin+1),
		Lambda:          logUniform(sp.LambdaMin, sp.LambdaMax, rng),
	}
}

// Tune runs a bounded random search and returns the best parameters found.
// A candidate whose objective returns NaN/Inf is skipped, not fatal.
func Tune(objective Objective, space ParamSpace, trials int, seed int64) Params {
	rng := rand.New(rand.NewSource(seed))
	best := DefaultParams()
	bestScore := objective(best)
	if math.IsNaN(bestScore) || math.IsInf(bestScore, 0) {
		bestScore = math.Inf(1)
	}

	for t := 0; t < trials; t++ {
		cand := space.sample(rng)
		score := objective(cand)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			log.Printf("tuner: trial %d returned non-finite score, skipping", t)
			continue
		}
		if score < bestScore {
			bestScore = score
			best = cand
		}
	}
	log.Printf("tuner: best score %.4f after %d trials", bestScore, trials)
	return best
}

func uniform(lo, hi float64, rng *rand.Rand) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func logUniform(lo, hi float64, rng *rand.Rand) float64 {
	return math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
}
