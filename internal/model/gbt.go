package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Loss selects the boosting objective.
type Loss string

const (
	// LossSquared trains the point-estimate ("median") model.
	LossSquared Loss = "squared"
	// LossAsymL1 trains the auxiliary bound models: absolute error with
	// direction-dependent weights.
	LossAsymL1 Loss = "asym_l1"
)

// Params is the bounded hyperparameter space the tuner searches over.
type Params struct {
	Trees           int     `json:"trees"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	Subsample       float64 `json:"subsample"`
	FeatureFraction float64 `json:"feature_fraction"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	Lambda          float64 `json:"lambda"`
}

func DefaultParams() Params {
	return Params{
		Trees:           150,
		LearningRate:    0.08,
		MaxDepth:        4,
		Subsample:       0.8,
		FeatureFraction: 0.8,
		MinSamplesLeaf:  8,
		Lambda:          1.0,
	}
}

// GBT is a gradient-boosted regression tree ensemble satisfying the
// Regressor contract: Fit(X, y, sampleWeight) then Predict(X). Exported
// fields round-trip through JSON for the persisted bundle.
type GBT struct {
	Params    Params  `json:"params"`
	Loss      Loss    `json:"loss"`
	UnderW    float64 `json:"under_w,omitempty"` // asym L1: weight when pred < y
	OverW     float64 `json:"over_w,omitempty"`  // asym L1: weight when pred > y
	Seed      int64   `json:"seed"`
	InitValue float64 `json:"init"`
	Nodes     []*Node `json:"trees"`
}

// Regressor is the external-collaborator contract for the point and bound
// models. Anything with fit/predict semantics can stand behind it.
type Regressor interface {
	Fit(X [][]float64, y, sampleWeight []float64) error
	Predict(X [][]float64) []float64
	PredictRow(row []float64) float64
}

func NewGBT(p Params, loss Loss, seed int64) *GBT {
	g := &GBT{Params: p, Loss: loss, Seed: seed}
	if loss == LossAsymL1 {
		g.UnderW, g.OverW = 1, 1
	}
	return g
}

// NewBoundGBT builds an asymmetric-loss regressor. The wrong-direction error
// is weighted 4x the right-direction error: a lower-bound model is punished
// hard for landing above the target, an upper-bound model for landing below.
func NewBoundGBT(p Params, upper bool, seed int64) *GBT {
	g := NewGBT(p, LossAsymL1, seed)
	if upper {
		g.UnderW, g.OverW = 4, 1
	} else {
		g.UnderW, g.OverW = 1, 4
	}
	return g
}

func (g *GBT) Fit(X [][]float64, y, sampleWeight []float64) error {
	n := len(X)
	if n == 0 || len(y) != n {
		return fmt.Errorf("gbt fit: %d rows, %d targets", n, len(y))
	}
	if sampleWeight == nil {
		sampleWeight = make([]float64, n)
		for i := range sampleWeight {
			sampleWeight[i] = 1
		}
	}
	if len(sampleWeight) != n {
		return fmt.Errorf("gbt fit: %d rows, %d weights", n, len(sampleWeight))
	}
	nFeatures := len(X[0])

	g.InitValue = g.initEstimate(y, sampleWeight)
	g.Nodes = g.Nodes[:0]

	rng := rand.New(rand.NewSource(g.Seed))
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = g.InitValue
	}
	grad := make([]float64, n)

	for t := 0; t < g.Params.Trees; t++ {
		for i := range grad {
			grad[i] = g.negGradient(y[i], pred[i])
		}

		idx := subsampleRows(n, g.Params.Subsample, rng)
		feats := subsampleFeatures(nFeatures, g.Params.FeatureFraction, rng)

		b := &treeBuilder{
			X:              X,
			grad:           grad,
			weight:         sampleWeight,
			maxDepth:       g.Params.MaxDepth,
			minSamplesLeaf: g.Params.MinSamplesLeaf,
			lambda:         g.Params.Lambda,
			features:       feats,
		}
		tree := b.build(idx, 0)
		g.Nodes = append(g.Nodes, tree)

		for i := range pred {
			pred[i] += g.Params.LearningRate * tree.predict(X[i])
		}
	}
	return nil
}

func (g *GBT) initEstimate(y, w []float64) float64 {
	var sum, wsum float64
	for i := range y {
		sum += y[i] * w[i]
		wsum += w[i]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// negGradient is the step direction for one sample.
func (g *GBT) negGradient(y, pred float64) float64 {
	switch g.Loss {
	case LossAsymL1:
		if y > pred {
			return g.UnderW
		}
		if y < pred {
			return -g.OverW
		}
		return 0
	default:
		return y - pred
	}
}

func (g *GBT) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = g.PredictRow(row)
	}
	return out
}

func (g *GBT) PredictRow(row []float64) float64 {
	p := g.InitValue
	for _, tree := range g.Nodes {
		p += g.Params.LearningRate * tree.predict(row)
	}
	return p
}

func subsampleRows(n int, frac float64, rng *rand.Rand) []int {
	if frac >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(math.Max(1, frac*float64(n)))
	perm := rng.Perm(n)[:k]
	return perm
}

func subsampleFeatures(nFeatures int, frac float64, rng *rand.Rand) []int {
	k := int(math.Max(1, frac*float64(nFeatures)))
	if k >= nFeatures {
		all := make([]int, nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(nFeatures)[:k]
}
