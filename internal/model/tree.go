package model

import "sort"

// Node is one node of a regression tree. Exported fields so a fitted tree
// round-trips through JSON for the persisted model bundle.
type Node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Value     float64 `json:"v"`
	Left      *Node   `json:"l,omitempty"`
	Right     *Node   `json:"r,omitempty"`
}

func (n *Node) isLeaf() bool { return n.Left == nil && n.Right == nil }

func (n *Node) predict(row []float64) float64 {
	for !n.isLeaf() {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// treeBuilder grows one depth-limited regression tree on (gradient, weight)
// pairs using exhaustive threshold scans with running weighted sums.
type treeBuilder struct {
	X              [][]float64
	grad           []float64
	weight         []float64
	maxDepth       int
	minSamplesLeaf int
	lambda         float64
	features       []int // candidate feature subset for this tree
}

func (b *treeBuilder) build(idx []int, depth int) *Node {
	node := &Node{Value: b.leafValue(idx)}
	if depth >= b.maxDepth || len(idx) < 2*b.minSamplesLeaf {
		return node
	}

	feat, thresh, gain := b.bestSplit(idx)
	if gain <= 0 {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feat] <= thresh {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minSamplesLeaf || len(right) < b.minSamplesLeaf {
		return node
	}

	node.Feature = feat
	node.Threshold = thresh
	node.Left = b.build(left, depth+1)
	node.Right = b.build(right, depth+1)
	return node
}

// leafValue is the L2-regularised weighted mean gradient.
func (b *treeBuilder) leafValue(idx []int) float64 {
	var g, w float64
	for _, i := range idx {
		g += b.grad[i] * b.weight[i]
		w += b.weight[i]
	}
	return g / (w + b.lambda)
}

func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold, gain float64) {
	var totG, totW float64
	for _, i := range idx {
		totG += b.grad[i] * b.weight[i]
		totW += b.weight[i]
	}
	parentScore := totG * totG / (totW + b.lambda)

	bestGain := 0.0
	bestFeat := -1
	bestThresh := 0.0

	order := make([]int, len(idx))
	for _, f := range b.features {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })

		var leftG, leftW float64
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftG += b.grad[i] * b.weight[i]
			leftW += b.weight[i]

			// Can't split between equal values.
			if b.X[order[pos]][f] == b.X[order[pos+1]][f] {
				continue
			}
			if pos+1 < b.minSamplesLeaf || len(order)-pos-1 < b.minSamplesLeaf {
				continue
			}

			rightG := totG - leftG
			rightW := totW - leftW
			score := leftG*leftG/(leftW+b.lambda) + rightG*rightG/(rightW+b.lambda)
			if g := score - parentScore; g > bestGain {
				bestGain = g
				bestFeat = f
				bestThresh = (b.X[order[pos]][f] + b.X[order[pos+1]][f]) / 2
			}
		}
	}

	if bestFeat < 0 {
		return 0, 0, 0
	}
	return bestFeat, bestThresh, bestGain
}
