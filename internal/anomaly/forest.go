package anomaly

import (
	"math"
	"math/rand"
)

// Isolation forest parameters, following the standard formulation: outliers
// isolate in fewer random splits than inliers.
const (
	numTrees      = 100
	maxSubsample  = 256
	eulerMascheroni = 0.5772156649
)

type treeNode struct {
	feature int
	split   float64
	left    *treeNode
	right   *treeNode

	// size is the number of samples at an external node.
	size int
}

type forest struct {
	trees     []*treeNode
	subsample int
}

// fitForest builds the forest from the feature matrix. All randomness comes
// from rng, so a fixed seed and input order reproduce the same model.
func fitForest(data [][]float64, rng *rand.Rand) *forest {
	psi := len(data)
	if psi > maxSubsample {
		psi = maxSubsample
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	f := &forest{
		trees:     make([]*treeNode, numTrees),
		subsample: psi,
	}

	for t := 0; t < numTrees; t++ {
		sample := make([][]float64, psi)
		for i, j := range rng.Perm(len(data))[:psi] {
			sample[i] = data[j]
		}
		f.trees[t] = buildTree(sample, 0, heightLimit, rng)
	}

	return f
}

func buildTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(data) <= 1 {
		return &treeNode{size: len(data)}
	}

	// Pick a feature that still has spread; give up if none does.
	features := rng.Perm(len(data[0]))
	for _, feat := range features {
		lo, hi := data[0][feat], data[0][feat]
		for _, row := range data[1:] {
			if row[feat] < lo {
				lo = row[feat]
			}
			if row[feat] > hi {
				hi = row[feat]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range data {
			if row[feat] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}

		return &treeNode{
			feature: feat,
			split:   split,
			left:    buildTree(left, depth+1, heightLimit, rng),
			right:   buildTree(right, depth+1, heightLimit, rng),
		}
	}

	return &treeNode{size: len(data)}
}

// score returns the anomaly score for one sample in [0,1], higher meaning
// more anomalous: 2^(-E[h(x)] / c(psi)).
func (f *forest) score(sample []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, sample, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.subsample))
}

func pathLength(n *treeNode, sample []float64, depth float64) float64 {
	if n.left == nil && n.right == nil {
		return depth + avgPathLength(n.size)
	}
	if sample[n.feature] < n.split {
		return pathLength(n.left, sample, depth+1)
	}
	return pathLength(n.right, sample, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n samples.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
}
