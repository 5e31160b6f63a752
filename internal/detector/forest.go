package detector

import (
	"fmt"
	"math"
	"math/rand"
)

// isolationForest is an ensemble of random partitioning trees. Points
// that are separated from the rest of the data in fewer partitions
// receive higher anomaly scores.
type isolationForest struct {
	trees      []*isolationTree
	numTrees   int
	sampleSize int
	maxDepth   int
	rng        *rand.Rand
}

type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// newIsolationForest builds a forest from a caller-supplied random
// source. Supplying a seeded source makes fitting fully deterministic.
func newIsolationForest(numTrees, sampleSize int, rng *rand.Rand) *isolationForest {
	return &isolationForest{
		trees:      make([]*isolationTree, 0, numTrees),
		numTrees:   numTrees,
		sampleSize: sampleSize,
		rng:        rng,
	}
}

// fit trains the forest on the feature matrix, one row per period.
func (f *isolationForest) fit(features [][]float64) error {
	if len(features) == 0 {
		return fmt.Errorf("empty feature matrix")
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("feature row %d has %d columns, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("feature row %d column %d is not finite", i, j)
			}
		}
	}

	if f.sampleSize > len(features) {
		f.sampleSize = len(features)
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(f.sampleSize)))) + 1

	for i := 0; i < f.numTrees; i++ {
		sample := f.sample(features)
		f.trees = append(f.trees, f.buildTree(sample, 0))
	}
	return nil
}

// score returns the anomaly score for one feature row:
// 2^(-avgPathLength / c(sampleSize)), in (0, 1), higher = more isolated.
func (f *isolationForest) score(row []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.sampleSize))
}

// sample takes a Fisher-Yates shuffled subsample of the rows.
func (f *isolationForest) sample(features [][]float64) [][]float64 {
	shuffled := make([][]float64, len(features))
	copy(shuffled, features)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:f.sampleSize]
}

func (f *isolationForest) buildTree(data [][]float64, depth int) *isolationTree {
	if len(data) <= 1 || depth >= f.maxDepth || allIdentical(data) {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	feature := f.rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, feature)
	if minVal == maxVal {
		// Constant column; a random split cannot partition on it.
		return &isolationTree{size: len(data), isLeaf: true}
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(data),
	}
}

func (f *isolationForest) pathLength(tree *isolationTree, row []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if row[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, row, depth+1)
	}
	return f.pathLength(tree.right, row, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree: c(n) = 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - 2*float64(n-1)/float64(n)
}

// harmonicNumber approximates H(n) with the Euler-Mascheroni constant.
func harmonicNumber(n int) float64 {
	return math.Log(float64(n)) + 0.5772156649
}

func allIdentical(data [][]float64) bool {
	if len(data) <= 1 {
		return true
	}
	first := data[0]
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal := data[0][feature]
	maxVal := data[0][feature]
	for _, row := range data {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	return minVal, maxVal
}
