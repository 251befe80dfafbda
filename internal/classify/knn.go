package classify

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultNeighbors is the number of training vectors that vote.
	DefaultNeighbors = 6
	// DefaultMinkowskiP selects the Manhattan (L1) metric.
	DefaultMinkowskiP = 1
)

// knn is a brute-force k-nearest-neighbour model. Training sets are small
// (tens to hundreds of exemplars of 16 values), so a linear scan is cheaper
// than maintaining a tree.
type knn struct {
	k       int
	p       float64
	vectors [][]float64
	labels  []int
}

func newKNN(k int, p float64, set TrainingSet) *knn {
	vectors := make([][]float64, len(set.Vectors))
	for i, v := range set.Vectors {
		vectors[i] = append([]float64(nil), v...)
	}
	return &knn{
		k:       k,
		p:       p,
		vectors: vectors,
		labels:  append([]int(nil), set.Labels...),
	}
}

type neighbour struct {
	index int
	dist  float64
}

// predict returns the majority label among the k nearest training vectors.
// Equal distances keep training order; tied votes go to the smaller label.
func (m *knn) predict(x []float64) (int, error) {
	if len(m.vectors) == 0 {
		return 0, fmt.Errorf("classify: model has no training vectors")
	}
	if len(x) != len(m.vectors[0]) {
		return 0, fmt.Errorf("%w: feature vector has %d values, model expects %d",
			ErrTrainingShape, len(x), len(m.vectors[0]))
	}

	ns := make([]neighbour, len(m.vectors))
	for i, v := range m.vectors {
		ns[i] = neighbour{index: i, dist: floats.Distance(x, v, m.p)}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].dist < ns[j].dist })

	k := m.k
	if k > len(ns) {
		k = len(ns)
	}
	votes := make(map[int]int, 2)
	for _, n := range ns[:k] {
		votes[m.labels[n.index]]++
	}

	best, bestVotes := 0, -1
	for label, v := range votes {
		if v > bestVotes || (v == bestVotes && label < best) {
			best, bestVotes = label, v
		}
	}
	return best, nil
}
