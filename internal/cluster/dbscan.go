package cluster

import (
	"math"

	"github.com/rania-fds/fds/internal/geometry"
)

// Noise is the label DBSCAN assigns to points outside every cluster.
const Noise = -1

// unvisited marks points DBSCAN has not looked at yet.
const unvisited = -2

// spatialIndex buckets points into a square grid whose cell size equals eps,
// so a neighbourhood query only has to inspect the 3x3 block of cells around
// the query point.
type spatialIndex struct {
	cellSize float64
	grid     map[int64][]int
}

func newSpatialIndex(cellSize float64, points []geometry.Point) *spatialIndex {
	si := &spatialIndex{
		cellSize: cellSize,
		grid:     make(map[int64][]int, len(points)/4+1),
	}
	for i, p := range points {
		cx, cy := si.cell(p)
		id := cellID(cx, cy)
		si.grid[id] = append(si.grid[id], i)
	}
	return si
}

func (si *spatialIndex) cell(p geometry.Point) (int64, int64) {
	return int64(math.Floor(p.X / si.cellSize)), int64(math.Floor(p.Y / si.cellSize))
}

// cellID packs signed cell coordinates into one key: zigzag to make them
// non-negative, then Szudzik's pairing function.
func cellID(cx, cy int64) int64 {
	a := zigzag(cx)
	b := zigzag(cy)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

func zigzag(v int64) int64 {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}

// regionQuery returns the indices of every point within eps of points[idx],
// idx included, in ascending index order within each cell.
func (si *spatialIndex) regionQuery(points []geometry.Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps
	cx, cy := si.cell(p)

	var neighbours []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, j := range si.grid[cellID(cx+dx, cy+dy)] {
				q := points[j]
				ddx := q.X - p.X
				ddy := q.Y - p.Y
				if ddx*ddx+ddy*ddy <= eps2 {
					neighbours = append(neighbours, j)
				}
			}
		}
	}
	return neighbours
}

// dbscan labels each point with a cluster number (0, 1, ...) or Noise.
// A point is a core point when its eps-neighbourhood, itself included, holds
// at least minPts points. Clusters are numbered in order of the lowest-index
// core point that seeds them, so labelling is stable for a given input order.
func dbscan(points []geometry.Point, eps float64, minPts int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}
	if len(points) == 0 || eps <= 0 {
		for i := range labels {
			labels[i] = Noise
		}
		return labels
	}

	si := newSpatialIndex(eps, points)
	next := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbours := si.regionQuery(points, i, eps)
		if len(neighbours) < minPts {
			labels[i] = Noise
			continue
		}
		expand(points, si, labels, i, neighbours, next, eps, minPts)
		next++
	}
	return labels
}

// expand grows cluster id outward from seed using a work queue.
func expand(points []geometry.Point, si *spatialIndex, labels []int,
	seed int, queue []int, id int, eps float64, minPts int) {

	labels[seed] = id
	for k := 0; k < len(queue); k++ {
		j := queue[k]
		if labels[j] == Noise {
			// Border point previously written off as noise.
			labels[j] = id
			continue
		}
		if labels[j] != unvisited {
			continue
		}
		labels[j] = id
		more := si.regionQuery(points, j, eps)
		if len(more) >= minPts {
			queue = append(queue, more...)
		}
	}
}
