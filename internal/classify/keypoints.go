package classify

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rania-fds/fds/internal/cluster"
	"github.com/rania-fds/fds/internal/geometry"
)

// DefaultKeypoints is the length of the feature vector extracted from a
// cluster.
const DefaultKeypoints = 16

var (
	// ErrEmptyCluster is returned when keypoints are requested for a cluster
	// with no samples.
	ErrEmptyCluster = errors.New("classify: empty cluster")
	// ErrNoCenter is returned when a cluster reaches the classifier without
	// an angular centre.
	ErrNoCenter = errors.New("classify: cluster has no angular centre")
)

// Keypoints reduces a cluster to a k-element feature vector.
//
// The samples are recentred on center so they lie in (-180,180], sorted by
// recentred angle, and the angular span is divided into k equal sections
// starting at the smallest angle. Each of the first k-1 sections takes the
// samples whose angle does not exceed its upper bound; the last section
// takes everything left. A keypoint is the mean distance of its section.
//
// An empty section carries forward the previous keypoint. Leading empty
// sections take the value of the first populated one. A zero span puts
// every sample in the first section, so all keypoints equal the mean
// distance.
func Keypoints(samples []geometry.Sample, center float64, k int) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyCluster
	}
	if k < 1 {
		k = DefaultKeypoints
	}

	rc := geometry.Recenter(samples, center)
	sort.SliceStable(rc, func(i, j int) bool { return rc[i].Angle < rc[j].Angle })

	lo := rc[0].Angle
	span := rc[len(rc)-1].Angle - lo
	secLen := span / float64(k)

	keypoints := make([]float64, k)
	filled := make([]bool, k)
	dist := make([]float64, 0, len(rc))

	start := 0
	for sec := 0; sec < k; sec++ {
		end := len(rc)
		if sec < k-1 {
			upper := lo + float64(sec+1)*secLen
			end = start
			for end < len(rc) && rc[end].Angle <= upper {
				end++
			}
		}
		if end > start {
			dist = dist[:0]
			for _, s := range rc[start:end] {
				dist = append(dist, s.Distance)
			}
			keypoints[sec] = stat.Mean(dist, nil)
			filled[sec] = true
		}
		start = end
	}

	first := -1
	for i, ok := range filled {
		if ok {
			first = i
			break
		}
	}
	for i := 0; i < k; i++ {
		switch {
		case filled[i]:
		case i < first:
			keypoints[i] = keypoints[first]
		default:
			keypoints[i] = keypoints[i-1]
		}
	}
	return keypoints, nil
}

// ClusterKeypoints extracts keypoints from a cluster produced by the
// advanced clustering pass.
func ClusterKeypoints(c cluster.Cluster, k int) ([]float64, error) {
	if c.Len() == 0 {
		return nil, ErrEmptyCluster
	}
	if !c.HasCenter {
		return nil, ErrNoCenter
	}
	return Keypoints(c.Samples, c.Center, k)
}
