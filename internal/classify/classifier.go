// Package classify turns a LiDAR cluster into an activity verdict. A cluster
// is reduced to a fixed-length vector of keypoints (mean distances over equal
// angular sections) and labelled by a nearest-neighbour model fitted once
// from a TrainingSet.
package classify

import (
	"fmt"

	"github.com/rania-fds/fds/internal/cluster"
)

// Activity is the classifier verdict.
type Activity int

const (
	ActivityOther Activity = iota
	ActivityFall
)

func (a Activity) String() string {
	switch a {
	case ActivityOther:
		return "OTHER"
	case ActivityFall:
		return "FALL"
	}
	return fmt.Sprintf("Activity(%d)", int(a))
}

// Training labels. Any label other than LabelFall maps to ActivityOther.
const (
	LabelOther = 0
	LabelFall  = 1
)

// Options tunes the classifier.
type Options struct {
	Neighbors int
	// P is the Minkowski exponent of the distance metric; 1 is Manhattan.
	P float64
}

// DefaultOptions returns k=6 with the Manhattan metric.
func DefaultOptions() Options {
	return Options{Neighbors: DefaultNeighbors, P: DefaultMinkowskiP}
}

// Classifier is a fitted keypoint model. The model is read-only after
// construction.
type Classifier struct {
	keypoints int
	model     *knn
}

// New fits a classifier from set. Shape problems in the training set are
// reported as ErrTrainingShape.
func New(set TrainingSet, opts Options) (*Classifier, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if opts.Neighbors < 1 {
		return nil, fmt.Errorf("classify: neighbours must be at least 1, got %d", opts.Neighbors)
	}
	if opts.P < 1 {
		return nil, fmt.Errorf("classify: minkowski p must be at least 1, got %v", opts.P)
	}
	return &Classifier{
		keypoints: set.Keypoints,
		model:     newKNN(opts.Neighbors, opts.P, set),
	}, nil
}

// Keypoints returns the feature vector length the model was trained on.
func (c *Classifier) Keypoints() int { return c.keypoints }

// Classify labels one cluster from the advanced clustering pass.
func (c *Classifier) Classify(cl cluster.Cluster) (Activity, error) {
	kp, err := ClusterKeypoints(cl, c.keypoints)
	if err != nil {
		return ActivityOther, err
	}
	return c.ClassifyVector(kp)
}

// ClassifyVector labels a precomputed keypoint vector.
func (c *Classifier) ClassifyVector(kp []float64) (Activity, error) {
	label, err := c.model.predict(kp)
	if err != nil {
		return ActivityOther, err
	}
	if label == LabelFall {
		return ActivityFall, nil
	}
	return ActivityOther, nil
}
