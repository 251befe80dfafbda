package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrTrainingShape marks a training set whose vectors, labels and keypoint
// count disagree. It is a fatal startup error.
var ErrTrainingShape = errors.New("classify: training set shape mismatch")

// maxTrainingFileSize bounds what LoadTrainingSet will read.
const maxTrainingFileSize = 16 * 1024 * 1024

// TrainingSet is the labelled keypoint data a Classifier is fitted from.
type TrainingSet struct {
	Keypoints int         `json:"keypoints"`
	Vectors   [][]float64 `json:"vectors"`
	Labels    []int       `json:"labels"`
}

// NewTrainingSet returns an empty set for k keypoints.
func NewTrainingSet(k int) TrainingSet {
	return TrainingSet{Keypoints: k}
}

// Validate checks that the set can be fitted.
func (s TrainingSet) Validate() error {
	if s.Keypoints < 1 {
		return fmt.Errorf("%w: keypoint count %d", ErrTrainingShape, s.Keypoints)
	}
	if len(s.Vectors) == 0 {
		return fmt.Errorf("%w: no training vectors", ErrTrainingShape)
	}
	if len(s.Vectors) != len(s.Labels) {
		return fmt.Errorf("%w: %d vectors but %d labels", ErrTrainingShape, len(s.Vectors), len(s.Labels))
	}
	for i, v := range s.Vectors {
		if len(v) != s.Keypoints {
			return fmt.Errorf("%w: vector %d has %d values, want %d", ErrTrainingShape, i, len(v), s.Keypoints)
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: vector %d holds a non-finite value", ErrTrainingShape, i)
			}
		}
	}
	return nil
}

// Append adds one labelled vector. The set is only mutated by the offline
// training tool, never while a classifier fitted from it is live.
func (s *TrainingSet) Append(vector []float64, label int) error {
	if len(vector) != s.Keypoints {
		return fmt.Errorf("%w: vector has %d values, want %d", ErrTrainingShape, len(vector), s.Keypoints)
	}
	s.Vectors = append(s.Vectors, append([]float64(nil), vector...))
	s.Labels = append(s.Labels, label)
	return nil
}

// LoadTrainingSet reads a JSON training set and validates its shape.
func LoadTrainingSet(path string) (TrainingSet, error) {
	var set TrainingSet
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return set, fmt.Errorf("failed to stat training set: %w", err)
	}
	if info.Size() > maxTrainingFileSize {
		return set, fmt.Errorf("training set too large: %d bytes (max %d)", info.Size(), maxTrainingFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return set, fmt.Errorf("failed to read training set: %w", err)
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("failed to parse training set: %w", err)
	}
	if err := set.Validate(); err != nil {
		return set, err
	}
	return set, nil
}

// LoadOrCreateTrainingSet returns the set stored at path, or an empty set
// for k keypoints when the file does not exist yet.
func LoadOrCreateTrainingSet(path string, k int) (TrainingSet, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return NewTrainingSet(k), nil
	}
	set, err := LoadTrainingSet(path)
	if err != nil {
		return set, err
	}
	if set.Keypoints != k {
		return set, fmt.Errorf("%w: stored set uses %d keypoints, want %d", ErrTrainingShape, set.Keypoints, k)
	}
	return set, nil
}

// SaveTrainingSet writes set as JSON via a temp file and rename.
func SaveTrainingSet(path string, set TrainingSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode training set: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write training set: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace training set: %w", err)
	}
	return nil
}
