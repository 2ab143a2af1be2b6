package feature

import (
	"errors"
	"fmt"
	"math"

	"github.com/includelabs/sign-core/internal/landmark"
)

// ErrMalformedFrame reports a frame whose keypoint count does not match the
// tracker's fixed arity.
var ErrMalformedFrame = errors.New("malformed landmark frame")

// Vector is a pose- and scale-invariant feature vector derived from one
// landmark frame: three components per keypoint, wrist-relative and scaled by
// the palm reference distance. Never mutated after creation.
type Vector []float64

// Distance returns the mean squared component difference between two vectors
// of equal length. It is the motion-energy primitive used by segmentation.
func Distance(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(len(a))
}

// Landmark indices follow the tracker's hand model: 0 is the wrist, 9 the
// middle-finger MCP. The wrist-to-MCP span is the scale reference.
const (
	wristIndex     = 0
	scaleRefIndex  = 9
	componentCount = 3
)

// Extractor converts landmark frames into feature vectors. It is stateless
// and deterministic: identical frames always yield identical vectors.
type Extractor struct {
	arity int
}

func NewExtractor(landmarkCount int) *Extractor {
	return &Extractor{arity: landmarkCount}
}

// Extract normalizes a frame by removing translation (wrist-relative
// coordinates) and scale (division by the wrist-to-MCP distance) so the same
// gesture performed at any distance from the camera yields comparable
// vectors.
func (e *Extractor) Extract(f landmark.Frame) (Vector, error) {
	if len(f.Keypoints) != e.arity {
		return nil, fmt.Errorf("%w: got %d keypoints, want %d", ErrMalformedFrame, len(f.Keypoints), e.arity)
	}

	origin := f.Keypoints[wristIndex]
	scale := 1.0
	if e.arity > scaleRefIndex {
		ref := f.Keypoints[scaleRefIndex]
		dx := ref.X - origin.X
		dy := ref.Y - origin.Y
		dz := ref.Z - origin.Z
		if d := math.Sqrt(dx*dx + dy*dy + dz*dz); d > 1e-9 {
			scale = d
		}
	}

	v := make(Vector, 0, e.arity*componentCount)
	for _, kp := range f.Keypoints {
		v = append(v,
			(kp.X-origin.X)/scale,
			(kp.Y-origin.Y)/scale,
			(kp.Z-origin.Z)/scale,
		)
	}
	return v, nil
}

// Mean averages a non-empty window of equal-length vectors. Used by
// classifiers that match against per-sign templates.
func Mean(window []Vector) Vector {
	if len(window) == 0 {
		return nil
	}
	out := make(Vector, len(window[0]))
	for _, v := range window {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float64(len(window))
	for i := range out {
		out[i] /= n
	}
	return out
}
