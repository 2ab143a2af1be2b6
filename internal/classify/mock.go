package classify

import (
	"context"

	"github.com/includelabs/sign-core/internal/segment"
)

type mockClassifier struct {
	label      string
	confidence float64
}

// NewMock returns a classifier that labels every segment the same way.
// Useful for bring-up and for exercising the pipeline without a tracker.
func NewMock(label string, confidence float64) Classifier {
	return &mockClassifier{label: label, confidence: confidence}
}

func (m *mockClassifier) Classify(_ context.Context, _ segment.Segment) ([]Candidate, error) {
	return []Candidate{{Label: m.label, Confidence: m.confidence}}, nil
}
