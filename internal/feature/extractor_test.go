package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/includelabs/sign-core/internal/landmark"
)

func handFrame(offsetX, offsetY, scale float64) landmark.Frame {
	kps := make([]landmark.Keypoint, 21)
	for i := range kps {
		kps[i] = landmark.Keypoint{
			X: offsetX + scale*float64(i)*0.01,
			Y: offsetY + scale*float64(i%5)*0.02,
			Z: scale * float64(i%3) * 0.005,
		}
	}
	return landmark.Frame{SessionID: "s1", Keypoints: kps, Quality: 1}
}

func TestExtractDeterministic(t *testing.T) {
	e := NewExtractor(21)
	f := handFrame(0.3, 0.4, 1)

	a, err := e.Extract(f)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	b, err := e.Extract(f)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(a) != 21*3 {
		t.Fatalf("unexpected vector length %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs across runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExtractTranslationAndScaleInvariant(t *testing.T) {
	e := NewExtractor(21)

	near, err := e.Extract(handFrame(0.1, 0.1, 1))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	// Same pose, shifted across the image and twice as far from the camera.
	far, err := e.Extract(handFrame(0.6, 0.5, 0.5))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	for i := range near {
		if math.Abs(near[i]-far[i]) > 1e-9 {
			t.Fatalf("component %d not invariant: %v vs %v", i, near[i], far[i])
		}
	}
}

func TestExtractRejectsWrongArity(t *testing.T) {
	e := NewExtractor(21)
	f := landmark.Frame{Keypoints: make([]landmark.Keypoint, 5)}
	if _, err := e.Extract(f); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDistance(t *testing.T) {
	a := Vector{0, 0, 0}
	b := Vector{1, 1, 1}
	if d := Distance(a, b); d != 1 {
		t.Fatalf("expected mean squared distance 1, got %v", d)
	}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("identical vectors must have zero distance, got %v", d)
	}
	if d := Distance(nil, b); d != 0 {
		t.Fatalf("mismatched lengths must yield zero, got %v", d)
	}
}
