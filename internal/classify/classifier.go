package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/segment"
)

// ErrUnavailable reports that the classification capability could not be
// reached or did not answer within its deadline. The caller drops the
// segment and keeps ingesting; this error is never fatal.
var ErrUnavailable = errors.New("classifier unavailable")

// Candidate is one ranked labeling of a gesture segment.
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier turns a sealed gesture segment into ranked label candidates.
// An empty result means the backend declines to label the segment. How
// candidates are produced is entirely the backend's business.
type Classifier interface {
	Classify(ctx context.Context, seg segment.Segment) ([]Candidate, error)
}

// New selects a backend by configured mode.
func New(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock("HELLO", 0.99), nil
	case "rule":
		return NewRuleTable(cfg), nil
	case "template":
		return NewTemplateMatcher(cfg)
	case "exec":
		return NewExec(cfg)
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
}

func rank(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}
