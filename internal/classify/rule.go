package classify

import (
	"context"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/feature"
	"github.com/includelabs/sign-core/internal/segment"
)

// fingerSigns maps raised-finger counts to the fixed classroom vocabulary.
// Counts above five come from two-hand trackers that report both hands in
// one frame.
var fingerSigns = map[int]string{
	1:  "HELLO",
	2:  "PLEASE",
	3:  "REPEAT THAT",
	4:  "I DID NOT UNDERSTAND",
	5:  "STOP",
	6:  "THANKS",
	7:  "GREAT",
	8:  "GOT IT",
	9:  "YES",
	10: "GOOD",
}

// Hand-model indices within a feature vector (three components per
// keypoint, wrist at the origin).
var fingertipIndices = [4]int{8, 12, 16, 20}

const (
	thumbTipIndex = 4
	thumbIPIndex  = 3
	thumbMargin   = 0.05
)

type ruleTable struct {
	cfg config.ClassifierConfig
}

// NewRuleTable returns the raised-finger-count classifier. Each frame of the
// segment votes for a count; the modal count wins and the share of agreeing
// frames becomes the confidence.
func NewRuleTable(cfg config.ClassifierConfig) Classifier {
	return &ruleTable{cfg: cfg}
}

func (r *ruleTable) Classify(_ context.Context, seg segment.Segment) ([]Candidate, error) {
	votes := make(map[int]int)
	for _, v := range seg.Vectors {
		votes[countRaisedFingers(v)]++
	}

	var best, bestVotes int
	for count, n := range votes {
		if n > bestVotes || (n == bestVotes && count > best) {
			best, bestVotes = count, n
		}
	}

	label, ok := fingerSigns[best]
	if !ok {
		// Zero raised fingers or an unmapped count: decline.
		return nil, nil
	}
	confidence := float64(bestVotes) / float64(len(seg.Vectors))
	if confidence < r.cfg.MinConfidence {
		return nil, nil
	}
	return rank([]Candidate{{Label: label, Confidence: confidence}}), nil
}

// countRaisedFingers applies the hand-geometry rules on one normalized
// vector: a fingertip above its knuckle (smaller y) counts as raised, the
// thumb by lateral distance from its joint.
func countRaisedFingers(v feature.Vector) int {
	x := func(i int) float64 { return v[i*3] }
	y := func(i int) float64 { return v[i*3+1] }
	if len(v) < (fingertipIndices[3]+1)*3 {
		return 0
	}

	count := 0
	// Wrist sits at the origin after normalization; the thumb is raised when
	// its tip clears the IP joint away from the palm center.
	if x(thumbTipIndex) < 0 {
		if x(thumbTipIndex) < x(thumbIPIndex)-thumbMargin {
			count++
		}
	} else if x(thumbTipIndex) > x(thumbIPIndex)+thumbMargin {
		count++
	}
	for _, tip := range fingertipIndices {
		if y(tip) < y(tip-3) {
			count++
		}
	}
	return count
}
