package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/feature"
	"github.com/includelabs/sign-core/internal/segment"
)

// handPose builds a 21-keypoint feature vector with the given fingertips
// raised. Index order matches the tracker hand model.
func handPose(raised ...int) feature.Vector {
	v := make(feature.Vector, 21*3)
	for _, tip := range raised {
		if tip == thumbTipIndex {
			v[thumbTipIndex*3] = 0.2
			v[thumbIPIndex*3] = 0.1
			continue
		}
		v[tip*3+1] = -0.5 // fingertip above its knuckle
	}
	return v
}

func segOf(vectors ...feature.Vector) segment.Segment {
	return segment.Segment{ID: "seg-1", SessionID: "s1", Vectors: vectors}
}

func TestRuleTableCountsFingers(t *testing.T) {
	c := NewRuleTable(config.ClassifierConfig{MinConfidence: 0.2})

	two := handPose(8, 12)
	cands, err := c.Classify(context.Background(), segOf(two, two, two))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	if cands[0].Label != "PLEASE" {
		t.Fatalf("two raised fingers must map to PLEASE, got %q", cands[0].Label)
	}
	if cands[0].Confidence != 1 {
		t.Fatalf("all frames agree, expected confidence 1, got %v", cands[0].Confidence)
	}
}

func TestRuleTableModalVote(t *testing.T) {
	c := NewRuleTable(config.ClassifierConfig{MinConfidence: 0.2})

	one := handPose(8)
	five := handPose(thumbTipIndex, 8, 12, 16, 20)
	cands, err := c.Classify(context.Background(), segOf(one, one, one, five))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(cands) != 1 || cands[0].Label != "HELLO" {
		t.Fatalf("modal count must win, got %+v", cands)
	}
	if cands[0].Confidence != 0.75 {
		t.Fatalf("expected 3/4 agreement, got %v", cands[0].Confidence)
	}
}

func TestRuleTableDeclinesOnFist(t *testing.T) {
	c := NewRuleTable(config.ClassifierConfig{MinConfidence: 0.2})

	fist := handPose()
	cands, err := c.Classify(context.Background(), segOf(fist, fist))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("a closed fist must yield no candidates, got %+v", cands)
	}
}

func TestTemplateMatcher(t *testing.T) {
	vocab := `signs:
  - label: HELLO
    vector: [1.0, 0.0, 0.0]
  - label: THANKS
    vector: [0.0, 1.0, 0.0]
`
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte(vocab), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}

	c, err := NewTemplateMatcher(config.ClassifierConfig{VocabPath: path, MinConfidence: 0.2})
	if err != nil {
		t.Fatalf("load vocab: %v", err)
	}

	seg := segOf(feature.Vector{0.9, 0.1, 0}, feature.Vector{1.1, -0.1, 0})
	cands, err := c.Classify(context.Background(), seg)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(cands) == 0 || cands[0].Label != "HELLO" {
		t.Fatalf("expected HELLO on top, got %+v", cands)
	}
	if len(cands) > 1 && cands[1].Confidence > cands[0].Confidence {
		t.Fatal("candidates must be ranked by confidence descending")
	}
}

func TestTemplateMatcherRejectsEmptyVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte("signs: []\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	if _, err := NewTemplateMatcher(config.ClassifierConfig{VocabPath: path}); err == nil {
		t.Fatal("expected error for empty vocabulary")
	}
}

func TestExecRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script backend")
	}
	script := "#!/bin/sh\ncat >/dev/null\necho '[{\"label\":\"YES\",\"confidence\":0.9}]'\n"
	path := filepath.Join(t.TempDir(), "classifier.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	c, err := NewExec(config.ClassifierConfig{Command: path})
	if err != nil {
		t.Fatalf("build exec classifier: %v", err)
	}
	cands, err := c.Classify(context.Background(), segOf(handPose(8)))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(cands) != 1 || cands[0].Label != "YES" {
		t.Fatalf("unexpected candidates: %+v", cands)
	}
}

func TestExecUnavailableOnTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script backend")
	}
	c, err := NewExec(config.ClassifierConfig{Command: "sleep 2"})
	if err != nil {
		t.Fatalf("build exec classifier: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Classify(ctx, segOf(handPose(8))); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(config.ClassifierConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	if _, err := New(config.ClassifierConfig{Mode: "rule"}); err != nil {
		t.Fatalf("rule mode: %v", err)
	}
	if _, err := New(config.ClassifierConfig{Mode: "bogus"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
