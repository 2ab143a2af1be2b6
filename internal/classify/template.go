package classify

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/feature"
	"github.com/includelabs/sign-core/internal/segment"
)

// Template is one labeled reference vector in the vocabulary file.
type Template struct {
	Label  string    `yaml:"label"`
	Vector []float64 `yaml:"vector"`
}

type vocabFile struct {
	Signs []Template `yaml:"signs"`
}

type templateMatcher struct {
	cfg       config.ClassifierConfig
	templates []Template
}

// NewTemplateMatcher loads a labeled vocabulary of mean feature vectors and
// matches segments against it by cosine similarity.
func NewTemplateMatcher(cfg config.ClassifierConfig) (Classifier, error) {
	data, err := os.ReadFile(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}
	var vocab vocabFile
	if err := yaml.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocab file: %w", err)
	}
	if len(vocab.Signs) == 0 {
		return nil, fmt.Errorf("vocab file %s contains no signs", cfg.VocabPath)
	}
	for _, tpl := range vocab.Signs {
		if tpl.Label == "" || len(tpl.Vector) == 0 {
			return nil, fmt.Errorf("vocab file %s contains an unlabeled or empty template", cfg.VocabPath)
		}
	}
	return &templateMatcher{cfg: cfg, templates: vocab.Signs}, nil
}

func (t *templateMatcher) Classify(_ context.Context, seg segment.Segment) ([]Candidate, error) {
	mean := feature.Mean(seg.Vectors)
	if len(mean) == 0 {
		return nil, nil
	}

	var candidates []Candidate
	for _, tpl := range t.templates {
		if len(tpl.Vector) != len(mean) {
			continue
		}
		score := cosineSimilarity(mean, tpl.Vector)
		if score < t.cfg.MinConfidence {
			continue
		}
		candidates = append(candidates, Candidate{Label: tpl.Label, Confidence: score})
	}
	return rank(candidates), nil
}

// cosineSimilarity clamps to [0,1]: opposed poses score zero rather than
// negative so the result can serve directly as a confidence.
func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if score < 0 {
		return 0
	}
	return score
}
