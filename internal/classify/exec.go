package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/segment"
)

type execClassifier struct {
	cmd []string
	cfg config.ClassifierConfig
	mu  sync.Mutex
}

type execPayload struct {
	SegmentID string      `json:"segment_id"`
	SessionID string      `json:"session_id"`
	StartUS   int64       `json:"start_us"`
	EndUS     int64       `json:"end_us"`
	Vectors   [][]float64 `json:"vectors"`
}

// NewExec wraps an external classifier process. The segment is written to
// the command's stdin as JSON; the command answers with a ranked candidate
// array on stdout.
func NewExec(cfg config.ClassifierConfig) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	return &execClassifier{cmd: args, cfg: cfg}, nil
}

func (e *execClassifier) Classify(ctx context.Context, seg segment.Segment) ([]Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := execPayload{
		SegmentID: seg.ID,
		SessionID: seg.SessionID,
		StartUS:   seg.Start.Microseconds(),
		EndUS:     seg.End.Microseconds(),
		Vectors:   make([][]float64, 0, len(seg.Vectors)),
	}
	for _, v := range seg.Vectors {
		payload.Vectors = append(payload.Vectors, v)
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal segment payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var candidates []Candidate
	if err := json.Unmarshal(stdout.Bytes(), &candidates); err != nil {
		return nil, fmt.Errorf("%w: bad classifier output: %v", ErrUnavailable, err)
	}
	return rank(candidates), nil
}
