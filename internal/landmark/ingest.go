package landmark

import (
	"errors"
	"fmt"
	"time"

	"github.com/includelabs/sign-core/internal/config"
)

// ErrFrameOutOfOrder reports a frame whose timestamp does not strictly
// advance the session's clock. The frame is discarded; ingest continues.
var ErrFrameOutOfOrder = errors.New("frame out of order")

// ErrLowQualityFrame reports a frame below the configured tracking-quality
// floor. Low-quality frames are dropped rather than propagated so downstream
// segmentation never opens a gesture on tracker noise.
var ErrLowQualityFrame = errors.New("frame below quality floor")

// Ingest validates arrival order and tracking quality for one session's
// frame stream. It carries the only per-frame state on the intake path: the
// previously accepted timestamp.
type Ingest struct {
	cfg  config.TrackerConfig
	last time.Duration
	seen bool
}

func NewIngest(cfg config.TrackerConfig) *Ingest {
	return &Ingest{cfg: cfg}
}

// Accept admits a frame into the pipeline. A nil error means the frame is
// ordered and of usable quality. Rejections are reported through the sentinel
// errors above; no frame is ever retried. Ordering is checked against the
// last timestamp observed, not the last one accepted: a quality-dropped
// frame still advances the session clock, so a stale retransmit cannot slip
// in behind it.
func (i *Ingest) Accept(f Frame) error {
	if i.seen && f.Timestamp <= i.last {
		return fmt.Errorf("%w: %v after %v", ErrFrameOutOfOrder, f.Timestamp, i.last)
	}
	i.last = f.Timestamp
	i.seen = true
	if f.Quality < i.cfg.QualityFloor {
		return fmt.Errorf("%w: quality %.2f below %.2f", ErrLowQualityFrame, f.Quality, i.cfg.QualityFloor)
	}
	return nil
}

// Last returns the most recent timestamp observed, whether that frame was
// accepted or dropped for quality.
func (i *Ingest) Last() (time.Duration, bool) {
	return i.last, i.seen
}
