package segment

import (
	"time"

	"github.com/google/uuid"
	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/feature"
)

// State is the segmenter's position in the gesture boundary machine.
type State int

const (
	StateIdle State = iota // no candidate gesture
	StateOpen              // accumulating a candidate segment
	StateHold              // motion dropped, awaiting end confirmation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHold:
		return "hold"
	}
	return "unknown"
}

// Segment is one sealed candidate gesture: an ordered, non-empty window of
// feature vectors with its span on the session clock. Never re-opened after
// sealing.
type Segment struct {
	ID        string
	SessionID string
	Start     time.Duration
	End       time.Duration
	Vectors   []feature.Vector
}

// Segmenter detects gesture boundaries in a continuous feature stream using
// motion energy, the mean squared distance between consecutive vectors.
// One instance owns one session's stream; it is not safe for concurrent use.
type Segmenter struct {
	cfg       config.SegmenterConfig
	sessionID string

	state     State
	prev      feature.Vector
	buf       []feature.Vector
	tail      []feature.Vector
	start     time.Duration
	end       time.Duration
	holdSince time.Duration
	lastAt    time.Duration
}

func NewSegmenter(sessionID string, cfg config.SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg, sessionID: sessionID}
}

func (s *Segmenter) State() State { return s.state }

// Observe feeds one feature vector into the machine. When the observation
// confirms a gesture end, the sealed segment is returned with ok=true.
// Segments shorter than the configured minimum are discarded as twitches and
// never surface.
func (s *Segmenter) Observe(at time.Duration, v feature.Vector) (Segment, bool) {
	energy := feature.Distance(s.prev, v)
	s.prev = v
	s.lastAt = at

	switch s.state {
	case StateIdle:
		if energy >= s.cfg.OnsetEnergy {
			s.open(at, v)
		}

	case StateOpen:
		s.buf = append(s.buf, v)
		if energy < s.cfg.OffsetEnergy {
			s.state = StateHold
			s.end = at
			s.holdSince = at
		}
		if len(s.buf) >= s.cfg.MaxFrames {
			// An unreleasing pose must not stall the pipeline; seal by force.
			return s.seal(at)
		}

	case StateHold:
		if at-s.holdSince >= s.holdTimeout() {
			seg, ok := s.seal(s.end)
			// The frame that confirmed the end may itself be the onset of
			// the next gesture.
			if energy >= s.cfg.OnsetEnergy {
				s.open(at, v)
			}
			return seg, ok
		}
		if energy >= s.cfg.OnsetEnergy {
			// Motion resumed before the hold elapsed: continuation, not a
			// new gesture.
			s.buf = append(s.buf, s.tail...)
			s.buf = append(s.buf, v)
			s.tail = nil
			s.state = StateOpen
			return Segment{}, false
		}
		s.tail = append(s.tail, v)
		if len(s.buf)+len(s.tail) >= s.cfg.MaxFrames {
			return s.seal(s.end)
		}
	}
	return Segment{}, false
}

// Flush force-seals whatever is accumulated. Used when the session goes
// quiet past the hold timeout with no further frames arriving, and on
// teardown.
func (s *Segmenter) Flush() (Segment, bool) {
	if s.state == StateIdle {
		return Segment{}, false
	}
	end := s.lastAt
	if s.state == StateHold {
		end = s.end
	}
	return s.seal(end)
}

// Expired reports whether the machine sits in HOLD with the timeout already
// elapsed at the given instant. Drives timer-based sealing between frames.
func (s *Segmenter) Expired(at time.Duration) bool {
	return s.state == StateHold && at-s.holdSince >= s.holdTimeout()
}

func (s *Segmenter) open(at time.Duration, v feature.Vector) {
	s.state = StateOpen
	s.start = at
	s.buf = []feature.Vector{v}
	s.tail = nil
}

func (s *Segmenter) seal(end time.Duration) (Segment, bool) {
	buf := s.buf
	start := s.start
	s.reset()
	if len(buf) < s.cfg.MinFrames {
		return Segment{}, false
	}
	return Segment{
		ID:        uuid.NewString(),
		SessionID: s.sessionID,
		Start:     start,
		End:       end,
		Vectors:   buf,
	}, true
}

func (s *Segmenter) reset() {
	s.state = StateIdle
	s.buf = nil
	s.tail = nil
	s.start = 0
	s.end = 0
	s.holdSince = 0
}

func (s *Segmenter) holdTimeout() time.Duration {
	return time.Duration(s.cfg.HoldTimeoutMS) * time.Millisecond
}
