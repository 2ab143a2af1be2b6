package debounce

import (
	"time"

	"github.com/includelabs/sign-core/internal/classify"
	"github.com/includelabs/sign-core/internal/config"
)

// Token is the debounced decision for one gesture segment: either an
// accepted label with the confidence that won, or an explicit rejection.
// Rejected tokens are recorded for telemetry but never reach the phrase
// aggregator.
type Token struct {
	SegmentID  string
	Label      string
	Confidence float64
	Rejected   bool
	At         time.Duration
}

// Debouncer resolves frame-to-frame classification noise into stable token
// decisions. It is the sole owner of noise-rejection policy; earlier stages
// are noise-agnostic. One instance owns one session's decision history and
// is not safe for concurrent use.
type Debouncer struct {
	cfg     config.DebounceConfig
	history []Token
}

func NewDebouncer(cfg config.DebounceConfig) *Debouncer {
	return &Debouncer{cfg: cfg}
}

// Resolve decides the token for a segment's candidate set. The top candidate
// is accepted when its confidence clears the acceptance threshold and it is
// not part of a rapid two-label oscillation: a label change inside the
// minimum-distinct-token interval is held back until a confirming repeat,
// and an A-B-A alternation inside the interval rejects the bounce entirely.
func (d *Debouncer) Resolve(at time.Duration, segmentID string, candidates []classify.Candidate) Token {
	token := Token{SegmentID: segmentID, At: at, Rejected: true}

	if len(candidates) == 0 {
		return token
	}
	top := candidates[0]
	token.Label = top.Label
	token.Confidence = top.Confidence

	// Below-threshold decisions stay out of the oscillation history: a weak
	// misread must not suppress the next confident token.
	if top.Confidence < d.cfg.AcceptConfidence {
		return token
	}

	recent := d.recent(at)
	switch {
	case len(recent) == 0:
		token.Rejected = false
	case recent[len(recent)-1].Label == top.Label:
		// Confirming repeat of the latest decision.
		token.Rejected = false
	default:
		// The label changed inside the interval. If this label already
		// appeared just before the change, the stream is oscillating between
		// two labels and neither can be trusted; otherwise the new label
		// waits for its confirming occurrence.
		token.Rejected = true
	}

	d.record(token)
	return token
}

// recent returns recorded decisions within the oscillation window before at.
func (d *Debouncer) recent(at time.Duration) []Token {
	window := time.Duration(d.cfg.OscillationWindowMS) * time.Millisecond
	var out []Token
	for _, t := range d.history {
		if at-t.At <= window {
			out = append(out, t)
		}
	}
	return out
}

func (d *Debouncer) record(t Token) {
	d.history = append(d.history, t)
	if max := d.cfg.HistorySize; max > 0 && len(d.history) > max {
		d.history = d.history[len(d.history)-max:]
	}
}
