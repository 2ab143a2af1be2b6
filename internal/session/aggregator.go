package session

import (
	"time"

	"github.com/includelabs/sign-core/internal/config"
)

// State is the aggregator's phase. COMMITTED is momentary: a commit resets
// the phrase and the next observation is collecting again.
type State int

const (
	StateCollecting State = iota
	StateCommitted
)

// CommitReason explains why a phrase was flushed.
type CommitReason string

const (
	ReasonEndSignal CommitReason = "end_signal"
	ReasonSilence   CommitReason = "silence"
	ReasonMaxLength CommitReason = "max_length"
	ReasonTeardown  CommitReason = "teardown"
)

// Commit is a finalized phrase: the ordered labels accumulated since the
// previous commit.
type Commit struct {
	SessionID string
	Labels    []string
	Reason    CommitReason
	At        time.Duration
}

// Aggregator accumulates accepted sign tokens into a phrase and decides when
// to commit. One instance owns one session's phrase; not safe for concurrent
// use.
type Aggregator struct {
	cfg       config.AggregatorConfig
	sessionID string
	labels    []string
	lastToken time.Duration
	state     State
}

func NewAggregator(sessionID string, cfg config.AggregatorConfig) *Aggregator {
	return &Aggregator{cfg: cfg, sessionID: sessionID}
}

func (a *Aggregator) State() State { return a.state }

// Pending returns a copy of the uncommitted phrase.
func (a *Aggregator) Pending() []string {
	return append([]string(nil), a.labels...)
}

// Append feeds one accepted token label into the phrase. The end-of-utterance
// label commits without joining the phrase; an inter-token gap past the
// commit timeout flushes the stale phrase before the new label starts a fresh
// one; reaching the maximum length commits immediately.
func (a *Aggregator) Append(at time.Duration, label string) (Commit, bool) {
	if label == a.cfg.EndLabel && a.cfg.EndLabel != "" {
		return a.commit(at, ReasonEndSignal)
	}

	var flushed Commit
	var ok bool
	if len(a.labels) > 0 && at-a.lastToken > a.commitTimeout() {
		flushed, ok = a.commit(at, ReasonSilence)
	}

	a.state = StateCollecting
	a.labels = append(a.labels, label)
	a.lastToken = at

	if len(a.labels) >= a.cfg.MaxTokens {
		return a.commit(at, ReasonMaxLength)
	}
	return flushed, ok
}

// FlushIfSilent commits the pending phrase when the inter-token silence has
// exceeded the commit timeout. Driven by the service clock between frames.
func (a *Aggregator) FlushIfSilent(at time.Duration) (Commit, bool) {
	if len(a.labels) == 0 || at-a.lastToken <= a.commitTimeout() {
		return Commit{}, false
	}
	return a.commit(at, ReasonSilence)
}

// Flush commits whatever is pending, e.g. on session teardown. An empty
// phrase is never committed.
func (a *Aggregator) Flush(at time.Duration) (Commit, bool) {
	return a.commit(at, ReasonTeardown)
}

func (a *Aggregator) commit(at time.Duration, reason CommitReason) (Commit, bool) {
	if len(a.labels) == 0 {
		return Commit{}, false
	}
	c := Commit{
		SessionID: a.sessionID,
		Labels:    a.labels,
		Reason:    reason,
		At:        at,
	}
	a.labels = nil
	a.state = StateCommitted
	return c, true
}

func (a *Aggregator) commitTimeout() time.Duration {
	return time.Duration(a.cfg.CommitTimeoutMS) * time.Millisecond
}
