package protocol

import "time"

// Keypoint is one tracked landmark position in normalized image coordinates.
type Keypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// LandmarkFrame is one sampled instant of tracked keypoints streamed from an
// edge tracker. Timestamps are microseconds on the tracker's monotonic clock
// and must be strictly increasing per session.
type LandmarkFrame struct {
	SessionID   string     `json:"session_id"`
	Sequence    int        `json:"sequence"`
	TimestampUS int64      `json:"timestamp_us"`
	Keypoints   []Keypoint `json:"keypoints"`
	Quality     float64    `json:"quality"`
}

// TokenEvent is the debounced decision for one gesture segment.
type TokenEvent struct {
	SessionID  string    `json:"session_id"`
	SegmentID  string    `json:"segment_id"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Rejected   bool      `json:"rejected"`
	Timestamp  time.Time `json:"timestamp"`
}

// PhraseCommit is a finalized phrase broadcast to output sinks.
type PhraseCommit struct {
	SessionID   string    `json:"session_id"`
	Labels      []string  `json:"labels"`
	Reason      string    `json:"reason"`
	CommittedAt time.Time `json:"committed_at"`
}

// SpeechRequest asks an external synthesis engine to voice a phrase.
type SpeechRequest struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Voice     string    `json:"voice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent marks a session lifecycle change.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // started, tracker_idle, ended
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTrackerFramePrefix = "tracker.frame"
	SubjectTokenAccepted      = "sign.token.accepted"
	SubjectTokenRejected      = "sign.token.rejected"
	SubjectPhraseCommitted    = "sign.phrase.committed"
	SubjectSessionLifecycle   = "sign.session.lifecycle"
	SubjectOutputText         = "output.text"
	SubjectSpeechRequest      = "output.speech.request"
	SubjectOutputVisual       = "output.visual"
)
