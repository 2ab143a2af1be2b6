package landmark

import "time"

// Keypoint is one tracked joint position. Coordinates are normalized image
// space as produced by the tracker; Z is depth relative to the reference
// landmark and may be zero for 2D trackers.
type Keypoint struct {
	X float64
	Y float64
	Z float64
}

// Frame is one sampled instant of tracked keypoints. Timestamp is an offset
// on the tracker's monotonic clock. Frames are immutable once produced.
type Frame struct {
	SessionID string
	Sequence  int
	Timestamp time.Duration
	Keypoints []Keypoint
	Quality   float64
}
