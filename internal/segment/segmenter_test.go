package segment

import (
	"testing"
	"time"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/feature"
)

func testCfg() config.SegmenterConfig {
	return config.SegmenterConfig{
		OnsetEnergy:   0.020,
		OffsetEnergy:  0.008,
		HoldTimeoutMS: 300,
		MinFrames:     3,
		MaxFrames:     150,
	}
}

// vec builds a one-component vector; motion energy between consecutive
// observations is the squared position delta.
func vec(pos float64) feature.Vector { return feature.Vector{pos} }

func at(i int) time.Duration { return time.Duration(i) * 100 * time.Millisecond }

func TestSealAfterHoldTimeout(t *testing.T) {
	s := NewSegmenter("s1", testCfg())

	if _, ok := s.Observe(at(0), vec(0)); ok {
		t.Fatal("baseline frame must not seal anything")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after baseline, got %v", s.State())
	}

	// Motion from frame 1 through 5: each step moves 0.2, energy 0.04.
	pos := 0.0
	for i := 1; i <= 5; i++ {
		pos += 0.2
		if _, ok := s.Observe(at(i), vec(pos)); ok {
			t.Fatalf("unexpected seal at frame %d", i)
		}
	}
	if s.State() != StateOpen {
		t.Fatalf("expected open during motion, got %v", s.State())
	}

	// Frame 6 holds still: energy 0, below offset.
	if _, ok := s.Observe(at(6), vec(pos)); ok {
		t.Fatal("unexpected seal on hold entry")
	}
	if s.State() != StateHold {
		t.Fatalf("expected hold, got %v", s.State())
	}

	// Stillness continues; the hold timeout (300ms) elapses at frame 9.
	var sealed Segment
	var ok bool
	for i := 7; i <= 9; i++ {
		sealed, ok = s.Observe(at(i), vec(pos))
		if ok {
			break
		}
	}
	if !ok {
		t.Fatal("expected a sealed segment after hold timeout")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after sealing, got %v", s.State())
	}
	if sealed.Start != at(1) || sealed.End != at(6) {
		t.Fatalf("unexpected span [%v,%v]", sealed.Start, sealed.End)
	}
	if len(sealed.Vectors) != 6 {
		t.Fatalf("expected 6 frames in segment, got %d", len(sealed.Vectors))
	}
	if sealed.ID == "" || sealed.SessionID != "s1" {
		t.Fatalf("segment identity not populated: %+v", sealed)
	}
}

func TestShortSegmentDiscarded(t *testing.T) {
	s := NewSegmenter("s1", testCfg())

	s.Observe(at(0), vec(0))
	s.Observe(at(1), vec(0.2)) // onset, one frame
	s.Observe(at(2), vec(0.2)) // hold with two frames buffered

	for i := 3; i <= 7; i++ {
		if seg, ok := s.Observe(at(i), vec(0.2)); ok {
			t.Fatalf("twitch below min frames must be discarded, got %+v", seg)
		}
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after discard, got %v", s.State())
	}
}

func TestHoldResumeIsContinuation(t *testing.T) {
	s := NewSegmenter("s1", testCfg())

	s.Observe(at(0), vec(0))
	pos := 0.0
	for i := 1; i <= 3; i++ {
		pos += 0.2
		s.Observe(at(i), vec(pos))
	}
	s.Observe(at(4), vec(pos)) // hold
	if s.State() != StateHold {
		t.Fatalf("expected hold, got %v", s.State())
	}

	s.Observe(at(5), vec(pos)) // still within hold timeout
	pos += 0.2
	if _, ok := s.Observe(at(6), vec(pos)); ok {
		t.Fatal("resume must not seal")
	}
	if s.State() != StateOpen {
		t.Fatalf("resumed motion must reopen the segment, got %v", s.State())
	}

	// Settle again and let the hold elapse.
	s.Observe(at(7), vec(pos))
	var sealed Segment
	var ok bool
	for i := 8; i <= 12 && !ok; i++ {
		sealed, ok = s.Observe(at(i), vec(pos))
	}
	if !ok {
		t.Fatal("expected seal after second hold")
	}
	// Frames 1-7 all belong to the one continued segment.
	if len(sealed.Vectors) != 7 {
		t.Fatalf("expected 7 frames including hold tail, got %d", len(sealed.Vectors))
	}
	if sealed.Start != at(1) || sealed.End != at(7) {
		t.Fatalf("unexpected span [%v,%v]", sealed.Start, sealed.End)
	}
}

func TestMaxFramesForcesSeal(t *testing.T) {
	cfg := testCfg()
	cfg.MaxFrames = 5
	s := NewSegmenter("s1", cfg)

	s.Observe(at(0), vec(0))
	pos := 0.0
	var sealed Segment
	var ok bool
	for i := 1; i <= 10 && !ok; i++ {
		pos += 0.2
		sealed, ok = s.Observe(at(i), vec(pos))
	}
	if !ok {
		t.Fatal("expected forced seal at max frames")
	}
	if len(sealed.Vectors) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(sealed.Vectors))
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after forced seal, got %v", s.State())
	}
}

func TestFlushSealsOpenSegment(t *testing.T) {
	s := NewSegmenter("s1", testCfg())

	s.Observe(at(0), vec(0))
	pos := 0.0
	for i := 1; i <= 4; i++ {
		pos += 0.2
		s.Observe(at(i), vec(pos))
	}

	sealed, ok := s.Flush()
	if !ok {
		t.Fatal("expected flush to seal the open segment")
	}
	if len(sealed.Vectors) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(sealed.Vectors))
	}
	if sealed.End != at(4) {
		t.Fatalf("flush must end at the last observed frame, got %v", sealed.End)
	}
	if _, ok := s.Flush(); ok {
		t.Fatal("flushing an idle segmenter must be a no-op")
	}
}
