// signfeed is a synthetic tracker node for exercising a running signd: it
// publishes landmark frames that segment into gestures the rule classifier
// resolves to the requested finger counts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/includelabs/sign-core/internal/protocol"
)

func main() {
	var (
		servers string
		session string
		counts  string
		fps     int
		gapMS   int
		repeat  int
		quality float64
	)

	flag.StringVar(&servers, "servers", "nats://localhost:4222", "Comma-separated NATS servers")
	flag.StringVar(&session, "session", "", "Session ID (random when empty)")
	flag.StringVar(&counts, "counts", "1,6", "Comma-separated raised-finger counts, one gesture each")
	flag.IntVar(&fps, "fps", 30, "Frames per second")
	flag.IntVar(&gapMS, "gap", 2000, "Silence between gestures in milliseconds")
	flag.IntVar(&repeat, "repeat", 1, "How many times to replay the gesture sequence")
	flag.Float64Var(&quality, "quality", 0.9, "Reported tracking quality")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if session == "" {
		session = "feed-" + uuid.NewString()[:8]
	}
	gestures, err := parseCounts(counts)
	if err != nil {
		logger.Error("invalid counts", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := nats.Connect(servers, nats.Name("signfeed"))
	if err != nil {
		logger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Drain()

	subject := fmt.Sprintf("%s.%s", protocol.SubjectTrackerFramePrefix, session)
	logger.Info("streaming synthetic gestures",
		slog.String("subject", subject),
		slog.String("session_id", session),
		slog.Any("counts", gestures))

	feed := &feeder{
		conn:     conn,
		subject:  subject,
		session:  session,
		interval: time.Second / time.Duration(fps),
		quality:  quality,
		start:    time.Now(),
	}

	for r := 0; r < repeat; r++ {
		for _, count := range gestures {
			feed.gesture(count)
			time.Sleep(time.Duration(gapMS) * time.Millisecond)
		}
	}
	logger.Info("feed complete", slog.Int("frames", feed.seq))
}

func parseCounts(raw string) ([]int, error) {
	var counts []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 10 {
			return nil, fmt.Errorf("count %q must be an integer in [1,10]", part)
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("no counts given")
	}
	return counts, nil
}

type feeder struct {
	conn     *nats.Conn
	subject  string
	session  string
	interval time.Duration
	quality  float64
	start    time.Time
	seq      int
}

// gesture streams one sign: a dozen frames with the fingertips in motion,
// then a dozen still frames so the segmenter confirms the gesture end.
func (f *feeder) gesture(count int) {
	for i := 0; i < 12; i++ {
		wiggle := 0.06
		if i%2 == 1 {
			wiggle = -0.06
		}
		f.publish(handFrame(count, wiggle))
		time.Sleep(f.interval)
	}
	still := handFrame(count, 0)
	for i := 0; i < 12; i++ {
		f.publish(still)
		time.Sleep(f.interval)
	}
}

func (f *feeder) publish(keypoints []protocol.Keypoint) {
	frame := protocol.LandmarkFrame{
		SessionID:   f.session,
		Sequence:    f.seq,
		TimestampUS: time.Since(f.start).Microseconds(),
		Keypoints:   keypoints,
		Quality:     f.quality,
	}
	f.seq++
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = f.conn.Publish(f.subject, data)
}

// handFrame lays out a 21-landmark hand in normalized image coordinates with
// the given number of raised fingers. More than five raised fingers wraps to
// a mirrored second hand on trackers that merge both hands; the synthetic
// feed approximates that by capping at five. The wiggle offsets the non-thumb
// fingertips laterally, which never flips a finger between raised and folded
// but produces motion energy between frames.
func handFrame(count int, wiggle float64) []protocol.Keypoint {
	if count > 5 {
		count = 5
	}
	kp := make([]protocol.Keypoint, 21)

	// Wrist and palm. The middle-finger MCP doubles as the scale reference.
	kp[0] = protocol.Keypoint{X: 0.5, Y: 0.8}
	kp[9] = protocol.Keypoint{X: 0.5, Y: 0.6}

	// Thumb chain 1-4. Raised means the tip clears the IP joint laterally.
	thumbRaised := count >= 5
	kp[1] = protocol.Keypoint{X: 0.46, Y: 0.76}
	kp[2] = protocol.Keypoint{X: 0.44, Y: 0.73}
	kp[3] = protocol.Keypoint{X: 0.42, Y: 0.70}
	if thumbRaised {
		kp[4] = protocol.Keypoint{X: 0.30, Y: 0.68}
	} else {
		kp[4] = protocol.Keypoint{X: 0.44, Y: 0.70}
	}

	// Four fingers: MCP, PIP, DIP, TIP per chain. A raised tip sits above its
	// MCP in image space, a folded one below.
	fingers := []struct {
		base   int
		x      float64
		raised bool
	}{
		{5, 0.44, count >= 1},
		{9, 0.50, count >= 2},
		{13, 0.56, count >= 3},
		{17, 0.62, count >= 4},
	}
	for _, fg := range fingers {
		kp[fg.base] = protocol.Keypoint{X: fg.x, Y: 0.6}
		if fg.raised {
			kp[fg.base+1] = protocol.Keypoint{X: fg.x, Y: 0.52}
			kp[fg.base+2] = protocol.Keypoint{X: fg.x, Y: 0.46}
			kp[fg.base+3] = protocol.Keypoint{X: fg.x + wiggle, Y: 0.40}
		} else {
			kp[fg.base+1] = protocol.Keypoint{X: fg.x, Y: 0.64}
			kp[fg.base+2] = protocol.Keypoint{X: fg.x, Y: 0.68}
			kp[fg.base+3] = protocol.Keypoint{X: fg.x + wiggle, Y: 0.70}
		}
	}
	return kp
}
