package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/includelabs/sign-core/internal/classify"
	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/debounce"
	"github.com/includelabs/sign-core/internal/dispatch"
	"github.com/includelabs/sign-core/internal/feature"
	"github.com/includelabs/sign-core/internal/landmark"
	"github.com/includelabs/sign-core/internal/segment"
	"github.com/includelabs/sign-core/internal/session"
)

// Lifecycle kinds reported through OnLifecycle.
const (
	LifecycleStarted     = "started"
	LifecycleTrackerIdle = "tracker_idle"
	LifecycleEnded       = "ended"
)

// Pipeline runs the per-session recognition chain: ingest validation,
// feature extraction, temporal segmentation, debouncing and phrase
// aggregation execute inline on the frame path; only the classifier call
// leaves it, one goroutine per sealed segment, with the result correlated
// back by segment identity. Each session owns an isolated state bundle, so
// sessions never contend beyond the map lock.
type Pipeline struct {
	cfg        config.Config
	classifier classify.Classifier
	dispatcher *dispatch.Dispatcher
	extractor  *feature.Extractor
	logger     *slog.Logger

	// OnToken observes every debounced decision, accepted or rejected.
	// OnLifecycle observes session starts, idle signals and teardowns.
	// Both may be nil and are called outside the state lock.
	OnToken     func(sessionID string, tok debounce.Token)
	OnLifecycle func(sessionID, kind string)

	mu       sync.Mutex
	sessions map[string]*sessionState
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	framesIn    metric.Int64Counter
	framesDrop  metric.Int64Counter
	segments    metric.Int64Counter
	clsFailures metric.Int64Counter
	tokensOK    metric.Int64Counter
	tokensNo    metric.Int64Counter
}

type sessionState struct {
	ingest     *landmark.Ingest
	segmenter  *segment.Segmenter
	debouncer  *debounce.Debouncer
	aggregator *session.Aggregator
	lastWall   time.Time
	lastStream time.Duration
}

func NewPipeline(parent context.Context, cfg config.Config, classifier classify.Classifier, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(parent)
	p := &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		dispatcher: dispatcher,
		extractor:  feature.NewExtractor(cfg.Tracker.LandmarkCount),
		logger:     log.With(slog.String("component", "recognizer")),
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/includelabs/sign-core/recognizer")
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&p.framesIn, "sign.frames.received", "Landmark frames received"},
		{&p.framesDrop, "sign.frames.dropped", "Frames dropped for ordering or quality"},
		{&p.segments, "sign.segments.sealed", "Gesture segments sealed"},
		{&p.clsFailures, "sign.classifier.failures", "Classifier calls that errored or timed out"},
		{&p.tokensOK, "sign.tokens.accepted", "Sign tokens accepted"},
		{&p.tokensNo, "sign.tokens.rejected", "Sign tokens rejected by debouncing"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			p.logger.Warn("failed to initialize metric", slog.String("metric", c.name), slogError(err))
			continue
		}
		*c.target = counter
	}
}

func (p *Pipeline) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.EndSession(id)
	}
	// Cancel under the lock so classifySegment either registered with the
	// wait group before this point or observes the dead context and bails.
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// HandleFrame feeds one tracker frame through the inline stages. All
// per-frame work is O(1) amortized; nothing on this path blocks on I/O.
func (p *Pipeline) HandleFrame(f landmark.Frame) {
	var started bool
	var sealed segment.Segment
	var sealedOK bool

	p.mu.Lock()
	st := p.sessions[f.SessionID]
	if st == nil {
		st = p.newSessionState(f.SessionID)
		p.sessions[f.SessionID] = st
		started = true
	}
	st.lastWall = time.Now()

	add(p.framesIn, 1)
	if err := st.ingest.Accept(f); err != nil {
		add(p.framesDrop, 1)
		switch {
		case errors.Is(err, landmark.ErrFrameOutOfOrder):
			p.logger.Warn("discarding out-of-order frame",
				slog.String("session_id", f.SessionID), slogError(err))
		case errors.Is(err, landmark.ErrLowQualityFrame):
			p.logger.Debug("discarding low-quality frame",
				slog.String("session_id", f.SessionID), slogError(err))
		}
		p.mu.Unlock()
		p.fireLifecycle(started, f.SessionID)
		return
	}

	vec, err := p.extractor.Extract(f)
	if err != nil {
		add(p.framesDrop, 1)
		p.logger.Warn("discarding malformed frame",
			slog.String("session_id", f.SessionID), slogError(err))
		p.mu.Unlock()
		p.fireLifecycle(started, f.SessionID)
		return
	}

	st.lastStream = f.Timestamp
	sealed, sealedOK = st.segmenter.Observe(f.Timestamp, vec)
	p.mu.Unlock()

	p.fireLifecycle(started, f.SessionID)
	if sealedOK {
		p.classifySegment(sealed)
	}
}

// Tick drives the wall-clock timers between frames: hold expiry when the
// tracker stream pauses mid-hold, phrase commit on inter-token silence, and
// session teardown after tracker idle.
func (p *Pipeline) Tick(now time.Time) {
	var sealedSegments []segment.Segment
	var commits []session.Commit
	var idle []string

	p.mu.Lock()
	for id, st := range p.sessions {
		elapsed := now.Sub(st.lastWall)
		if elapsed > p.idleTimeout() {
			idle = append(idle, id)
			continue
		}
		streamNow := st.lastStream + elapsed

		if st.segmenter.Expired(streamNow) {
			if seg, ok := st.segmenter.Flush(); ok {
				sealedSegments = append(sealedSegments, seg)
			}
		}
		if commit, ok := st.aggregator.FlushIfSilent(streamNow); ok {
			commits = append(commits, commit)
		}
	}
	p.mu.Unlock()

	for _, seg := range sealedSegments {
		p.classifySegment(seg)
	}
	for _, commit := range commits {
		p.dispatcher.Dispatch(commit)
	}
	for _, id := range idle {
		p.logger.Info("tracker idle, ending session", slog.String("session_id", id))
		if p.OnLifecycle != nil {
			p.OnLifecycle(id, LifecycleTrackerIdle)
		}
		p.EndSession(id)
	}
}

// EndSession tears the session down immediately. The pending phrase is
// committed; a half-open gesture segment is discarded, and any in-flight
// classifier result for this session will find no state and be dropped.
func (p *Pipeline) EndSession(sessionID string) {
	p.mu.Lock()
	st := p.sessions[sessionID]
	if st == nil {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, sessionID)
	commit, ok := st.aggregator.Flush(st.lastStream)
	p.mu.Unlock()

	if ok {
		p.dispatcher.Dispatch(commit)
	}
	if p.OnLifecycle != nil {
		p.OnLifecycle(sessionID, LifecycleEnded)
	}
}

func (p *Pipeline) newSessionState(sessionID string) *sessionState {
	return &sessionState{
		ingest:     landmark.NewIngest(p.cfg.Tracker),
		segmenter:  segment.NewSegmenter(sessionID, p.cfg.Segmenter),
		debouncer:  debounce.NewDebouncer(p.cfg.Debounce),
		aggregator: session.NewAggregator(sessionID, p.cfg.Aggregator),
	}
}

// classifySegment runs the sole suspend point of the pipeline on its own
// goroutine so frame intake never waits on the classifier.
func (p *Pipeline) classifySegment(seg segment.Segment) {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	add(p.segments, 1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.ctx, time.Duration(p.cfg.Classifier.TimeoutMS)*time.Millisecond)
		defer cancel()

		candidates, err := p.classifier.Classify(ctx, seg)
		if err != nil {
			// Segment dropped, ingest continues; the user sees a missed
			// gesture, not a crash.
			add(p.clsFailures, 1)
			p.logger.Warn("classifier unavailable, dropping segment",
				slog.String("session_id", seg.SessionID),
				slog.String("segment_id", seg.ID),
				slogError(err))
			return
		}
		p.resolveToken(seg, candidates)
	}()
}

func (p *Pipeline) resolveToken(seg segment.Segment, candidates []classify.Candidate) {
	p.mu.Lock()
	st := p.sessions[seg.SessionID]
	if st == nil {
		// Session ended while the classifier was running.
		p.mu.Unlock()
		return
	}
	tok := st.debouncer.Resolve(seg.End, seg.ID, candidates)
	var commit session.Commit
	var committed bool
	if !tok.Rejected {
		commit, committed = st.aggregator.Append(seg.End, tok.Label)
	}
	p.mu.Unlock()

	if tok.Rejected {
		add(p.tokensNo, 1)
	} else {
		add(p.tokensOK, 1)
	}
	if p.OnToken != nil {
		p.OnToken(seg.SessionID, tok)
	}
	if committed {
		p.dispatcher.Dispatch(commit)
	}
}

func (p *Pipeline) idleTimeout() time.Duration {
	return time.Duration(p.cfg.Tracker.IdleTimeoutMS) * time.Millisecond
}

func (p *Pipeline) fireLifecycle(started bool, sessionID string) {
	if started && p.OnLifecycle != nil {
		p.OnLifecycle(sessionID, LifecycleStarted)
	}
}

func add(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
