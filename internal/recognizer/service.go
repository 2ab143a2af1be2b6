package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/includelabs/sign-core/internal/bus"
	"github.com/includelabs/sign-core/internal/classify"
	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/debounce"
	"github.com/includelabs/sign-core/internal/dispatch"
	"github.com/includelabs/sign-core/internal/landmark"
	"github.com/includelabs/sign-core/internal/protocol"
	"github.com/includelabs/sign-core/internal/sessionlog"
)

const tickInterval = 250 * time.Millisecond

// Service binds the recognition pipeline to the bus: it subscribes to
// tracker frames, feeds them through the pipeline, and publishes token and
// lifecycle events for downstream consumers.
type Service struct {
	cfg      config.Config
	bus      *bus.Client
	store    *sessionlog.Store
	pipeline *Pipeline
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	sub     *nats.Subscription
	started bool
	done    chan struct{}
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *sessionlog.Store, classifier classify.Classifier, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		logger: log.With(slog.String("service", "recognizer")),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.pipeline = NewPipeline(ctx, cfg, classifier, dispatcher, log)
	s.pipeline.OnToken = s.publishToken
	s.pipeline.OnLifecycle = s.publishLifecycle
	return s
}

func (s *Service) Start() error {
	subject := protocol.SubjectTrackerFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	s.started = true
	go s.runTimers()

	s.logger.Info("recognizer service started",
		slog.String("subject", subject),
		slog.String("classifier_mode", s.cfg.Classifier.Mode))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.started {
		<-s.done
	}
	s.pipeline.Close()
}

func (s *Service) Healthy() bool {
	return s.bus.Healthy()
}

// ActiveSessions reports how many tracker sessions currently hold state.
func (s *Service) ActiveSessions() int {
	return s.pipeline.ActiveSessions()
}

func (s *Service) runTimers() {
	defer close(s.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.pipeline.Tick(now)
		}
	}
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var wire protocol.LandmarkFrame
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.logger.Warn("invalid landmark frame payload",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
		return
	}
	if wire.SessionID == "" {
		s.logger.Warn("landmark frame missing session id", slog.String("subject", msg.Subject))
		return
	}
	s.pipeline.HandleFrame(frameFromWire(wire))
}

func frameFromWire(wire protocol.LandmarkFrame) landmark.Frame {
	keypoints := make([]landmark.Keypoint, len(wire.Keypoints))
	for i, kp := range wire.Keypoints {
		keypoints[i] = landmark.Keypoint{X: kp.X, Y: kp.Y, Z: kp.Z}
	}
	return landmark.Frame{
		SessionID: wire.SessionID,
		Sequence:  wire.Sequence,
		Timestamp: time.Duration(wire.TimestampUS) * time.Microsecond,
		Keypoints: keypoints,
		Quality:   wire.Quality,
	}
}

func (s *Service) publishToken(sessionID string, tok debounce.Token) {
	evt := protocol.TokenEvent{
		SessionID:  sessionID,
		SegmentID:  tok.SegmentID,
		Label:      tok.Label,
		Confidence: tok.Confidence,
		Rejected:   tok.Rejected,
		Timestamp:  time.Now().UTC(),
	}
	subject := protocol.SubjectTokenAccepted
	eventType := sessionlog.EventTokenAccepted
	if tok.Rejected {
		subject = protocol.SubjectTokenRejected
		eventType = sessionlog.EventTokenRejected
	}
	s.publishJSON(subject, evt)

	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	logEvt := sessionlog.Event{
		SessionID: sessionID,
		SegmentID: tok.SegmentID,
		Type:      eventType,
		Payload:   payload,
	}
	if err := s.store.AppendEvent(s.ctx, logEvt); err != nil {
		s.logger.Warn("failed to record token event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) publishLifecycle(sessionID, kind string) {
	evt := protocol.SessionEvent{
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
	s.publishJSON(protocol.SubjectSessionLifecycle, evt)

	switch kind {
	case LifecycleStarted:
		if err := s.store.AppendSession(s.ctx, sessionID); err != nil {
			s.logger.Warn("failed to record session start",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
		s.appendLifecycleEvent(sessionID, sessionlog.EventSessionStarted)
	case LifecycleTrackerIdle:
		s.appendLifecycleEvent(sessionID, sessionlog.EventTrackerIdle)
	case LifecycleEnded:
		s.appendLifecycleEvent(sessionID, sessionlog.EventSessionEnded)
	}
}

func (s *Service) appendLifecycleEvent(sessionID, eventType string) {
	evt := sessionlog.Event{SessionID: sessionID, Type: eventType}
	if err := s.store.AppendEvent(s.ctx, evt); err != nil {
		s.logger.Warn("failed to record lifecycle event",
			slog.String("session_id", sessionID),
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}

func (s *Service) publishJSON(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
