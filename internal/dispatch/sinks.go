package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/includelabs/sign-core/internal/bus"
	"github.com/includelabs/sign-core/internal/protocol"
	"github.com/includelabs/sign-core/internal/session"
	"github.com/includelabs/sign-core/internal/sessionlog"
)

// busSink publishes committed phrases onto a NATS subject. Every output
// modality is a bus subject consumed by external renderer nodes.
type busSink struct {
	name    string
	subject string
	client  *bus.Client
	encode  func(session.Commit) (any, error)
}

func (s *busSink) Name() string { return s.name }

func (s *busSink) Deliver(ctx context.Context, commit session.Commit) error {
	payload, err := s.encode(commit)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, s.name, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, s.name, err)
	}
	if err := s.client.Conn().Publish(s.subject, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, s.name, err)
	}
	// Flush under the delivery deadline so a wedged broker surfaces here
	// instead of silently buffering.
	if err := s.client.Conn().FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, s.name, err)
	}
	return nil
}

func phraseCommit(commit session.Commit) protocol.PhraseCommit {
	return protocol.PhraseCommit{
		SessionID:   commit.SessionID,
		Labels:      commit.Labels,
		Reason:      string(commit.Reason),
		CommittedAt: time.Now().UTC(),
	}
}

// NewTextSink renders a committed phrase as a text event.
func NewTextSink(client *bus.Client) Sink {
	return &busSink{
		name:    "text",
		subject: protocol.SubjectOutputText,
		client:  client,
		encode: func(c session.Commit) (any, error) {
			return phraseCommit(c), nil
		},
	}
}

// NewSpeechSink asks an external synthesis engine to voice the phrase. The
// sink only publishes the request; the engine itself is another node.
func NewSpeechSink(client *bus.Client, voice string) Sink {
	return &busSink{
		name:    "speech",
		subject: protocol.SubjectSpeechRequest,
		client:  client,
		encode: func(c session.Commit) (any, error) {
			return protocol.SpeechRequest{
				SessionID: c.SessionID,
				Text:      strings.Join(c.Labels, " "),
				Voice:     voice,
				Timestamp: time.Now().UTC(),
			}, nil
		},
	}
}

// NewVisualSink feeds the on-screen phrase renderer.
func NewVisualSink(client *bus.Client) Sink {
	return &busSink{
		name:    "visual",
		subject: protocol.SubjectOutputVisual,
		client:  client,
		encode: func(c session.Commit) (any, error) {
			return phraseCommit(c), nil
		},
	}
}

// NewPhraseSink broadcasts every committed phrase on the commit stream.
// Unlike the renderer subjects this one is not an output modality; history
// consumers and debugging tools subscribe here.
func NewPhraseSink(client *bus.Client) Sink {
	return &busSink{
		name:    "phrase",
		subject: protocol.SubjectPhraseCommitted,
		client:  client,
		encode: func(c session.Commit) (any, error) {
			return phraseCommit(c), nil
		},
	}
}

// logSink records committed phrases on the session timeline. History is
// best-effort: a failed write never blocks the other sinks.
type logSink struct {
	store *sessionlog.Store
}

func NewLogSink(store *sessionlog.Store) Sink {
	return &logSink{store: store}
}

func (s *logSink) Name() string { return "session-log" }

func (s *logSink) Deliver(ctx context.Context, commit session.Commit) error {
	payload, err := json.Marshal(commit.Labels)
	if err != nil {
		return fmt.Errorf("%w: session-log: %v", ErrSinkUnavailable, err)
	}
	evt := sessionlog.Event{
		SessionID: commit.SessionID,
		Type:      sessionlog.EventPhraseCommitted,
		Payload:   payload,
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		return fmt.Errorf("%w: session-log: %v", ErrSinkUnavailable, err)
	}
	return nil
}
