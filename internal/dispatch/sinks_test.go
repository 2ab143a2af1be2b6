package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/includelabs/sign-core/internal/bus"
	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/natsserver"
	"github.com/includelabs/sign-core/internal/protocol"
	"github.com/includelabs/sign-core/internal/session"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{
		Embedded: true,
		Port:     -1, // random free port
		StoreDir: t.TempDir(),
	}, newLogger())
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.URL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect to bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func subscribe(t *testing.T, client *bus.Client, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(subject, ch)
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func recvCommit(t *testing.T, ch chan *nats.Msg) protocol.PhraseCommit {
	t.Helper()
	select {
	case msg := <-ch:
		var pc protocol.PhraseCommit
		if err := json.Unmarshal(msg.Data, &pc); err != nil {
			t.Fatalf("decode phrase commit: %v", err)
		}
		return pc
	case <-time.After(2 * time.Second):
		t.Fatal("no phrase event arrived on the bus")
		return protocol.PhraseCommit{}
	}
}

// A committed phrase must reach both the commit stream and the enabled
// renderer subjects.
func TestBusSinksPublishCommit(t *testing.T) {
	client := startBus(t)

	phrases := subscribe(t, client, protocol.SubjectPhraseCommitted)
	texts := subscribe(t, client, protocol.SubjectOutputText)

	d := NewDispatcher(context.Background(), testCfg(),
		[]Sink{NewTextSink(client), NewPhraseSink(client)}, newLogger())
	d.Start()
	t.Cleanup(d.Close)

	d.Dispatch(session.Commit{
		SessionID: "s1",
		Labels:    []string{"HELLO", "THANKS"},
		Reason:    session.ReasonEndSignal,
	})

	pc := recvCommit(t, phrases)
	if pc.SessionID != "s1" || len(pc.Labels) != 2 || pc.Labels[0] != "HELLO" {
		t.Fatalf("unexpected commit event %+v", pc)
	}
	if pc.Reason != string(session.ReasonEndSignal) {
		t.Fatalf("unexpected reason %q", pc.Reason)
	}

	text := recvCommit(t, texts)
	if len(text.Labels) != 2 || text.Labels[1] != "THANKS" {
		t.Fatalf("unexpected text event %+v", text)
	}
}

func TestSpeechSinkJoinsLabels(t *testing.T) {
	client := startBus(t)

	requests := subscribe(t, client, protocol.SubjectSpeechRequest)

	sink := NewSpeechSink(client, "narrator")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sink.Deliver(ctx, session.Commit{
		SessionID: "s1",
		Labels:    []string{"REPEAT THAT", "PLEASE"},
		Reason:    session.ReasonSilence,
	})
	if err != nil {
		t.Fatalf("deliver speech request: %v", err)
	}

	select {
	case msg := <-requests:
		var req protocol.SpeechRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Fatalf("decode speech request: %v", err)
		}
		if req.Text != "REPEAT THAT PLEASE" || req.Voice != "narrator" {
			t.Fatalf("unexpected speech request %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no speech request arrived on the bus")
	}
}
