package sessionlog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/includelabs/sign-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.SessionLogConfig{RetentionMode: "ephemeral"}
	store, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// Ephemeral mode swallows writes without error.
	if err := store.AppendSession(ctx, "session-1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	events, err := store.ListSessionEvents(ctx, "session-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("ephemeral store must not retain events, got %d", len(events))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.SessionLogConfig{Path: filepath.Join(tmp, "sessions.db"), RetentionMode: "session"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessionID := "session-123"
	if err := store.AppendSession(context.Background(), sessionID); err != nil {
		t.Fatalf("append session: %v", err)
	}
	evt := Event{
		SessionID: sessionID,
		SegmentID: "seg-1",
		Type:      EventPhraseCommitted,
		Payload:   []byte(`["HELLO","THANKS"]`),
	}
	if err := store.AppendEvent(context.Background(), evt); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := store.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventPhraseCommitted {
		t.Fatalf("unexpected event type %q", events[0].Type)
	}
	if string(events[0].Payload) != `["HELLO","THANKS"]` {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.SessionLogConfig{Path: filepath.Join(tmp, "sessions.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	store.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := store.AppendSession(context.Background(), "old-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := store.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventSessionStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	store.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := store.AppendSession(context.Background(), "new-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := store.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := store.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
