package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/reeflabs/reef-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	requestID := "req-123"
	rec := RequestRecord{RequestID: requestID, SessionID: "session-1", TextLength: 42, Voice: "reef", Status: "accepted"}
	if err := es.AppendRequest(context.Background(), rec); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{RequestID: requestID, Type: "chunk", Payload: []byte("tokens")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.UpdateOutcome(context.Background(), requestID, "success", 128); err != nil {
		t.Fatalf("update outcome: %v", err)
	}
	events, err := es.ListRequestEvents(context.Background(), requestID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "tokens" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestPruneByDaysAndRequests(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRequests: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendRequest(context.Background(), RequestRecord{RequestID: "old-req", TextLength: 10, Status: "success"}); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{RequestID: "old-req", Type: "done"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendRequest(context.Background(), RequestRecord{RequestID: "new-req", TextLength: 20, Status: "accepted"}); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRequestEvents(context.Background(), "old-req", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old request pruned")
	}
}
