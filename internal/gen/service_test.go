package gen

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reeflabs/reef-tts/internal/bus"
	"github.com/reeflabs/reef-tts/internal/config"
	"github.com/reeflabs/reef-tts/internal/engine"
	"github.com/reeflabs/reef-tts/internal/eventstore"
	"github.com/reeflabs/reef-tts/internal/natsserver"
	"github.com/reeflabs/reef-tts/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

type countingSession struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (s *countingSession) Generate(ctx context.Context, req engine.SessionRequest) ([]int32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return []int32{1, 2, 3}, nil
}

func (s *countingSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func startService(t *testing.T, busClient *bus.Client, cfg config.EngineConfig, session engine.Session, store *eventstore.Store) {
	t.Helper()
	queue := engine.NewQueue(cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	worker := engine.NewWorker(queue, session, newLogger(), nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	svc := NewService(ctx, cfg, busClient, queue, nil, store, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
		cancel()
		queue.Close()
		<-done
	})
}

func subscribeStatus(t *testing.T, conn *nats.Conn, sessionID string) <-chan protocol.GenerateStatus {
	t.Helper()
	statuses := make(chan protocol.GenerateStatus, 4)
	sub, err := conn.Subscribe(protocol.SubjectStatus, func(msg *nats.Msg) {
		var status protocol.GenerateStatus
		if json.Unmarshal(msg.Data, &status) == nil && status.SessionID == sessionID {
			statuses <- status
		}
	})
	if err != nil {
		t.Fatalf("subscribe status: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return statuses
}

func publishRequest(t *testing.T, conn *nats.Conn, req protocol.GenerateRequest) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := conn.Publish(protocol.SubjectGenerate, data); err != nil {
		t.Fatalf("publish request: %v", err)
	}
}

func awaitStatus(t *testing.T, statuses <-chan protocol.GenerateStatus) protocol.GenerateStatus {
	t.Helper()
	select {
	case status := <-statuses:
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal status arrived")
		return protocol.GenerateStatus{}
	}
}

func TestGenerationRecordsTimeline(t *testing.T) {
	busClient := startBus(t)
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	startService(t, busClient, config.Default().Engine, &countingSession{}, store)
	statuses := subscribeStatus(t, busClient.Conn(), "sess-timeline")

	publishRequest(t, busClient.Conn(), protocol.GenerateRequest{
		SessionID: "sess-timeline",
		Text:      "Hello there, world.",
	})

	status := awaitStatus(t, statuses)
	if status.Status != protocol.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", status.Status, status.Reason)
	}
	if status.TokenCount == 0 || status.RequestID == "" {
		t.Fatalf("terminal status incomplete: %+v", status)
	}

	events, err := store.ListRequestEvents(context.Background(), status.RequestID, 16)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var chunkEvents, terminalEvents int
	for _, ev := range events {
		switch ev.Type {
		case "chunk":
			chunkEvents++
		case "terminal":
			terminalEvents++
		}
	}
	if chunkEvents == 0 {
		t.Fatal("no chunk events recorded")
	}
	if terminalEvents != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminalEvents)
	}
}

func TestPollTimeoutCancelsAbandonedRequest(t *testing.T) {
	busClient := startBus(t)
	session := &countingSession{delay: 200 * time.Millisecond}
	cfg := config.Default().Engine
	cfg.PollTimeoutMS = 50
	startService(t, busClient, cfg, session, nil)
	statuses := subscribeStatus(t, busClient.Conn(), "sess-abandoned")

	publishRequest(t, busClient.Conn(), protocol.GenerateRequest{
		SessionID:   "sess-abandoned",
		Text:        "a. b. c. d. e. f. g. h.",
		ChunkLength: 3,
	})

	status := awaitStatus(t, statuses)
	if status.Status != protocol.StatusTimeout {
		t.Fatalf("expected timeout, got %s (%s)", status.Status, status.Reason)
	}

	// The in-flight sub-chunk may finish, but the cancelled request context
	// must stop the worker before it generates the rest.
	time.Sleep(600 * time.Millisecond)
	if got := session.count(); got != 1 {
		t.Fatalf("abandoned request kept generating: %d session calls", got)
	}
}

func TestInvalidRequestRejectedBeforeEnqueue(t *testing.T) {
	busClient := startBus(t)
	session := &countingSession{}
	startService(t, busClient, config.Default().Engine, session, nil)
	statuses := subscribeStatus(t, busClient.Conn(), "sess-invalid")

	publishRequest(t, busClient.Conn(), protocol.GenerateRequest{
		SessionID: "sess-invalid",
		Text:      "   ",
	})

	status := awaitStatus(t, statuses)
	if status.Status != protocol.StatusFailed {
		t.Fatalf("expected failure, got %s", status.Status)
	}
	if !strings.Contains(status.Reason, "invalid parameters") {
		t.Fatalf("expected validation reason, got %q", status.Reason)
	}
	if session.count() != 0 {
		t.Fatal("invalid request must never reach the session")
	}
}
