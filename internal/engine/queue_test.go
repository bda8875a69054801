package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	queue := NewQueue(1)

	if _, err := queue.Submit(mustRequest(t, "one", 200)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := queue.Submit(mustRequest(t, "two", 200))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected 1 queued item, got %d", queue.Len())
	}
}

func TestTakeNextHonorsContext(t *testing.T) {
	queue := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := queue.TakeNext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestCloseNotifiesQueuedCallers(t *testing.T) {
	queue := NewQueue(0)
	ch, err := queue.Submit(mustRequest(t, "never claimed", 200))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	queue.Close()

	res := Collect(ch, time.Second)
	if res.Status != StatusFailed {
		t.Fatalf("expected failure after close, got %s", res.Status)
	}

	if _, err := queue.Submit(mustRequest(t, "late", 200)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestIdenticalRequestsGetIndependentChannels(t *testing.T) {
	queue := NewQueue(0)
	startWorker(t, queue, NewMockSession(0))

	a, err := queue.Submit(mustRequest(t, "same text", 200))
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	b, err := queue.Submit(mustRequest(t, "same text", 200))
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}

	resA := Collect(a, time.Second)
	resB := Collect(b, time.Second)
	if resA.Status != StatusSuccess || resB.Status != StatusSuccess {
		t.Fatalf("expected both to succeed, got %s / %s", resA.Status, resB.Status)
	}
}
