package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Worker drains the queue and runs generation against the one inference
// session. Exactly one Run loop may be active per session; concurrency
// across requests comes from callers overlapping with the worker, never from
// two requests touching the session at once.
type Worker struct {
	queue   *Queue
	session Session
	logger  *slog.Logger
	metrics *Metrics
}

func NewWorker(queue *Queue, session Session, logger *slog.Logger, metrics *Metrics) *Worker {
	return &Worker{
		queue:   queue,
		session: session,
		logger:  logger.With(slog.String("component", "generation-worker")),
		metrics: metrics,
	}
}

// Run processes requests until the context is cancelled or the queue is
// closed. Request failures are reported on the request's channel and never
// stop the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, ch, err := w.queue.TakeNext(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrQueueClosed) {
				w.logger.Warn("queue take failed", slogError(err))
			}
			return
		}
		w.process(ctx, req, ch)
	}
}

func (w *Worker) process(ctx context.Context, req *Request, ch chan<- Event) {
	start := time.Now()
	status := "success"
	defer func() {
		if r := recover(); r != nil {
			status = "failed"
			w.logger.Error("session panicked", slog.Any("panic", r), slog.String("request_id", req.ID))
			ch <- Event{Kind: EventError, Message: fmt.Sprintf("session failure: %v", r)}
		}
		w.metrics.RecordCompleted(ctx, status, time.Since(start))
	}()

	var conditioning []int32
	emitted := 0
	for _, chunk := range req.Chunks() {
		if err := req.Context().Err(); err != nil {
			status = "cancelled"
			w.logger.Info("request cancelled",
				slog.String("request_id", req.ID),
				slog.Int("chunks_done", emitted))
			ch <- Event{Kind: EventError, Message: "request cancelled"}
			return
		}
		if err := ctx.Err(); err != nil {
			status = "cancelled"
			ch <- Event{Kind: EventError, Message: "worker shutting down"}
			return
		}

		tokens, err := w.session.Generate(ctx, SessionRequest{
			Text:         chunk,
			Conditioning: conditioning,
			Reference:    req.Reference,
			Params:       req.Params,
		})
		if err != nil {
			status = "failed"
			serr := &SessionError{Err: err}
			w.logger.Warn("generation failed",
				slog.String("request_id", req.ID),
				slogError(serr))
			ch <- Event{Kind: EventError, Message: serr.Error()}
			return
		}

		ch <- Event{Kind: EventChunk, Tokens: tokens}
		emitted++
		if req.IterativePrompt {
			conditioning = append(conditioning, tokens...)
		}
	}

	ch <- Event{Kind: EventDone}
	w.logger.Debug("request complete",
		slog.String("request_id", req.ID),
		slog.Int("chunks", emitted),
		slog.Duration("latency", time.Since(start)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
