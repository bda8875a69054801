// Package gen exposes the generation engine on the message bus: it accepts
// requests, streams token chunks back, and records the request timeline.
package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reeflabs/reef-tts/internal/bus"
	"github.com/reeflabs/reef-tts/internal/config"
	"github.com/reeflabs/reef-tts/internal/engine"
	"github.com/reeflabs/reef-tts/internal/eventstore"
	"github.com/reeflabs/reef-tts/internal/normalize"
	"github.com/reeflabs/reef-tts/internal/protocol"
)

type Service struct {
	cfg        config.EngineConfig
	bus        *bus.Client
	queue      *engine.Queue
	normalizer *normalize.Chain
	store      *eventstore.Store
	metrics    *engine.Metrics
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

func NewService(parent context.Context, cfg config.EngineConfig, busClient *bus.Client, queue *engine.Queue, normalizer *normalize.Chain, store *eventstore.Store, metrics *engine.Metrics, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		queue:      queue,
		normalizer: normalizer,
		store:      store,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With(slog.String("component", "gen-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerate, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe generation requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(req)
	}()
}

func (s *Service) process(req protocol.GenerateRequest) {
	ref, err := s.buildReference(req)
	if err != nil {
		s.publishStatus(req, "", protocol.StatusFailed, err.Error(), 0)
		return
	}

	text := req.Text
	if s.normalizer != nil {
		text = s.normalizer.Apply(s.ctx, text)
	}

	// Cancelled when process returns: a poll timeout or shutdown stops the
	// worker from generating remaining sub-chunks nobody will read.
	reqCtx, cancelReq := context.WithCancel(s.ctx)
	defer cancelReq()

	genReq, err := engine.NewRequest(reqCtx, text, ref, engine.Params{
		MaxTokens:         coalesceInt(req.MaxTokens, s.cfg.MaxTokens),
		Temperature:       coalesceFloat(req.Temperature, s.cfg.Temperature),
		TopP:              coalesceFloat(req.TopP, s.cfg.TopP),
		RepetitionPenalty: coalesceFloat(req.RepetitionPenalty, s.cfg.RepetitionPenalty),
	}, coalesceInt(req.ChunkLength, s.cfg.ChunkLength), req.IterativePrompt || s.cfg.IterativePrompt)
	if err != nil {
		// Caller-correctable: rejected here, nothing reaches the worker.
		s.publishStatus(req, "", protocol.StatusFailed, err.Error(), 0)
		return
	}

	ch, err := s.queue.Submit(genReq)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			s.publishStatus(req, genReq.ID, protocol.StatusFailed, "generation queue full", 0)
		} else {
			s.publishStatus(req, genReq.ID, protocol.StatusFailed, err.Error(), 0)
		}
		return
	}
	s.metrics.RecordSubmitted(s.ctx)
	s.recordAccepted(req, genReq)

	s.stream(req, genReq, ch)
}

// stream forwards events from the response channel to the bus until the
// terminal event or a poll timeout.
func (s *Service) stream(req protocol.GenerateRequest, genReq *engine.Request, ch <-chan engine.Event) {
	pollTimeout := time.Duration(coalesceInt(req.PollTimeoutMS, s.cfg.PollTimeoutMS)) * time.Millisecond
	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	sequence := 0
	tokenCount := 0
	for {
		select {
		case ev := <-ch:
			switch ev.Kind {
			case engine.EventChunk:
				tokenCount += len(ev.Tokens)
				s.publishChunk(req, genReq.ID, sequence, ev.Tokens, false)
				s.recordChunk(genReq.ID, sequence, len(ev.Tokens))
				sequence++
			case engine.EventDone:
				s.publishChunk(req, genReq.ID, sequence, nil, true)
				if tokenCount == 0 {
					s.finish(req, genReq, protocol.StatusEmpty, "no content produced", 0)
				} else {
					s.finish(req, genReq, protocol.StatusSuccess, "", tokenCount)
				}
				return
			case engine.EventError:
				s.finish(req, genReq, protocol.StatusFailed, ev.Message, 0)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pollTimeout)
		case <-timer.C:
			s.finish(req, genReq, protocol.StatusTimeout, "generation timed out", tokenCount)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// finish records the outcome before announcing it, so a consumer reacting to
// the status always sees a complete timeline.
func (s *Service) finish(req protocol.GenerateRequest, genReq *engine.Request, status, reason string, tokenCount int) {
	if s.store != nil {
		if err := s.store.UpdateOutcome(s.ctx, genReq.ID, status, tokenCount); err != nil {
			s.logger.Warn("failed to record outcome", slogError(err))
		}
		payload, _ := json.Marshal(map[string]any{"status": status, "reason": reason})
		if err := s.store.AppendEvent(s.ctx, eventstore.Event{RequestID: genReq.ID, Type: "terminal", Payload: payload}); err != nil {
			s.logger.Warn("failed to record terminal event", slogError(err))
		}
	}
	s.publishStatus(req, genReq.ID, status, reason, tokenCount)
}

func (s *Service) recordChunk(requestID string, sequence, tokens int) {
	if s.store == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"sequence": sequence, "tokens": tokens})
	if err := s.store.AppendEvent(s.ctx, eventstore.Event{RequestID: requestID, Type: "chunk", Payload: payload}); err != nil {
		s.logger.Warn("failed to record chunk event", slogError(err))
	}
}

func (s *Service) buildReference(req protocol.GenerateRequest) (*engine.Reference, error) {
	hasClone := len(req.ReferenceAudio) > 0
	if hasClone && req.Voice != "" {
		return nil, &engine.InvalidParamsError{Reason: "voice preset and reference audio are mutually exclusive"}
	}
	if hasClone {
		return engine.CloneVoice(req.ReferenceAudio, req.ReferenceText)
	}
	if req.Voice != "" {
		return engine.PresetVoice(req.Voice), nil
	}
	return nil, nil
}

func (s *Service) recordAccepted(req protocol.GenerateRequest, genReq *engine.Request) {
	if s.store == nil {
		return
	}
	rec := eventstore.RequestRecord{
		RequestID:  genReq.ID,
		SessionID:  req.SessionID,
		TextLength: len(genReq.Text),
		Voice:      req.Voice,
		Status:     "accepted",
	}
	if err := s.store.AppendRequest(s.ctx, rec); err != nil {
		s.logger.Warn("failed to record request", slogError(err))
	}
}

func (s *Service) publishChunk(req protocol.GenerateRequest, requestID string, sequence int, tokens []int32, final bool) {
	packet := protocol.TokenChunk{
		SessionID: req.SessionID,
		RequestID: requestID,
		Sequence:  sequence,
		Tokens:    tokens,
		Final:     final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal token chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTokens, data); err != nil {
		s.logger.Warn("failed to publish token chunk", slogError(err))
	}
}

func (s *Service) publishStatus(req protocol.GenerateRequest, requestID, status, reason string, tokenCount int) {
	msg := protocol.GenerateStatus{
		SessionID:  req.SessionID,
		RequestID:  requestID,
		Status:     status,
		Reason:     reason,
		TokenCount: tokenCount,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectStatus, data); err != nil {
		s.logger.Warn("failed to publish status", slogError(err))
	}
	if status != protocol.StatusSuccess {
		s.logger.Warn("generation request failed",
			slog.String("request_id", requestID),
			slog.String("status", status),
			slog.String("reason", reason))
	}
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func coalesceFloat(value, fallback float64) float64 {
	if value != 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
