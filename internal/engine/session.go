package engine

import (
	"context"
	"fmt"

	"github.com/reeflabs/reef-tts/internal/config"
)

// SessionRequest is one generation step: produce tokens for a single
// sub-chunk of text, optionally conditioned on prior output and a voice
// reference.
type SessionRequest struct {
	Text         string
	Conditioning []int32
	Reference    *Reference
	Params       Params
}

// Session is the stateful inference backend. Implementations are not
// reentrant: the worker is the only goroutine that calls Generate, and the
// queue is what enforces that.
type Session interface {
	Generate(ctx context.Context, req SessionRequest) ([]int32, error)
}

// NewSession builds the configured session backend.
func NewSession(cfg config.EngineConfig) (Session, error) {
	switch cfg.SessionMode {
	case "mock":
		return NewMockSession(0), nil
	case "exec":
		return NewExecSession(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown session mode %q", cfg.SessionMode)
	}
}
