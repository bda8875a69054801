package engine

import (
	"context"
	"time"
)

type mockSession struct {
	delay time.Duration
}

// NewMockSession returns a deterministic session for development and tests:
// one token per input rune, folded into a small vocabulary. delay is applied
// per call to simulate inference latency.
func NewMockSession(delay time.Duration) Session {
	return &mockSession{delay: delay}
}

func (m *mockSession) Generate(ctx context.Context, req SessionRequest) ([]int32, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	runes := []rune(req.Text)
	n := len(runes)
	if req.Params.MaxTokens > 0 && n > req.Params.MaxTokens {
		n = req.Params.MaxTokens
	}
	tokens := make([]int32, 0, n)
	for _, r := range runes[:n] {
		tokens = append(tokens, int32(r)%1024)
	}
	return tokens, nil
}
