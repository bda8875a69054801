package engine

import "time"

// Status is the caller-side outcome of a request.
type Status string

const (
	// StatusSuccess means done arrived with at least one token.
	StatusSuccess Status = "success"
	// StatusFailed means the worker reported an error event.
	StatusFailed Status = "failed"
	// StatusTimeout means no event arrived within the poll timeout. Terminal
	// for this request only; the worker and other requests are unaffected.
	StatusTimeout Status = "timeout"
	// StatusEmpty means done arrived but no tokens were ever produced,
	// usually a parameter/model mismatch rather than a hard failure.
	StatusEmpty Status = "empty"
)

// Result is the aggregated outcome of one request.
type Result struct {
	Tokens []int32
	Chunks int
	Status Status
	Reason string
}

// Collect drains a response channel, accumulating chunk payloads in arrival
// order until the terminal event. Each poll waits at most pollTimeout; a
// silent channel yields StatusTimeout and the request must be considered
// finished — the channel is never reused.
func Collect(ch <-chan Event, pollTimeout time.Duration) Result {
	var tokens []int32
	chunks := 0
	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return Result{Status: StatusFailed, Reason: "response channel closed without terminal event"}
			}
			switch ev.Kind {
			case EventChunk:
				tokens = append(tokens, ev.Tokens...)
				chunks++
			case EventDone:
				if len(tokens) == 0 {
					return Result{Chunks: chunks, Status: StatusEmpty, Reason: "no content produced"}
				}
				return Result{Tokens: tokens, Chunks: chunks, Status: StatusSuccess}
			case EventError:
				// Partial output is discarded: the consumer must never see a
				// silently truncated payload.
				return Result{Chunks: chunks, Status: StatusFailed, Reason: ev.Message}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pollTimeout)
		case <-timer.C:
			return Result{Chunks: chunks, Status: StatusTimeout, Reason: "generation timed out"}
		}
	}
}
