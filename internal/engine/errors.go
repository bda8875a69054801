package engine

import "errors"

// ErrQueueFull is returned by Submit when a bounded queue is at capacity.
var ErrQueueFull = errors.New("generation queue full")

// ErrQueueClosed is returned once the queue has been shut down.
var ErrQueueClosed = errors.New("generation queue closed")

// InvalidParamsError reports a caller-correctable request problem. Requests
// that fail validation are never enqueued.
type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return "invalid parameters: " + e.Reason
}

// SessionError wraps an opaque failure from the inference session.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return "session failure: " + e.Err.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }
