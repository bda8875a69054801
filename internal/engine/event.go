package engine

// EventKind tags an event on a response channel.
type EventKind int

const (
	// EventChunk carries tokens for one sub-chunk of the request text.
	EventChunk EventKind = iota
	// EventDone marks successful completion. Always the last event.
	EventDone
	// EventError marks failure. Always the last event.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from the worker to a caller. For every processed
// request the worker emits zero or more chunk events followed by exactly one
// done or error event.
type Event struct {
	Kind    EventKind
	Tokens  []int32
	Message string
}
