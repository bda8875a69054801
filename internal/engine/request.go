package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Params are the sampling parameters forwarded to the inference session.
type Params struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
}

// Request is one unit of work for the generation worker. Immutable after
// construction; ownership passes to the queue on Submit and to the worker
// once claimed.
type Request struct {
	ID              string
	Text            string
	Reference       *Reference
	Params          Params
	ChunkLength     int
	IterativePrompt bool

	ctx    context.Context
	chunks []string
}

// NewRequest validates the inputs and builds a request. Validation failures
// return *InvalidParamsError and nothing reaches the queue. The context is
// checked by the worker between sub-chunks, so cancelling it stops an
// abandoned request from consuming further session time.
func NewRequest(ctx context.Context, text string, ref *Reference, params Params, chunkLength int, iterativePrompt bool) (*Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidParamsError{Reason: "text must not be empty"}
	}
	if params.MaxTokens <= 0 {
		return nil, &InvalidParamsError{Reason: "max_tokens must be positive"}
	}
	if params.Temperature <= 0 {
		return nil, &InvalidParamsError{Reason: "temperature must be positive"}
	}
	if params.TopP <= 0 || params.TopP > 1 {
		return nil, &InvalidParamsError{Reason: "top_p must be in (0, 1]"}
	}
	if params.RepetitionPenalty < 1 {
		return nil, &InvalidParamsError{Reason: "repetition_penalty must be >= 1"}
	}
	if chunkLength <= 0 {
		return nil, &InvalidParamsError{Reason: "chunk_length must be positive"}
	}
	if ref != nil && ref.Voice != "" && ref.Cloning() {
		return nil, &InvalidParamsError{Reason: "voice preset and reference audio are mutually exclusive"}
	}

	return &Request{
		ID:              uuid.NewString(),
		Text:            text,
		Reference:       ref,
		Params:          params,
		ChunkLength:     chunkLength,
		IterativePrompt: iterativePrompt,
		ctx:             ctx,
		chunks:          splitText(text, chunkLength),
	}, nil
}

// Context returns the cancellation context attached at construction.
func (r *Request) Context() context.Context { return r.ctx }

// Chunks returns the ordered sub-chunks the worker will generate for.
func (r *Request) Chunks() []string { return r.chunks }

// eventCapacity is the maximum number of events the worker can emit for this
// request: one chunk event per sub-chunk plus the terminal event. Response
// channels are buffered to this size so the worker never blocks on a slow or
// abandoned caller.
func (r *Request) eventCapacity() int { return len(r.chunks) + 1 }
