package protocol

import "time"

// GenerateRequest asks the runtime to turn text into semantic tokens.
// ReferenceAudio/ReferenceText (voice cloning) and Voice (preset) are
// mutually exclusive.
type GenerateRequest struct {
	SessionID         string  `json:"session_id"`
	Text              string  `json:"text"`
	Voice             string  `json:"voice,omitempty"`
	ReferenceAudio    []byte  `json:"reference_audio,omitempty"`
	ReferenceText     string  `json:"reference_text,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	ChunkLength       int     `json:"chunk_length,omitempty"`
	IterativePrompt   bool    `json:"iterative_prompt,omitempty"`
	PollTimeoutMS     int     `json:"poll_timeout_ms,omitempty"`
}

// TokenChunk carries one generated slice of semantic tokens.
type TokenChunk struct {
	SessionID string  `json:"session_id"`
	RequestID string  `json:"request_id"`
	Sequence  int     `json:"sequence"`
	Tokens    []int32 `json:"tokens"`
	Final     bool    `json:"final"`
}

// Terminal statuses for a generation request.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
	StatusEmpty   = "empty"
)

// GenerateStatus is the terminal message for a request. Exactly one is
// published per accepted request, after any token chunks.
type GenerateStatus struct {
	SessionID  string    `json:"session_id"`
	RequestID  string    `json:"request_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	TokenCount int       `json:"token_count"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectGenerate = "tts.semantic.generate"
	SubjectTokens   = "tts.semantic.tokens"
	SubjectStatus   = "tts.semantic.status"
)
