package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSession struct {
	cmd []string
}

type execGenerateRequest struct {
	Text              string  `json:"text"`
	Conditioning      []int32 `json:"conditioning,omitempty"`
	Voice             string  `json:"voice,omitempty"`
	ReferenceAudioB64 string  `json:"reference_audio_b64,omitempty"`
	ReferenceText     string  `json:"reference_text,omitempty"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type execGenerateResponse struct {
	Tokens []int32 `json:"tokens"`
	Error  string  `json:"error,omitempty"`
}

// NewExecSession wraps an external inference process. Each Generate call
// spawns the command, writes one JSON request to stdin, and reads one JSON
// response line from stdout. The worker serializes calls, so the model
// process never sees concurrent requests.
func NewExecSession(command string) (Session, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse session command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("session command empty")
	}
	return &execSession{cmd: args}, nil
}

func (e *execSession) Generate(ctx context.Context, req SessionRequest) ([]int32, error) {
	payload := execGenerateRequest{
		Text:              req.Text,
		Conditioning:      req.Conditioning,
		MaxTokens:         req.Params.MaxTokens,
		Temperature:       req.Params.Temperature,
		TopP:              req.Params.TopP,
		RepetitionPenalty: req.Params.RepetitionPenalty,
	}
	if ref := req.Reference; ref != nil {
		payload.Voice = ref.Voice
		payload.ReferenceText = ref.Transcript
		if ref.Cloning() {
			payload.ReferenceAudioB64 = base64.StdEncoding.EncodeToString(ref.Audio)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if _, err := stdin.Write(data); err != nil {
		drainAndWait(cmd, stdout)
		return nil, err
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var resp execGenerateResponse
	decoded := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			drainAndWait(cmd, stdout)
			return nil, fmt.Errorf("decode session response: %w", err)
		}
		decoded = true
		break
	}
	// Drain whatever the process writes past the response line so it cannot
	// block on a full pipe and deadlock Wait.
	if err := drainAndWait(cmd, stdout); err != nil {
		return nil, err
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, scanErr
	}
	if !decoded {
		return nil, fmt.Errorf("session produced no response")
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("session reported: %s", resp.Error)
	}
	return resp.Tokens, nil
}

func drainAndWait(cmd *exec.Cmd, stdout io.Reader) error {
	_, _ = io.Copy(io.Discard, stdout)
	return cmd.Wait()
}
