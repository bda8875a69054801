// Package provider talks to a remote HTTP TTS service that turns text (plus
// optional reference audio) into finished audio. The service's accepted
// request schema varies between deployments and versions, so the client
// probes an ordered list of schema variants instead of assuming one.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/reeflabs/reef-tts/internal/config"
)

// Request describes one synthesis call.
type Request struct {
	Text           string
	Voice          string
	ReferenceAudio []byte
	ReferenceText  string
}

// Error carries the last provider rejection after every schema variant has
// been tried. Status and message are reported verbatim.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Message)
}

// Client negotiates with the provider. Schema variants are tried in fixed
// priority order; the first success short-circuits the rest.
type Client struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *slog.Logger
}

func New(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		logger: logger.With(slog.String("component", "tts-provider")),
	}
}

type attemptBuilder struct {
	name  string
	build func(ctx context.Context, req Request) (*http.Request, error)
}

// Synthesize returns raw audio bytes on success. On failure it returns the
// last provider-reported status and message as an *Error; transport-level
// failures that prevented any response are returned as-is.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("text must not be empty")
	}

	attempts := []attemptBuilder{
		{name: "references-json", build: c.buildReferencesJSON},
		{name: "legacy-json", build: c.buildLegacyJSON},
		{name: "multipart", build: c.buildMultipart},
	}

	var lastErr error
	for _, attempt := range attempts {
		httpReq, err := attempt.build(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", attempt.name, err)
		}
		audio, err := c.do(httpReq)
		if err == nil {
			c.logger.Debug("provider accepted schema", slog.String("schema", attempt.name))
			return audio, nil
		}
		lastErr = err
		c.logger.Warn("provider rejected schema",
			slog.String("schema", attempt.name),
			slogError(err))
	}
	return nil, lastErr
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

type referenceEntry struct {
	Audio string `json:"audio"`
	Text  string `json:"text"`
}

type referencesPayload struct {
	Text       string           `json:"text"`
	Model      string           `json:"model,omitempty"`
	Voice      string           `json:"voice,omitempty"`
	Format     string           `json:"format,omitempty"`
	References []referenceEntry `json:"references,omitempty"`
}

func (c *Client) buildReferencesJSON(ctx context.Context, req Request) (*http.Request, error) {
	payload := referencesPayload{
		Text:   req.Text,
		Model:  c.cfg.Model,
		Voice:  req.Voice,
		Format: c.cfg.Format,
	}
	if len(req.ReferenceAudio) > 0 {
		payload.References = []referenceEntry{{
			Audio: base64.StdEncoding.EncodeToString(req.ReferenceAudio),
			Text:  req.ReferenceText,
		}}
	}
	return c.jsonRequest(ctx, payload)
}

type legacyPayload struct {
	Text           string `json:"text"`
	Model          string `json:"model,omitempty"`
	Voice          string `json:"voice,omitempty"`
	Format         string `json:"format,omitempty"`
	ReferenceAudio string `json:"reference_audio,omitempty"`
	ReferenceText  string `json:"reference_text,omitempty"`
}

func (c *Client) buildLegacyJSON(ctx context.Context, req Request) (*http.Request, error) {
	payload := legacyPayload{
		Text:   req.Text,
		Model:  c.cfg.Model,
		Voice:  req.Voice,
		Format: c.cfg.Format,
	}
	if len(req.ReferenceAudio) > 0 {
		payload.ReferenceAudio = base64.StdEncoding.EncodeToString(req.ReferenceAudio)
		payload.ReferenceText = req.ReferenceText
	}
	return c.jsonRequest(ctx, payload)
}

func (c *Client) jsonRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)
	return httpReq, nil
}

// buildMultipart encodes the same data as form fields plus a file part, for
// providers that reject JSON-encoded binary payloads.
func (c *Client) buildMultipart(ctx context.Context, req Request) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"text":   req.Text,
		"model":  c.cfg.Model,
		"voice":  req.Voice,
		"format": c.cfg.Format,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if len(req.ReferenceAudio) > 0 {
		part, err := writer.CreateFormFile("reference_audio", "reference.wav")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(req.ReferenceAudio); err != nil {
			return nil, err
		}
		if req.ReferenceText != "" {
			if err := writer.WriteField("reference_text", req.ReferenceText); err != nil {
				return nil, err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(httpReq)
	return httpReq, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
