// reef-say is a small client for the reef runtime: it submits generation
// requests over NATS and prints the streamed token chunks, or synthesizes
// audio through the external provider.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/reeflabs/reef-tts/internal/config"
	"github.com/reeflabs/reef-tts/internal/protocol"
	"github.com/reeflabs/reef-tts/internal/provider"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'speak', 'synth' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "speak":
		if err := runSpeak(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "synth":
		if err := runSynth(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runSpeak(args []string) error {
	cmd := flag.NewFlagSet("speak", flag.ExitOnError)
	server := cmd.String("server", nats.DefaultURL, "NATS server URL")
	text := cmd.String("text", "", "Text to generate")
	voice := cmd.String("voice", "", "Preset voice id")
	refPath := cmd.String("ref", "", "Path to reference WAV for voice cloning")
	refText := cmd.String("ref-text", "", "Transcript of the reference audio")
	chunkLength := cmd.Int("chunk", 0, "Chunk length in characters (0 uses the server default)")
	timeout := cmd.Duration("timeout", 90*time.Second, "How long to wait for the terminal status")
	cmd.Parse(args)

	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	req := protocol.GenerateRequest{
		SessionID:   uuid.NewString(),
		Text:        *text,
		Voice:       *voice,
		ChunkLength: *chunkLength,
	}
	if *refPath != "" {
		audio, err := os.ReadFile(*refPath)
		if err != nil {
			return fmt.Errorf("read reference audio: %w", err)
		}
		req.ReferenceAudio = audio
		req.ReferenceText = *refText
	}

	conn, err := nats.Connect(*server, nats.Name("reef-say"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	chunks := make(chan protocol.TokenChunk, 256)
	statuses := make(chan protocol.GenerateStatus, 1)

	tokenSub, err := conn.Subscribe(protocol.SubjectTokens, func(msg *nats.Msg) {
		var chunk protocol.TokenChunk
		if json.Unmarshal(msg.Data, &chunk) != nil || chunk.SessionID != req.SessionID {
			return
		}
		// Progress display is best effort; never stall the callback goroutine.
		select {
		case chunks <- chunk:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe tokens: %w", err)
	}
	defer tokenSub.Unsubscribe()

	statusSub, err := conn.Subscribe(protocol.SubjectStatus, func(msg *nats.Msg) {
		var status protocol.GenerateStatus
		if json.Unmarshal(msg.Data, &status) == nil && status.SessionID == req.SessionID {
			select {
			case statuses <- status:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe status: %w", err)
	}
	defer statusSub.Unsubscribe()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := conn.Publish(protocol.SubjectGenerate, data); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	deadline := time.NewTimer(*timeout)
	defer deadline.Stop()
	for {
		select {
		case chunk := <-chunks:
			if chunk.Final {
				continue
			}
			fmt.Printf("chunk %d: %d tokens\n", chunk.Sequence, len(chunk.Tokens))
		case status := <-statuses:
			if status.Status != protocol.StatusSuccess {
				return fmt.Errorf("generation %s: %s", status.Status, status.Reason)
			}
			fmt.Printf("done: %d tokens\n", status.TokenCount)
			return nil
		case <-deadline.C:
			return fmt.Errorf("no terminal status within %s", *timeout)
		}
	}
}

func runSynth(args []string) error {
	cmd := flag.NewFlagSet("synth", flag.ExitOnError)
	text := cmd.String("text", "", "Text to synthesize")
	voice := cmd.String("voice", "", "Provider voice/reference id")
	refPath := cmd.String("ref", "", "Path to reference WAV for voice cloning")
	refText := cmd.String("ref-text", "", "Transcript of the reference audio")
	out := cmd.String("out", "out.wav", "Output audio file")
	endpoint := cmd.String("endpoint", "", "Provider endpoint (defaults to config default)")
	apiKey := cmd.String("api-key", os.Getenv("REEF_PROVIDER_API_KEY"), "Provider API key")
	cmd.Parse(args)

	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	cfg := config.Default().Provider
	cfg.Enabled = true
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := provider.New(cfg, logger)

	req := provider.Request{Text: *text, Voice: *voice}
	if *refPath != "" {
		audio, err := os.ReadFile(*refPath)
		if err != nil {
			return fmt.Errorf("read reference audio: %w", err)
		}
		req.ReferenceAudio = audio
		req.ReferenceText = *refText
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	audio, err := client.Synthesize(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, audio, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(audio), *out)
	return nil
}
