package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Engine.ChunkLength != 200 {
		t.Fatalf("expected default chunk length 200, got %d", cfg.Engine.ChunkLength)
	}
	if cfg.Engine.PollTimeoutMS != 60000 {
		t.Fatalf("expected default poll timeout 60000, got %d", cfg.Engine.PollTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REEF_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("REEF_BUS_USERNAME", "alice")
	t.Setenv("REEF_BUS_PASSWORD", "secret")
	t.Setenv("REEF_ENGINE_QUEUE_SIZE", "64")
	t.Setenv("REEF_ENGINE_POLL_TIMEOUT_MS", "15000")
	t.Setenv("REEF_ENGINE_CHUNK_LENGTH", "120")
	t.Setenv("REEF_ENGINE_TEMPERATURE", "0.9")
	t.Setenv("REEF_PROVIDER_ENABLED", "true")
	t.Setenv("REEF_PROVIDER_ENDPOINT", "http://localhost:9880/v1/tts")
	t.Setenv("REEF_PROVIDER_API_KEY", "token-123")
	t.Setenv("REEF_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("REEF_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("REEF_EVENT_STORE_MAX_REQUESTS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Engine.QueueSize != 64 {
		t.Fatalf("expected queue size override, got %d", cfg.Engine.QueueSize)
	}
	if cfg.Engine.PollTimeoutMS != 15000 {
		t.Fatalf("expected poll timeout override, got %d", cfg.Engine.PollTimeoutMS)
	}
	if cfg.Engine.ChunkLength != 120 {
		t.Fatalf("expected chunk length override, got %d", cfg.Engine.ChunkLength)
	}
	if cfg.Engine.Temperature != 0.9 {
		t.Fatalf("expected temperature override, got %f", cfg.Engine.Temperature)
	}
	if !cfg.Provider.Enabled || cfg.Provider.Endpoint != "http://localhost:9880/v1/tts" {
		t.Fatalf("expected provider override, got %+v", cfg.Provider)
	}
	if cfg.Provider.APIKey != "token-123" {
		t.Fatalf("expected provider api key override")
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.MaxRequests != 123 {
		t.Fatalf("expected event store max requests override")
	}
}

func TestValidateRejectsBadEngine(t *testing.T) {
	t.Setenv("REEF_ENGINE_CHUNK_LENGTH", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero chunk length")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("REEF_ENGINE_SESSION_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}
