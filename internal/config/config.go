package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Engine      EngineConfig     `yaml:"engine"`
	Provider    ProviderConfig   `yaml:"provider"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Normalize   NormalizeConfig  `yaml:"normalize"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig controls the generation queue and the inference session backend.
type EngineConfig struct {
	QueueSize         int     `yaml:"queue_size"` // 0 means unbounded
	PollTimeoutMS     int     `yaml:"poll_timeout_ms"`
	ChunkLength       int     `yaml:"chunk_length"`
	SessionMode       string  `yaml:"session_mode"` // mock, exec
	Command           string  `yaml:"command"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	IterativePrompt   bool    `yaml:"iterative_prompt"`
}

// ProviderConfig points at a remote HTTP TTS provider used for final audio
// synthesis, separate from the local generation queue.
type ProviderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Format    string `yaml:"format"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type NormalizeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

func Default() Config {
	return Config{
		RuntimeName: "reef-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			QueueSize:         0,
			PollTimeoutMS:     60000,
			ChunkLength:       200,
			SessionMode:       "mock",
			MaxTokens:         512,
			Temperature:       0.7,
			TopP:              0.7,
			RepetitionPenalty: 1.5,
			IterativePrompt:   true,
		},
		Provider: ProviderConfig{
			Enabled:   false,
			Endpoint:  "https://api.fish.audio/v1/tts",
			Model:     "fish-speech-1.5",
			Format:    "wav",
			TimeoutMS: 30000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/reef-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Normalize: NormalizeConfig{
			Enabled:   false,
			Directory: "./plugins",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "REEF_RUNTIME_NAME")
	overrideString(&cfg.Environment, "REEF_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "REEF_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "REEF_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "REEF_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "REEF_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "REEF_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "REEF_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "REEF_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "REEF_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "REEF_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "REEF_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "REEF_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "REEF_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "REEF_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "REEF_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "REEF_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Engine.QueueSize, "REEF_ENGINE_QUEUE_SIZE")
	overrideInt(&cfg.Engine.PollTimeoutMS, "REEF_ENGINE_POLL_TIMEOUT_MS")
	overrideInt(&cfg.Engine.ChunkLength, "REEF_ENGINE_CHUNK_LENGTH")
	overrideString(&cfg.Engine.SessionMode, "REEF_ENGINE_SESSION_MODE")
	overrideString(&cfg.Engine.Command, "REEF_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.MaxTokens, "REEF_ENGINE_MAX_TOKENS")
	overrideFloat(&cfg.Engine.Temperature, "REEF_ENGINE_TEMPERATURE")
	overrideFloat(&cfg.Engine.TopP, "REEF_ENGINE_TOP_P")
	overrideFloat(&cfg.Engine.RepetitionPenalty, "REEF_ENGINE_REPETITION_PENALTY")
	overrideBool(&cfg.Engine.IterativePrompt, "REEF_ENGINE_ITERATIVE_PROMPT")
	overrideBool(&cfg.Provider.Enabled, "REEF_PROVIDER_ENABLED")
	overrideString(&cfg.Provider.Endpoint, "REEF_PROVIDER_ENDPOINT")
	overrideString(&cfg.Provider.APIKey, "REEF_PROVIDER_API_KEY")
	overrideString(&cfg.Provider.Model, "REEF_PROVIDER_MODEL")
	overrideString(&cfg.Provider.Format, "REEF_PROVIDER_FORMAT")
	overrideInt(&cfg.Provider.TimeoutMS, "REEF_PROVIDER_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "REEF_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "REEF_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "REEF_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRequests, "REEF_EVENT_STORE_MAX_REQUESTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "REEF_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Normalize.Enabled, "REEF_NORMALIZE_ENABLED")
	overrideString(&cfg.Normalize.Directory, "REEF_NORMALIZE_DIRECTORY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Engine.QueueSize < 0 {
		return errors.New("engine.queue_size must be >= 0")
	}
	if cfg.Engine.PollTimeoutMS <= 0 {
		return errors.New("engine.poll_timeout_ms must be positive")
	}
	if cfg.Engine.ChunkLength <= 0 {
		return errors.New("engine.chunk_length must be positive")
	}
	switch cfg.Engine.SessionMode {
	case "mock", "exec":
	default:
		return errors.New("engine.session_mode must be one of mock|exec")
	}
	if cfg.Engine.SessionMode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when session_mode=exec")
	}
	if cfg.Engine.MaxTokens <= 0 {
		return errors.New("engine.max_tokens must be positive")
	}
	if cfg.Engine.Temperature <= 0 {
		return errors.New("engine.temperature must be positive")
	}
	if cfg.Engine.TopP <= 0 || cfg.Engine.TopP > 1 {
		return errors.New("engine.top_p must be in (0, 1]")
	}
	if cfg.Engine.RepetitionPenalty < 1 {
		return errors.New("engine.repetition_penalty must be >= 1")
	}
	if cfg.Provider.Enabled {
		if cfg.Provider.Endpoint == "" {
			return errors.New("provider.endpoint must be set when provider is enabled")
		}
		if cfg.Provider.TimeoutMS <= 0 {
			return errors.New("provider.timeout_ms must be positive")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Normalize.Enabled && cfg.Normalize.Directory == "" {
		return errors.New("normalize.directory must not be empty when normalization is enabled")
	}
	return nil
}
