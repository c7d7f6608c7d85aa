package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Source        SourceConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Voice         VoiceConfig
	Audit         AuditConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig describes the DuckDB file queried by the executor.
type StoreConfig struct {
	Path             string
	MaxRows          int
	ExecutionTimeout time.Duration
	SchemaSampleRows int
}

type SourceConfig struct {
	Directory string
	ObjectKey string
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type AIConfig struct {
	Provider               string
	BaseURL                string
	APIKey                 string
	Model                  string
	SynthesisTemperature   float64
	SynthesisMaxTokens     int
	CompositionEnabled     bool
	CompositionTemperature float64
	CompositionMaxTokens   int
	CompositionMaxRows     int
	CompositionMaxColumns  int
	HistoryTurns           int
	Timeout                time.Duration
	FixturePath            string
}

type VoiceConfig struct {
	Enabled            bool
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	SpeechModel        string
	DefaultVoice       string
	Language           string
	Timeout            time.Duration
	MaxAudioBytes      int64
}

type AuditConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type SessionConfig struct {
	MaxSessions int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadFromEnv reads an optional .env file and then the process environment.
// Variables already present in the environment win over the file.
func LoadFromEnv(serviceName string) (Config, error) {
	_ = godotenv.Load()
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("CLINQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid CLINQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "CLINQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "CLINQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "CLINQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "CLINQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "CLINQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "CLINQUERY_STORE_PATH", &cfg.Store.Path) },
		func() error { return applyInt(lookup, "CLINQUERY_STORE_MAX_ROWS", &cfg.Store.MaxRows) },
		func() error {
			return applyDuration(lookup, "CLINQUERY_STORE_EXECUTION_TIMEOUT", &cfg.Store.ExecutionTimeout)
		},
		func() error { return applyInt(lookup, "CLINQUERY_STORE_SCHEMA_SAMPLE_ROWS", &cfg.Store.SchemaSampleRows) },

		func() error { return applyString(lookup, "CLINQUERY_SOURCE_DIR", &cfg.Source.Directory) },
		func() error { return applyString(lookup, "CLINQUERY_SOURCE_OBJECT_KEY", &cfg.Source.ObjectKey) },

		func() error { return applyBool(lookup, "CLINQUERY_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "CLINQUERY_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "CLINQUERY_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "CLINQUERY_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "CLINQUERY_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "CLINQUERY_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "CLINQUERY_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "CLINQUERY_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "CLINQUERY_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "CLINQUERY_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "CLINQUERY_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "CLINQUERY_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "CLINQUERY_AI_MODEL", &cfg.AI.Model) },
		func() error {
			return applyFloat(lookup, "CLINQUERY_AI_SYNTHESIS_TEMPERATURE", &cfg.AI.SynthesisTemperature)
		},
		func() error { return applyInt(lookup, "CLINQUERY_AI_SYNTHESIS_MAX_TOKENS", &cfg.AI.SynthesisMaxTokens) },
		func() error { return applyBool(lookup, "CLINQUERY_AI_COMPOSITION_ENABLED", &cfg.AI.CompositionEnabled) },
		func() error {
			return applyFloat(lookup, "CLINQUERY_AI_COMPOSITION_TEMPERATURE", &cfg.AI.CompositionTemperature)
		},
		func() error { return applyInt(lookup, "CLINQUERY_AI_COMPOSITION_MAX_TOKENS", &cfg.AI.CompositionMaxTokens) },
		func() error { return applyInt(lookup, "CLINQUERY_AI_COMPOSITION_MAX_ROWS", &cfg.AI.CompositionMaxRows) },
		func() error {
			return applyInt(lookup, "CLINQUERY_AI_COMPOSITION_MAX_COLUMNS", &cfg.AI.CompositionMaxColumns)
		},
		func() error { return applyInt(lookup, "CLINQUERY_AI_HISTORY_TURNS", &cfg.AI.HistoryTurns) },
		func() error { return applyDuration(lookup, "CLINQUERY_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyString(lookup, "CLINQUERY_AI_FIXTURE_PATH", &cfg.AI.FixturePath) },

		func() error { return applyBool(lookup, "CLINQUERY_VOICE_ENABLED", &cfg.Voice.Enabled) },
		func() error { return applyString(lookup, "CLINQUERY_VOICE_BASE_URL", &cfg.Voice.BaseURL) },
		func() error { return applyString(lookup, "CLINQUERY_VOICE_API_KEY", &cfg.Voice.APIKey) },
		func() error {
			return applyString(lookup, "CLINQUERY_VOICE_TRANSCRIPTION_MODEL", &cfg.Voice.TranscriptionModel)
		},
		func() error { return applyString(lookup, "CLINQUERY_VOICE_SPEECH_MODEL", &cfg.Voice.SpeechModel) },
		func() error { return applyString(lookup, "CLINQUERY_VOICE_DEFAULT_VOICE", &cfg.Voice.DefaultVoice) },
		func() error { return applyString(lookup, "CLINQUERY_VOICE_LANGUAGE", &cfg.Voice.Language) },
		func() error { return applyDuration(lookup, "CLINQUERY_VOICE_TIMEOUT", &cfg.Voice.Timeout) },
		func() error { return applyInt64(lookup, "CLINQUERY_VOICE_MAX_AUDIO_BYTES", &cfg.Voice.MaxAudioBytes) },

		func() error { return applyString(lookup, "CLINQUERY_AUDIT_DSN", &cfg.Audit.DSN) },
		func() error { return applyInt(lookup, "CLINQUERY_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns) },
		func() error { return applyInt(lookup, "CLINQUERY_AUDIT_MAX_IDLE_CONNS", &cfg.Audit.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "CLINQUERY_AUDIT_CONN_MAX_IDLE_TIME", &cfg.Audit.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "CLINQUERY_AUDIT_CONN_MAX_LIFETIME", &cfg.Audit.ConnMaxLifetime)
		},

		func() error { return applyInt(lookup, "CLINQUERY_SESSION_MAX_SESSIONS", &cfg.Session.MaxSessions) },

		func() error { return applyBool(lookup, "CLINQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "CLINQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "CLINQUERY_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "CLINQUERY_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if !isValidProvider(cfg.AI.Provider) {
		return Config{}, fmt.Errorf("invalid CLINQUERY_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Provider == ProviderGemini && cfg.AI.BaseURL == defaultOpenAIBaseURL {
		cfg.AI.BaseURL = ""
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultModel(cfg.AI.Provider)
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Store.MaxRows <= 0 {
		return Config{}, fmt.Errorf("CLINQUERY_STORE_MAX_ROWS must be positive")
	}
	if cfg.Store.ExecutionTimeout <= 0 {
		return Config{}, fmt.Errorf("CLINQUERY_STORE_EXECUTION_TIMEOUT must be positive")
	}
	if cfg.AI.Timeout <= 0 {
		return Config{}, fmt.Errorf("CLINQUERY_AI_TIMEOUT must be positive")
	}
	return cfg, nil
}

const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderFixture = "fixture"

	defaultOpenAIBaseURL = "https://api.openai.com"
)

func DefaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.0-flash-exp"
	case ProviderFixture:
		return "fixture"
	default:
		return "gpt-4-turbo-preview"
	}
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "clinquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Path:             "data/clinquery.duckdb",
			MaxRows:          1000,
			ExecutionTimeout: 10 * time.Second,
			SchemaSampleRows: 3,
		},
		Source: SourceConfig{
			Directory: "data",
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "clinquery",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		AI: AIConfig{
			Provider:               ProviderOpenAI,
			BaseURL:                defaultOpenAIBaseURL,
			SynthesisTemperature:   0.1,
			SynthesisMaxTokens:     500,
			CompositionEnabled:     true,
			CompositionTemperature: 0.5,
			CompositionMaxTokens:   300,
			CompositionMaxRows:     20,
			CompositionMaxColumns:  8,
			HistoryTurns:           3,
			Timeout:                30 * time.Second,
		},
		Voice: VoiceConfig{
			Enabled:            false,
			BaseURL:            defaultOpenAIBaseURL,
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			DefaultVoice:       "alloy",
			Language:           "en",
			Timeout:            60 * time.Second,
			MaxAudioBytes:      25 << 20,
		},
		Audit: AuditConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Session: SessionConfig{
			MaxSessions: 256,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.AI.Provider = ProviderFixture
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderGemini, ProviderFixture:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
