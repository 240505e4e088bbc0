package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	STTOpenAI   = "openai"
	STTCartesia = "cartesia"

	LLMOpenAI = "openai"
	LLMGemini = "gemini"
	LLMNone   = "none"
)

type Config struct {
	Addr string

	// AuthModeDisabled trusts a userId parameter instead of a signed token.
	// It is meant for local development only.
	AuthMode  AuthMode
	JWTSecret string
	JWTIssuer string
	JWTLeeway time.Duration

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Persistence. Empty DatabaseURL selects the in-memory store.
	DatabaseURL      string
	DatabaseMaxConns int

	// Coaching pipeline.
	DebounceWindow           time.Duration
	MinAudioBytes            int
	MaxAudioBytes            int
	MinTranscriptChars       int
	MaxTranscriptionFailures int
	RecentTranscripts        int
	TranscribeTimeout        time.Duration
	ContextTimeout           time.Duration
	LLMTimeout               time.Duration

	// ContextFile, when set, serves call/CRM context from a JSON fixture
	// instead of the store.
	ContextFile string

	// Speech-to-text.
	STTProvider string
	STTModel    string
	STTLanguage string
	STTFormat   string

	// Suggestion model.
	LLMProvider    string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	GeminiBaseURL   string
	CartesiaAPIKey  string
	CartesiaBaseURL string

	// Live WebSocket endpoint.
	HeartbeatInterval  time.Duration
	WSWriteTimeout     time.Duration
	WSMaxMessageBytes  int64
	WSHandshakeTimeout time.Duration
	MaxSessionsPerUser int

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  string
	LogFormat string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("COACH_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("COACH_AUTH_MODE", string(AuthModeRequired))),
		JWTSecret:                  os.Getenv("COACH_JWT_SECRET"),
		JWTIssuer:                  envOr("COACH_JWT_ISSUER", ""),
		JWTLeeway:                  envDurationOr("COACH_JWT_LEEWAY", 30*time.Second),
		TrustProxyHeaders:          envBoolOr("COACH_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("COACH_MAX_BODY_BYTES", 1<<20),
		CORSAllowedOrigins:         make(map[string]struct{}),
		DatabaseURL:                envOr("COACH_DATABASE_URL", ""),
		DatabaseMaxConns:           envIntOr("COACH_DATABASE_MAX_CONNS", 10),
		DebounceWindow:             envDurationOr("COACH_DEBOUNCE_WINDOW", 2*time.Second),
		MinAudioBytes:              envIntOr("COACH_MIN_AUDIO_BYTES", 4096),
		MaxAudioBytes:              envIntOr("COACH_MAX_AUDIO_BYTES", 8<<20),
		MinTranscriptChars:         envIntOr("COACH_MIN_TRANSCRIPT_CHARS", 3),
		MaxTranscriptionFailures:   envIntOr("COACH_MAX_TRANSCRIPTION_FAILURES", 3),
		RecentTranscripts:          envIntOr("COACH_RECENT_TRANSCRIPTS", 10),
		TranscribeTimeout:          envDurationOr("COACH_TRANSCRIBE_TIMEOUT", 20*time.Second),
		ContextTimeout:             envDurationOr("COACH_CONTEXT_TIMEOUT", 3*time.Second),
		ContextFile:                envOr("COACH_CONTEXT_FILE", ""),
		LLMTimeout:                 envDurationOr("COACH_LLM_TIMEOUT", 15*time.Second),
		STTProvider:                strings.ToLower(envOr("COACH_STT_PROVIDER", STTOpenAI)),
		STTModel:                   envOr("COACH_STT_MODEL", ""),
		STTLanguage:                envOr("COACH_STT_LANGUAGE", "en"),
		STTFormat:                  envOr("COACH_STT_FORMAT", "webm"),
		LLMProvider:                strings.ToLower(envOr("COACH_LLM_PROVIDER", LLMOpenAI)),
		LLMModel:                   envOr("COACH_LLM_MODEL", ""),
		LLMMaxTokens:               envIntOr("COACH_LLM_MAX_TOKENS", 400),
		LLMTemperature:             envFloat64Or("COACH_LLM_TEMPERATURE", 0.4),
		OpenAIAPIKey:               os.Getenv("COACH_OPENAI_API_KEY"),
		OpenAIBaseURL:              envOr("COACH_OPENAI_BASE_URL", ""),
		GeminiAPIKey:               os.Getenv("COACH_GEMINI_API_KEY"),
		GeminiBaseURL:              envOr("COACH_GEMINI_BASE_URL", ""),
		CartesiaAPIKey:             os.Getenv("COACH_CARTESIA_API_KEY"),
		CartesiaBaseURL:            envOr("COACH_CARTESIA_BASE_URL", ""),
		HeartbeatInterval:          envDurationOr("COACH_HEARTBEAT_INTERVAL", 30*time.Second),
		WSWriteTimeout:             envDurationOr("COACH_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:          envInt64Or("COACH_WS_MAX_MESSAGE_BYTES", 1<<20),
		WSHandshakeTimeout:         envDurationOr("COACH_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		MaxSessionsPerUser:         envIntOr("COACH_MAX_SESSIONS_PER_USER", 2),
		LimitRPS:                   envFloat64Or("COACH_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                 envIntOr("COACH_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests: envIntOr("COACH_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:          envDurationOr("COACH_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("COACH_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("COACH_TOTAL_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("COACH_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:                   strings.ToLower(envOr("COACH_LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("COACH_LOG_FORMAT", "text")),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("COACH_AUTH_MODE must be one of required|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("COACH_JWT_SECRET must be set when COACH_AUTH_MODE=required")
	}

	for _, origin := range splitCSV(os.Getenv("COACH_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("COACH_MAX_BODY_BYTES must be > 0")
	}
	if cfg.DatabaseMaxConns <= 0 {
		return Config{}, fmt.Errorf("COACH_DATABASE_MAX_CONNS must be > 0")
	}
	if cfg.DebounceWindow <= 0 {
		return Config{}, fmt.Errorf("COACH_DEBOUNCE_WINDOW must be > 0")
	}
	if cfg.MinAudioBytes < 0 {
		return Config{}, fmt.Errorf("COACH_MIN_AUDIO_BYTES must be >= 0")
	}
	if cfg.MaxAudioBytes <= cfg.MinAudioBytes {
		return Config{}, fmt.Errorf("COACH_MAX_AUDIO_BYTES must be > COACH_MIN_AUDIO_BYTES")
	}
	if cfg.MinTranscriptChars <= 0 {
		return Config{}, fmt.Errorf("COACH_MIN_TRANSCRIPT_CHARS must be > 0")
	}
	if cfg.MaxTranscriptionFailures <= 0 {
		return Config{}, fmt.Errorf("COACH_MAX_TRANSCRIPTION_FAILURES must be > 0")
	}
	if cfg.RecentTranscripts <= 0 {
		return Config{}, fmt.Errorf("COACH_RECENT_TRANSCRIPTS must be > 0")
	}
	if cfg.TranscribeTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_TRANSCRIBE_TIMEOUT must be > 0")
	}
	if cfg.ContextTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_CONTEXT_TIMEOUT must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_LLM_TIMEOUT must be > 0")
	}

	switch cfg.STTProvider {
	case STTOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("COACH_OPENAI_API_KEY must be set when COACH_STT_PROVIDER=openai")
		}
	case STTCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("COACH_CARTESIA_API_KEY must be set when COACH_STT_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("COACH_STT_PROVIDER must be one of openai|cartesia")
	}

	switch cfg.LLMProvider {
	case LLMOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("COACH_OPENAI_API_KEY must be set when COACH_LLM_PROVIDER=openai")
		}
	case LLMGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("COACH_GEMINI_API_KEY must be set when COACH_LLM_PROVIDER=gemini")
		}
	case LLMNone:
	default:
		return Config{}, fmt.Errorf("COACH_LLM_PROVIDER must be one of openai|gemini|none")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COACH_LLM_MAX_TOKENS must be > 0")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("COACH_LLM_TEMPERATURE must be within [0,2]")
	}

	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("COACH_HEARTBEAT_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("COACH_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxSessionsPerUser < 0 {
		return Config{}, fmt.Errorf("COACH_MAX_SESSIONS_PER_USER must be >= 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("COACH_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("COACH_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("COACH_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COACH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	switch cfg.LogFormat {
	case "text", "json", "logfmt":
	default:
		return Config{}, fmt.Errorf("COACH_LOG_FORMAT must be one of text|json|logfmt")
	}

	return cfg, nil
}
func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
