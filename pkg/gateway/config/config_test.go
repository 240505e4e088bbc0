package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"COACH_ADDR",
	"COACH_AUTH_MODE",
	"COACH_JWT_SECRET",
	"COACH_JWT_ISSUER",
	"COACH_JWT_LEEWAY",
	"COACH_TRUST_PROXY_HEADERS",
	"COACH_MAX_BODY_BYTES",
	"COACH_CORS_ORIGINS",
	"COACH_DATABASE_URL",
	"COACH_DATABASE_MAX_CONNS",
	"COACH_DEBOUNCE_WINDOW",
	"COACH_MIN_AUDIO_BYTES",
	"COACH_MAX_AUDIO_BYTES",
	"COACH_MIN_TRANSCRIPT_CHARS",
	"COACH_MAX_TRANSCRIPTION_FAILURES",
	"COACH_RECENT_TRANSCRIPTS",
	"COACH_TRANSCRIBE_TIMEOUT",
	"COACH_CONTEXT_TIMEOUT",
	"COACH_CONTEXT_FILE",
	"COACH_LLM_TIMEOUT",
	"COACH_STT_PROVIDER",
	"COACH_STT_MODEL",
	"COACH_STT_LANGUAGE",
	"COACH_STT_FORMAT",
	"COACH_LLM_PROVIDER",
	"COACH_LLM_MODEL",
	"COACH_LLM_MAX_TOKENS",
	"COACH_LLM_TEMPERATURE",
	"COACH_OPENAI_API_KEY",
	"COACH_OPENAI_BASE_URL",
	"COACH_GEMINI_API_KEY",
	"COACH_GEMINI_BASE_URL",
	"COACH_CARTESIA_API_KEY",
	"COACH_CARTESIA_BASE_URL",
	"COACH_HEARTBEAT_INTERVAL",
	"COACH_WS_WRITE_TIMEOUT",
	"COACH_WS_MAX_MESSAGE_BYTES",
	"COACH_WS_HANDSHAKE_TIMEOUT",
	"COACH_MAX_SESSIONS_PER_USER",
	"COACH_RATE_LIMIT_RPS",
	"COACH_RATE_LIMIT_BURST",
	"COACH_MAX_CONCURRENT_REQUESTS",
	"COACH_READ_HEADER_TIMEOUT",
	"COACH_READ_TIMEOUT",
	"COACH_TOTAL_REQUEST_TIMEOUT",
	"COACH_SHUTDOWN_GRACE_PERIOD",
	"COACH_LOG_LEVEL",
	"COACH_LOG_FORMAT",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

// setMinimalEnv satisfies the required secrets so individual tests only set
// what they exercise.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	clearGatewayEnv(t)
	t.Setenv("COACH_JWT_SECRET", "test-secret")
	t.Setenv("COACH_OPENAI_API_KEY", "sk-test")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode=%q", cfg.AuthMode)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL=%q, want empty (memory store)", cfg.DatabaseURL)
	}
	if cfg.DebounceWindow != 2*time.Second {
		t.Fatalf("DebounceWindow=%v", cfg.DebounceWindow)
	}
	if cfg.MinAudioBytes != 4096 {
		t.Fatalf("MinAudioBytes=%d", cfg.MinAudioBytes)
	}
	if cfg.MinTranscriptChars != 3 {
		t.Fatalf("MinTranscriptChars=%d", cfg.MinTranscriptChars)
	}
	if cfg.MaxTranscriptionFailures != 3 {
		t.Fatalf("MaxTranscriptionFailures=%d", cfg.MaxTranscriptionFailures)
	}
	if cfg.RecentTranscripts != 10 {
		t.Fatalf("RecentTranscripts=%d", cfg.RecentTranscripts)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("HeartbeatInterval=%v", cfg.HeartbeatInterval)
	}
	if cfg.STTProvider != STTOpenAI || cfg.LLMProvider != LLMOpenAI {
		t.Fatalf("providers=%q/%q", cfg.STTProvider, cfg.LLMProvider)
	}
	if cfg.LLMMaxTokens != 400 {
		t.Fatalf("LLMMaxTokens=%d", cfg.LLMMaxTokens)
	}
	if cfg.MaxSessionsPerUser != 2 {
		t.Fatalf("MaxSessionsPerUser=%d", cfg.MaxSessionsPerUser)
	}
	if cfg.LimitRPS != 5 || cfg.LimitBurst != 10 {
		t.Fatalf("limits rps=%v burst=%d", cfg.LimitRPS, cfg.LimitBurst)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("log=%q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsSecret(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("COACH_OPENAI_API_KEY", "sk-test")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "COACH_JWT_SECRET") {
		t.Fatalf("err=%v, want JWT secret error", err)
	}

	t.Setenv("COACH_AUTH_MODE", "disabled")
	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("disabled auth should not need a secret: %v", err)
	}
}

func TestLoadFromEnv_ProviderKeys(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "cartesia stt needs key",
			env:       map[string]string{"COACH_STT_PROVIDER": "cartesia"},
			errSubstr: "COACH_CARTESIA_API_KEY",
		},
		{
			name:      "gemini llm needs key",
			env:       map[string]string{"COACH_LLM_PROVIDER": "gemini"},
			errSubstr: "COACH_GEMINI_API_KEY",
		},
		{
			name:      "unknown stt provider",
			env:       map[string]string{"COACH_STT_PROVIDER": "deepgram"},
			errSubstr: "COACH_STT_PROVIDER",
		},
		{
			name:      "unknown llm provider",
			env:       map[string]string{"COACH_LLM_PROVIDER": "llama"},
			errSubstr: "COACH_LLM_PROVIDER",
		},
		{
			name: "none llm with cartesia stt needs no openai key",
			env: map[string]string{
				"COACH_OPENAI_API_KEY":   "",
				"COACH_STT_PROVIDER":     "cartesia",
				"COACH_CARTESIA_API_KEY": "ck",
				"COACH_LLM_PROVIDER":     "none",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if tc.errSubstr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("err=%v, want substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestLoadFromEnv_ParsesCSVOrigins(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("COACH_CORS_ORIGINS", " https://app.example.com , ,https://admin.example.com ")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://admin.example.com"]; !ok {
		t.Fatalf("missing admin origin: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_InvalidDurationsAndBounds(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{name: "bad auth mode", env: map[string]string{"COACH_AUTH_MODE": "maybe"}, errSubstr: "COACH_AUTH_MODE"},
		{name: "zero debounce", env: map[string]string{"COACH_DEBOUNCE_WINDOW": "0s"}, errSubstr: "COACH_DEBOUNCE_WINDOW"},
		{name: "negative min audio", env: map[string]string{"COACH_MIN_AUDIO_BYTES": "-1"}, errSubstr: "COACH_MIN_AUDIO_BYTES"},
		{name: "max audio below min", env: map[string]string{"COACH_MIN_AUDIO_BYTES": "100", "COACH_MAX_AUDIO_BYTES": "50"}, errSubstr: "COACH_MAX_AUDIO_BYTES"},
		{name: "zero transcript chars", env: map[string]string{"COACH_MIN_TRANSCRIPT_CHARS": "0"}, errSubstr: "COACH_MIN_TRANSCRIPT_CHARS"},
		{name: "zero failure threshold", env: map[string]string{"COACH_MAX_TRANSCRIPTION_FAILURES": "0"}, errSubstr: "COACH_MAX_TRANSCRIPTION_FAILURES"},
		{name: "zero heartbeat", env: map[string]string{"COACH_HEARTBEAT_INTERVAL": "0s"}, errSubstr: "COACH_HEARTBEAT_INTERVAL"},
		{name: "temperature too high", env: map[string]string{"COACH_LLM_TEMPERATURE": "3"}, errSubstr: "COACH_LLM_TEMPERATURE"},
		{name: "negative sessions per user", env: map[string]string{"COACH_MAX_SESSIONS_PER_USER": "-2"}, errSubstr: "COACH_MAX_SESSIONS_PER_USER"},
		{name: "negative rps", env: map[string]string{"COACH_RATE_LIMIT_RPS": "-1"}, errSubstr: "COACH_RATE_LIMIT_RPS"},
		{name: "zero shutdown grace", env: map[string]string{"COACH_SHUTDOWN_GRACE_PERIOD": "0s"}, errSubstr: "COACH_SHUTDOWN_GRACE_PERIOD"},
		{name: "bad log format", env: map[string]string{"COACH_LOG_FORMAT": "xml"}, errSubstr: "COACH_LOG_FORMAT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error=%q, want substring %q", err.Error(), tc.errSubstr)
			}
		})
	}
}
