package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT",
	"STT_PROVIDER", "DEEPGRAM_API_KEY", "STT_MODEL", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
	"STT_AUDIO_ENCODING", "STT_INTERIM_RESULTS", "STT_DIARIZE",
	"TRANSCRIPT_MERGE_WINDOW_SECONDS", "TRANSCRIPT_IDLE_TIMEOUT", "TRANSCRIPT_PROMPT_BLOCKS",
	"LIMIT_MAX_SESSIONS", "LIMIT_MAX_AUDIO_BYTES", "LIMIT_MAX_SESSION_DURATION", "LIMIT_MAX_EVENTS_PER_REQUEST",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_UPDATED", "KAFKA_TOPIC_CLOSED", "KAFKA_PRINCIPAL",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "svc-copilot-transcript" {
		t.Errorf("expected default principal 'svc-copilot-transcript', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default grpc port '50051', got %s", cfg.Service.GRPCPort)
	}

	if cfg.STT.Provider != "none" {
		t.Errorf("expected default STT provider 'none', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults || !cfg.STT.Diarize {
		t.Errorf("expected interim results and diarization on by default, got %+v", cfg.STT)
	}

	if cfg.Transcript.MergeWindowSeconds != 0.5 {
		t.Errorf("expected default merge window 0.5, got %v", cfg.Transcript.MergeWindowSeconds)
	}
	if cfg.Transcript.IdleTimeout != 4*time.Second {
		t.Errorf("expected default idle timeout 4s, got %v", cfg.Transcript.IdleTimeout)
	}

	if cfg.Limits.MaxSessions != 200 {
		t.Errorf("expected default max sessions 200, got %d", cfg.Limits.MaxSessions)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Kafka.Principal != cfg.Service.Principal {
		t.Errorf("expected Kafka principal to default to service principal, got %s", cfg.Kafka.Principal)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("STT_PROVIDER", "Deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("STT_SAMPLE_RATE_HZ", "48000")
	t.Setenv("STT_DIARIZE", "false")
	t.Setenv("TRANSCRIPT_MERGE_WINDOW_SECONDS", "0.75")
	t.Setenv("TRANSCRIPT_IDLE_TIMEOUT", "6s")
	t.Setenv("LIMIT_MAX_AUDIO_BYTES", "1048576")
	t.Setenv("LIMIT_MAX_SESSION_DURATION", "45m")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "9999" {
		t.Errorf("expected http port '9999', got %s", cfg.Service.HTTPPort)
	}
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected lower-cased provider 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.DeepgramAPIKey != "dg-key" {
		t.Errorf("expected api key from env, got %s", cfg.STT.DeepgramAPIKey)
	}
	if cfg.STT.SampleRateHz != 48000 {
		t.Errorf("expected sample rate 48000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.Diarize {
		t.Error("expected diarization disabled")
	}
	if cfg.Transcript.MergeWindowSeconds != 0.75 {
		t.Errorf("expected merge window 0.75, got %v", cfg.Transcript.MergeWindowSeconds)
	}
	if cfg.Transcript.IdleTimeout != 6*time.Second {
		t.Errorf("expected idle timeout 6s, got %v", cfg.Transcript.IdleTimeout)
	}
	if cfg.Limits.MaxAudioBytes != 1048576 {
		t.Errorf("expected max audio bytes 1048576, got %d", cfg.Limits.MaxAudioBytes)
	}
	if cfg.Limits.MaxSessionDuration != 45*time.Minute {
		t.Errorf("expected max session duration 45m, got %v", cfg.Limits.MaxSessionDuration)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if want := []string{"kafka-1:9092", "kafka-2:9092"}; !reflect.DeepEqual(cfg.Kafka.Brokers, want) {
		t.Errorf("expected brokers %v, got %v", want, cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Principal != "custom-principal" {
		t.Errorf("expected Kafka principal to follow service principal, got %s", cfg.Kafka.Principal)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_INTERIM_RESULTS", "invalid")
	t.Setenv("TRANSCRIPT_MERGE_WINDOW_SECONDS", "-1")
	t.Setenv("TRANSCRIPT_IDLE_TIMEOUT", "soon")
	t.Setenv("LIMIT_MAX_AUDIO_BYTES", "invalid")
	t.Setenv("LIMIT_MAX_SESSIONS", "many")

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Error("expected default interim results on invalid input")
	}
	if cfg.Transcript.MergeWindowSeconds != 0.5 {
		t.Errorf("expected default merge window on invalid input, got %v", cfg.Transcript.MergeWindowSeconds)
	}
	if cfg.Transcript.IdleTimeout != 4*time.Second {
		t.Errorf("expected default idle timeout on invalid input, got %v", cfg.Transcript.IdleTimeout)
	}
	if cfg.Limits.MaxAudioBytes != 256*1024*1024 {
		t.Errorf("expected default max audio bytes on invalid input, got %d", cfg.Limits.MaxAudioBytes)
	}
	if cfg.Limits.MaxSessions != 200 {
		t.Errorf("expected default max sessions on invalid input, got %d", cfg.Limits.MaxSessions)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
stt:
  provider: mock
transcript:
  idle_timeout: 2500ms
  prompt_blocks: 20
kafka:
  brokers: [broker-a:9092]
  topic_closed: custom.closed
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TRANSCRIPT_PROMPT_BLOCKS", "5")

	cfg := Load()

	if cfg.STT.Provider != "mock" {
		t.Errorf("expected provider from file, got %s", cfg.STT.Provider)
	}
	if cfg.Transcript.IdleTimeout != 2500*time.Millisecond {
		t.Errorf("expected idle timeout from file, got %v", cfg.Transcript.IdleTimeout)
	}
	if cfg.Transcript.PromptBlocks != 5 {
		t.Errorf("expected env to override file, got %d", cfg.Transcript.PromptBlocks)
	}
	if cfg.Transcript.MergeWindowSeconds != 0.5 {
		t.Errorf("expected untouched default merge window, got %v", cfg.Transcript.MergeWindowSeconds)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "broker-a:9092" {
		t.Errorf("expected brokers from file, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicClosed != "custom.closed" {
		t.Errorf("expected closed topic from file, got %s", cfg.Kafka.TopicClosed)
	}
	if cfg.Kafka.TopicUpdated != "copilot.transcript.block.updated" {
		t.Errorf("expected default updated topic, got %s", cfg.Kafka.TopicUpdated)
	}
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := Load()

	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected defaults when file is missing, got %s", cfg.Service.HTTPPort)
	}
}

func TestDecode_UnknownField(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Decode(strings.NewReader("transcript:\n  merge_windw: 1\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestDecode_Empty(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Decode(strings.NewReader("")); err != nil {
		t.Errorf("expected empty document to be accepted, got %v", err)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)

			got := envOrDefaultBool("TEST_BOOL_VAR", tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
