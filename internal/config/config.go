// Package config loads service configuration from defaults, an optional YAML
// file, and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Limits        LimitsConfig        `yaml:"limits"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"http_port"`
	GRPCPort  string `yaml:"grpc_port"`
}

// STTConfig selects and tunes the speech-to-text provider used for audio
// sessions. Provider "none" accepts only relayed transcription events.
type STTConfig struct {
	Provider       string `yaml:"provider"`
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	Model          string `yaml:"model"`
	LanguageCode   string `yaml:"language_code"`
	SampleRateHz   int    `yaml:"sample_rate_hz"`
	AudioEncoding  string `yaml:"audio_encoding"`
	InterimResults bool   `yaml:"interim_results"`
	Diarize        bool   `yaml:"diarize"`
}

type TranscriptConfig struct {
	MergeWindowSeconds float64       `yaml:"merge_window_seconds"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	PromptBlocks       int           `yaml:"prompt_blocks"`
}

type LimitsConfig struct {
	MaxSessions         int           `yaml:"max_sessions"`
	MaxAudioBytes       int64         `yaml:"max_audio_bytes"`
	MaxSessionDuration  time.Duration `yaml:"max_session_duration"`
	MaxEventsPerRequest int           `yaml:"max_events_per_request"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicUpdated string   `yaml:"topic_updated"`
	TopicClosed  string   `yaml:"topic_closed"`
	Principal    string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal: "svc-copilot-transcript",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		STT: STTConfig{
			Provider:       "none",
			Model:          "nova-3",
			LanguageCode:   "en-US",
			SampleRateHz:   16000,
			AudioEncoding:  "LINEAR16",
			InterimResults: true,
			Diarize:        true,
		},
		Transcript: TranscriptConfig{
			MergeWindowSeconds: 0.5,
			IdleTimeout:        4 * time.Second,
			PromptBlocks:       12,
		},
		Limits: LimitsConfig{
			MaxSessions:         200,
			MaxAudioBytes:       256 * 1024 * 1024, // ~2h of 16kHz 16-bit mono per channel
			MaxSessionDuration:  3 * time.Hour,
			MaxEventsPerRequest: 500,
		},
		Kafka: KafkaConfig{
			TopicUpdated: "copilot.transcript.block.updated",
			TopicClosed:  "copilot.transcript.block.closed",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration. A file named by CONFIG_FILE is applied over
// the defaults; environment variables win over both. Unparseable values
// fall back to what was there before.
func Load() *Configuration {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring config file")
		}
	}

	cfg.applyEnv()
	return cfg
}

func (c *Configuration) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return c.Decode(f)
}

// Decode overlays YAML from r onto c. Keys absent from the document keep
// their current values.
func (c *Configuration) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)

	c.STT.Provider = strings.ToLower(envOrDefault("STT_PROVIDER", c.STT.Provider))
	c.STT.DeepgramAPIKey = envOrDefault("DEEPGRAM_API_KEY", c.STT.DeepgramAPIKey)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.Diarize = envOrDefaultBool("STT_DIARIZE", c.STT.Diarize)

	c.Transcript.MergeWindowSeconds = envOrDefaultFloat("TRANSCRIPT_MERGE_WINDOW_SECONDS", c.Transcript.MergeWindowSeconds)
	c.Transcript.IdleTimeout = envOrDefaultDuration("TRANSCRIPT_IDLE_TIMEOUT", c.Transcript.IdleTimeout)
	c.Transcript.PromptBlocks = envOrDefaultInt("TRANSCRIPT_PROMPT_BLOCKS", c.Transcript.PromptBlocks)

	c.Limits.MaxSessions = envOrDefaultInt("LIMIT_MAX_SESSIONS", c.Limits.MaxSessions)
	c.Limits.MaxAudioBytes = envOrDefaultInt64("LIMIT_MAX_AUDIO_BYTES", c.Limits.MaxAudioBytes)
	c.Limits.MaxSessionDuration = envOrDefaultDuration("LIMIT_MAX_SESSION_DURATION", c.Limits.MaxSessionDuration)
	c.Limits.MaxEventsPerRequest = envOrDefaultInt("LIMIT_MAX_EVENTS_PER_REQUEST", c.Limits.MaxEventsPerRequest)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.TopicUpdated = envOrDefault("KAFKA_TOPIC_UPDATED", c.Kafka.TopicUpdated)
	c.Kafka.TopicClosed = envOrDefault("KAFKA_TOPIC_CLOSED", c.Kafka.TopicClosed)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
