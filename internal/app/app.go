package app

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/config"
	"copilot-transcript-service/internal/events"
	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/service/copilot"
	"copilot-transcript-service/internal/service/stt"
	"copilot-transcript-service/internal/service/stt/deepgram"
	"copilot-transcript-service/internal/service/stt/google"
	"copilot-transcript-service/internal/service/stt/mock"
	"copilot-transcript-service/internal/service/transcript"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Publisher   *events.Publisher
	Sessions    *copilot.Manager
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	factory, err := STTFactory(cfg.STT)
	if err != nil {
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Brokers:      cfg.Kafka.Brokers,
		TopicUpdated: cfg.Kafka.TopicUpdated,
		TopicClosed:  cfg.Kafka.TopicClosed,
		Principal:    cfg.Kafka.Principal,
		Enabled:      cfg.Kafka.Enabled,
	})

	opts := []copilot.Option{copilot.WithPublisher(a.Publisher)}
	if factory != nil {
		opts = append(opts, copilot.WithSTT(cfg.STT.Provider, factory))
	}
	a.Sessions = copilot.NewManager(SessionConfig(cfg), opts...)

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("Copilot transcript service application created")
	return a, nil
}

// SessionConfig maps service configuration onto the session manager.
func SessionConfig(cfg *config.Configuration) copilot.Config {
	c := copilot.DefaultConfig()
	c.Transcript = transcript.Config{
		MergeWindow: cfg.Transcript.MergeWindowSeconds,
		IdleTimeout: cfg.Transcript.IdleTimeout,
	}
	c.Limits = copilot.Limits{
		MaxAudioBytes:       cfg.Limits.MaxAudioBytes,
		MaxDuration:         cfg.Limits.MaxSessionDuration,
		MaxEventsPerRequest: cfg.Limits.MaxEventsPerRequest,
	}
	c.MaxSessions = cfg.Limits.MaxSessions
	c.Channels = []string{models.LocalChannel, models.RemoteChannel}
	return c
}

// STTFactory selects the speech-to-text provider. Provider "none" returns a
// nil factory: sessions then accept only relayed transcription events.
func STTFactory(cfg config.STTConfig) (stt.Factory, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "mock":
		return mock.Factory(), nil
	case "deepgram":
		dg := deepgram.DefaultConfig()
		dg.APIKey = cfg.DeepgramAPIKey
		dg.Model = cfg.Model
		dg.Language = cfg.LanguageCode
		dg.Encoding = cfg.AudioEncoding
		dg.SampleRateHz = cfg.SampleRateHz
		dg.InterimResults = cfg.InterimResults
		dg.Diarize = cfg.Diarize
		if dg.APIKey == "" {
			return nil, deepgram.ErrMissingAPIKey
		}
		return deepgram.Factory(dg), nil
	case "google":
		g := google.DefaultConfig()
		g.LanguageCode = cfg.LanguageCode
		g.SampleRateHz = cfg.SampleRateHz
		g.AudioEncoding = cfg.AudioEncoding
		g.InterimResults = cfg.InterimResults
		g.Diarize = cfg.Diarize
		return google.Factory(g), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if os.Getenv("ENV") == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.Logger().With().
		Str("service", "copilot-transcript-service").
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Ready reports whether the service admits new sessions.
func (a *Application) Ready() bool {
	return a.Sessions.Ready()
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Copilot transcript service starting")

	return nil
}

// Shutdown closes every session, flushing their block events, then the publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int("sessions", a.Sessions.Count()).Msg("Copilot transcript service shutting down")
	a.Sessions.CloseAll()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Error closing publisher")
	}
}
