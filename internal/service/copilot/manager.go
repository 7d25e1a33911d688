package copilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/observability/metrics"
	"copilot-transcript-service/internal/service/segment"
	"copilot-transcript-service/internal/service/stt"
	"copilot-transcript-service/internal/service/transcript"
)

// Config holds session manager configuration.
type Config struct {
	Transcript       transcript.Config
	Limits           Limits
	MaxSessions      int
	Channels         []string // Audio channels opened when a session starts
	OutboxSize       int
	SubscriberBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transcript:       transcript.DefaultConfig(),
		Limits:           DefaultLimits(),
		MaxSessions:      200,
		Channels:         []string{models.LocalChannel, models.RemoteChannel},
		OutboxSize:       1024,
		SubscriberBuffer: 256,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where block events are published.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithSTT opens an STT stream per configured channel for every new session.
func WithSTT(provider string, f stt.Factory) Option {
	return func(m *Manager) {
		m.provider = provider
		m.stt = f
	}
}

// WithClock sets the clock driving idle timeouts.
func WithClock(c transcript.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithNow sets the wall clock used for session age and event timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(next func() string) Option {
	return func(m *Manager) {
		m.newID = next
	}
}

// Manager tracks the live sessions of the process.
type Manager struct {
	cfg       Config
	publisher Publisher
	provider  string
	stt       stt.Factory
	clock     transcript.Clock
	now       func() time.Time
	newID     func() string
	blockIDs  *segment.Generator
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	draining bool
}

// NewManager creates a session manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	d := DefaultConfig()
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = d.OutboxSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = d.SubscriberBuffer
	}
	if cfg.Channels == nil {
		cfg.Channels = d.Channels
	}

	m := &Manager{
		cfg:      cfg,
		provider: "none",
		now:      time.Now,
		newID:    uuid.NewString,
		blockIDs: segment.New(),
		log:      logging.WithComponent("session-manager"),
		metrics:  metrics.DefaultMetrics,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create starts a new session and, when an STT provider is configured, its
// audio streams.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.metrics.RecordLimitExceeded("sessions")
		return nil, ErrTooManySessions
	}
	s := newSession(m.newID(), m)
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.RecordSessionStart()

	if m.stt != nil {
		for _, ch := range m.cfg.Channels {
			if err := s.StartChannel(ctx, ch, m.stt); err != nil {
				m.metrics.RecordSTTError(m.provider, "start")
				_ = m.End(s.id)
				return nil, err
			}
		}
	}

	s.log.Info().Str("sttProvider", m.provider).Msg("Session created")
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// End closes and forgets a session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Ready reports whether a new session would be admitted.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.draining && (m.cfg.MaxSessions <= 0 || len(m.sessions) < m.cfg.MaxSessions)
}

// Reap ends every session past its maximum duration and returns how many.
func (m *Manager) Reap() int {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.Expired() {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if err := m.End(id); err == nil {
			n++
			m.log.Info().Str("sessionId", id).Msg("Expired session reaped")
		}
	}
	return n
}

// Run reaps expired sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap()
		}
	}
}

// CloseAll stops admitting sessions and closes every live one.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.draining = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				s.log.Error().Err(err).Msg("Error closing session")
			}
		}(s)
	}
	wg.Wait()
	m.log.Info().Int("sessions", len(sessions)).Msg("All sessions closed")
}
