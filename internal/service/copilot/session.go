// Package copilot hosts live interview sessions. A session owns one
// transcript engine, the STT streams feeding it, the stream subscribers
// reading it and the outbox publishing its changes.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/observability/metrics"
	"copilot-transcript-service/internal/schema"
	"copilot-transcript-service/internal/service/segment"
	"copilot-transcript-service/internal/service/stt"
	"copilot-transcript-service/internal/service/transcript"
)

// Limits bounds the resources of one session.
type Limits struct {
	MaxAudioBytes       int64         // Total audio across all channels
	MaxDuration         time.Duration // Wall time since the session started
	MaxEventsPerRequest int           // Events in one ingest batch
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes:       256 * 1024 * 1024, // ~2.3 hours of 16kHz 16-bit mono
		MaxDuration:         3 * time.Hour,
		MaxEventsPerRequest: 500,
	}
}

// Publisher receives every block event of a session, in revision order.
type Publisher interface {
	Publish(ctx context.Context, ev models.BlockEvent) error
}

const publishTimeout = 5 * time.Second

// Session is one live interview. Safe for concurrent use.
type Session struct {
	id        string
	startedAt time.Time
	now       func() time.Time
	engine    *transcript.Engine
	limits    Limits
	log       zerolog.Logger
	metrics   *metrics.Metrics
	provider  string

	mu         sync.Mutex
	adapters   map[string]stt.Adapter
	audioBytes int64
	closed     bool

	subMu  sync.Mutex
	subs   map[uint64]chan models.BlockEvent
	subSeq uint64
	subBuf int

	publisher  Publisher
	outbox     chan models.BlockEvent
	outboxDone chan struct{}
}

func newSession(id string, m *Manager) *Session {
	s := &Session{
		id:         id,
		now:        m.now,
		startedAt:  m.now(),
		limits:     m.cfg.Limits,
		log:        logging.WithSession(id),
		metrics:    m.metrics,
		provider:   m.provider,
		adapters:   make(map[string]stt.Adapter),
		subs:       make(map[uint64]chan models.BlockEvent),
		subBuf:     m.cfg.SubscriberBuffer,
		publisher:  m.publisher,
		outbox:     make(chan models.BlockEvent, m.cfg.OutboxSize),
		outboxDone: make(chan struct{}),
	}

	opts := []transcript.Option{
		transcript.WithConfig(m.cfg.Transcript),
		transcript.WithChangeFunc(s.onChange),
		transcript.WithIDGenerator(m.blockIDs.For(id)),
	}
	if m.clock != nil {
		opts = append(opts, transcript.WithClock(m.clock))
	}
	s.engine = transcript.New(opts...)

	go s.drainOutbox()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Info is the externally visible state of a session.
type Info struct {
	SessionID string             `json:"sessionId"`
	StartedAt time.Time          `json:"startedAt"`
	Revision  uint64             `json:"revision"`
	Speakers  []string           `json:"speakers"`
	Channels  []string           `json:"channels"`
	Blocks    []transcript.Block `json:"blocks"`
}

// Info returns a consistent view of the session.
func (s *Session) Info() Info {
	info := Info{
		SessionID: s.id,
		StartedAt: s.startedAt,
		Channels:  s.Channels(),
	}
	s.engine.View(func(blocks []transcript.Block, speakers []string, revision uint64) {
		info.Blocks = blocks
		info.Speakers = speakers
		info.Revision = revision
	})
	return info
}

// Channels lists the audio channels with a running STT stream.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.adapters))
	for _, ch := range []string{models.LocalChannel, models.RemoteChannel} {
		if _, ok := s.adapters[ch]; ok {
			out = append(out, ch)
		}
	}
	for ch := range s.adapters {
		if ch != models.LocalChannel && ch != models.RemoteChannel {
			out = append(out, ch)
		}
	}
	return out
}

// Blocks returns the transcript in creation order.
func (s *Session) Blocks() []transcript.Block {
	return s.engine.Blocks()
}

// Transcript renders the last n blocks for a prompt; n <= 0 renders all.
func (s *Session) Transcript(n int) string {
	return s.engine.Format(n)
}

// check reports whether the session accepts external calls.
func (s *Session) check() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if s.Expired() {
		s.metrics.RecordLimitExceeded("session_duration")
		return ErrSessionExpired
	}
	return nil
}

// Expired reports whether the session outlived its maximum duration.
func (s *Session) Expired() bool {
	return s.limits.MaxDuration > 0 && s.now().Sub(s.startedAt) > s.limits.MaxDuration
}

// Ingest feeds one transcription event into the transcript.
func (s *Session) Ingest(ev models.TranscriptionEvent) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.ingest(ev)
}

func (s *Session) ingest(ev models.TranscriptionEvent) error {
	if err := s.engine.Accept(ev); err != nil {
		if errors.Is(err, transcript.ErrStopped) {
			return ErrSessionClosed
		}
		s.metrics.RecordEventRejected(schema.Reason(err))
		s.log.Debug().Err(err).Str("channel", ev.Channel).Msg("Transcription event rejected")
		return err
	}
	s.metrics.RecordEventAccepted(ev.IsLocal(), ev.IsFinal)
	return nil
}

// IngestResult counts the outcome of a batch.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// IngestRaw decodes one relay message or an array of them and feeds every
// valid event. Invalid elements are counted and skipped.
func (s *Session) IngestRaw(data []byte) (IngestResult, error) {
	var res IngestResult
	if err := s.check(); err != nil {
		return res, err
	}

	evs, decodeErrs, err := models.DecodeTranscriptionEvents(data)
	if err != nil {
		s.metrics.RecordEventRejected("malformed")
		return res, err
	}
	if limit := s.limits.MaxEventsPerRequest; limit > 0 && len(evs)+len(decodeErrs) > limit {
		s.metrics.RecordLimitExceeded("events_per_request")
		return res, fmt.Errorf("%w: %d events in one request, max %d", ErrLimitExceeded, len(evs)+len(decodeErrs), limit)
	}

	for _, derr := range decodeErrs {
		s.metrics.RecordEventRejected(schema.Reason(derr))
		res.Rejected++
	}
	for _, ev := range evs {
		if err := s.ingest(ev); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return res, err
			}
			res.Rejected++
			continue
		}
		res.Accepted++
	}
	return res, nil
}

// Reset clears the transcript and speaker labels.
func (s *Session) Reset() error {
	if err := s.check(); err != nil {
		return err
	}
	s.engine.Reset()
	s.log.Info().Msg("Transcript reset")
	return nil
}

// StartChannel opens an STT stream for an audio channel.
func (s *Session) StartChannel(ctx context.Context, channel string, factory stt.Factory) error {
	if err := s.check(); err != nil {
		return err
	}
	adapter, err := factory(ctx, channel)
	if err != nil {
		return fmt.Errorf("create %s adapter for channel %s: %w", s.provider, channel, err)
	}
	if err := adapter.Start(ctx, s); err != nil {
		_ = adapter.Close()
		return fmt.Errorf("start %s stream for channel %s: %w", s.provider, channel, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = adapter.Close()
		return ErrSessionClosed
	}
	old := s.adapters[channel]
	s.adapters[channel] = adapter
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	streamLog := logging.WithStream(s.id, channel, s.provider)
	streamLog.Info().Msg("STT stream started")
	return nil
}

// SendAudio forwards audio for one channel to its STT stream.
func (s *Session) SendAudio(ctx context.Context, channel string, audio []byte) error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	adapter, ok := s.adapters[channel]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if s.limits.MaxAudioBytes > 0 && s.audioBytes+int64(len(audio)) > s.limits.MaxAudioBytes {
		total := s.audioBytes + int64(len(audio))
		s.mu.Unlock()
		s.metrics.RecordLimitExceeded("audio_bytes")
		return fmt.Errorf("%w: max audio bytes exceeded: %d > %d", ErrLimitExceeded, total, s.limits.MaxAudioBytes)
	}
	s.audioBytes += int64(len(audio))
	s.mu.Unlock()

	s.metrics.RecordAudioReceived(channel, len(audio))
	return adapter.SendAudio(ctx, audio)
}

// --- stt.Callback implementation ---

// OnTranscript feeds a provider hypothesis. Hypotheses flushed while the
// session is closing are still applied.
func (s *Session) OnTranscript(ev models.TranscriptionEvent) {
	_ = s.ingest(ev)
}

// OnError logs a provider failure. The transcript keeps what it has.
func (s *Session) OnError(err error) {
	s.log.Error().Err(err).Str("sttProvider", s.provider).Msg("STT stream error")
}

// Subscribe returns the current transcript as snapshot events together with
// a channel of every later change. The channel is closed when the session
// closes, when cancel is called, or when the subscriber falls behind.
func (s *Session) Subscribe() (snapshot []models.BlockEvent, events <-chan models.BlockEvent, cancel func(), err error) {
	if err := s.check(); err != nil {
		return nil, nil, nil, err
	}

	ch := make(chan models.BlockEvent, s.subBuf)
	var id uint64
	registered := false
	s.engine.View(func(blocks []transcript.Block, _ []string, revision uint64) {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		ts := s.now().UnixMilli()
		snapshot = make([]models.BlockEvent, 0, len(blocks))
		for _, b := range blocks {
			snapshot = append(snapshot, models.BlockEvent{
				EventType: models.EventBlockSnapshot,
				SessionID: s.id,
				BlockID:   b.ID,
				Speaker:   b.Speaker,
				Text:      b.Text,
				Revision:  revision,
				Timestamp: ts,
			})
		}

		s.subMu.Lock()
		s.subSeq++
		id = s.subSeq
		s.subs[id] = ch
		s.subMu.Unlock()
		registered = true
	})
	if !registered {
		return nil, nil, nil, ErrSessionClosed
	}
	s.metrics.RecordSubscriberAdded()

	var once sync.Once
	cancel = func() {
		once.Do(func() { s.unsubscribe(id) })
	}
	return snapshot, ch, cancel, nil
}

func (s *Session) unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
		s.metrics.RecordSubscriberRemoved()
	}
}

// onChange runs under the engine lock, once per change in revision order.
func (s *Session) onChange(c transcript.Change) {
	ev := models.BlockEvent{
		SessionID: s.id,
		BlockID:   c.Block.ID,
		Speaker:   c.Block.Speaker,
		Text:      c.Block.Text,
		Revision:  c.Revision,
		Timestamp: s.now().UnixMilli(),
	}

	switch c.Kind {
	case transcript.BlockOpened:
		ev.EventType = models.EventBlockOpened
		s.metrics.RecordBlockOpened()
		s.metrics.RecordSegmentUpsert(segment.Appended.String())
	case transcript.BlockUpdated:
		ev.EventType = models.EventBlockUpdated
		s.metrics.RecordSegmentUpsert(c.Outcome.String())
	case transcript.BlockClosed:
		ev.EventType = models.EventBlockClosed
		s.metrics.RecordBlockClosed(c.Segments)
		speakerLog := logging.WithSpeaker(s.id, c.SpeakerKey, c.Block.Speaker)
		speakerLog.Debug().
			Str("blockId", c.Block.ID).
			Int("segments", c.Segments).
			Int("extends", c.Extends).
			Msg("Utterance closed")
	case transcript.SessionReset:
		ev.EventType = models.EventReset
		s.metrics.RecordReset()
	}

	s.fanOut(ev)

	select {
	case s.outbox <- ev:
	default:
		s.metrics.RecordOutboxDropped()
		s.log.Warn().Str("eventType", ev.EventType).Uint64("revision", ev.Revision).Msg("Outbox full, dropping block event")
	}
}

// fanOut delivers to every subscriber without blocking. A subscriber whose
// buffer is full is disconnected and must resubscribe for a fresh snapshot.
func (s *Session) fanOut(ev models.BlockEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			delete(s.subs, id)
			close(ch)
			s.metrics.RecordSubscriberRemoved()
			s.log.Warn().Uint64("subscriber", id).Msg("Slow stream subscriber disconnected")
		}
	}
}

func (s *Session) drainOutbox() {
	defer close(s.outboxDone)
	for ev := range s.outbox {
		if s.publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Error().Err(err).Str("eventType", ev.EventType).Msg("Failed to publish block event")
		}
		cancel()
	}
}

// Close stops the STT streams, closes every open utterance, disconnects
// subscribers and flushes the outbox. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	adapters := s.adapters
	s.adapters = make(map[string]stt.Adapter)
	s.mu.Unlock()

	var errs []error
	for ch, a := range adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %s: %w", ch, err))
		}
	}

	s.engine.Stop()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
		s.metrics.RecordSubscriberRemoved()
	}
	s.subMu.Unlock()

	close(s.outbox)
	<-s.outboxDone

	s.metrics.RecordSessionEnd(s.now().Sub(s.startedAt).Seconds())
	s.log.Info().
		Int("blocks", len(s.engine.Blocks())).
		Uint64("revision", s.engine.Revision()).
		Msg("Session closed")
	return errors.Join(errs...)
}
