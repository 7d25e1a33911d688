// Package deepgram provides a Deepgram live transcription adapter over websockets.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/observability/metrics"
	"copilot-transcript-service/internal/service/stt"
)

const (
	provider        = "deepgram"
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
)

var (
	ErrMissingAPIKey = errors.New("deepgram api key not configured")
	ErrNotStarted    = errors.New("deepgram stream not started")
	ErrClosed        = errors.New("deepgram stream closed")
)

// Config holds Deepgram streaming configuration.
type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	Language       string
	Encoding       string // LINEAR16, MULAW, ALAW, FLAC, OGG_OPUS
	SampleRateHz   int
	InterimResults bool
	Diarize        bool          // Applied to remote channels only
	Endpointing    time.Duration // Silence before Deepgram marks speech_final
	KeepAlive      time.Duration // Idle interval before a KeepAlive frame
	CloseTimeout   time.Duration // Wait for trailing finals after CloseStream
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:       defaultEndpoint,
		Model:          "nova-3",
		Language:       "en-US",
		Encoding:       "LINEAR16",
		SampleRateHz:   16000,
		InterimResults: true,
		Diarize:        true,
		Endpointing:    300 * time.Millisecond,
		KeepAlive:      5 * time.Second,
		CloseTimeout:   2 * time.Second,
	}
}

// encodingName maps a service audio encoding to Deepgram's query value.
func encodingName(enc string) (string, error) {
	switch strings.ToUpper(enc) {
	case "LINEAR16", "":
		return "linear16", nil
	case "MULAW":
		return "mulaw", nil
	case "ALAW":
		return "alaw", nil
	case "FLAC":
		return "flac", nil
	case "OGG_OPUS":
		return "opus", nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

// ListenURL builds the streaming URL for one channel. Diarization is only
// requested for remote channels; the local microphone is a single speaker.
func ListenURL(cfg Config, channel string) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	encoding, err := encodingName(cfg.Encoding)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRateHz))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if cfg.InterimResults {
		q.Set("interim_results", "true")
	}
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(cfg.Endpointing.Milliseconds(), 10))
	}
	if cfg.Diarize && channel != models.LocalChannel {
		q.Set("diarize", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Adapter implements stt.Adapter over a Deepgram live websocket.
type Adapter struct {
	cfg     Config
	channel string
	dialer  *websocket.Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics

	connMu    sync.Mutex
	conn      *websocket.Conn
	cb        stt.Callback
	lastAudio time.Time
	closed    bool
	done      chan struct{}
	cancel    context.CancelFunc
}

// New creates a Deepgram adapter for one audio channel.
func New(cfg Config, channel string) *Adapter {
	return &Adapter{
		cfg:     cfg,
		channel: channel,
		dialer:  websocket.DefaultDialer,
		log:     logging.WithComponent("stt-deepgram").With().Str("channel", channel).Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// Factory returns an stt.Factory producing Deepgram adapters.
func Factory(cfg Config) stt.Factory {
	return func(_ context.Context, channel string) (stt.Adapter, error) {
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return New(cfg, channel), nil
	}
}

// Start dials Deepgram and begins reading results.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if a.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}
	listenURL, err := ListenURL(a.cfg, a.channel)
	if err != nil {
		return err
	}

	conn, _, err := a.dialer.DialContext(ctx, listenURL, http.Header{"Authorization": {"Token " + a.cfg.APIKey}})
	if err != nil {
		a.metrics.RecordSTTError(provider, "connect")
		return fmt.Errorf("open deepgram websocket: %w", err)
	}

	// The stream outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	a.connMu.Lock()
	a.conn = conn
	a.cb = cb
	a.lastAudio = time.Now()
	a.done = make(chan struct{})
	a.cancel = cancel
	a.connMu.Unlock()

	go a.readLoop(conn, cb)
	if a.cfg.KeepAlive > 0 {
		go a.keepAlive(loopCtx)
	}

	a.log.Info().Str("model", a.cfg.Model).Msg("Deepgram stream started")
	return nil
}

// SendAudio forwards one binary audio frame.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.conn == nil {
		return ErrNotStarted
	}
	a.lastAudio = time.Now()
	if err := a.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		a.metrics.RecordSTTError(provider, "write")
		return fmt.Errorf("write deepgram audio: %w", err)
	}
	return nil
}

// Close asks Deepgram to flush trailing results, waits for them, then
// closes the socket.
func (a *Adapter) Close() error {
	a.connMu.Lock()
	if a.closed || a.conn == nil {
		a.closed = true
		a.connMu.Unlock()
		return nil
	}
	a.closed = true
	conn, done, cancel := a.conn, a.done, a.cancel
	err := conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)})
	a.connMu.Unlock()

	cancel()
	if err == nil {
		select {
		case <-done:
		case <-time.After(a.cfg.CloseTimeout):
			a.log.Warn().Msg("Deepgram did not close stream in time")
		}
	}
	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	<-done
	a.log.Info().Msg("Deepgram stream closed")
	return err
}

type controlMessage struct {
	Type string `json:"type"`
}

func (a *Adapter) isClosed() bool {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.closed
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	defer close(a.done)
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if a.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			a.metrics.RecordSTTError(provider, "read")
			cb.OnError(fmt.Errorf("read deepgram message: %w", err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, ok, err := Decode(a.channel, msg)
		if err != nil {
			a.metrics.RecordSTTError(provider, "decode")
			a.log.Debug().Err(err).Msg("Dropping undecodable Deepgram message")
			continue
		}
		if ok {
			cb.OnTranscript(ev)
		}
	}
}

func (a *Adapter) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.connMu.Lock()
			if !a.closed && time.Since(a.lastAudio) >= a.cfg.KeepAlive {
				if err := a.conn.WriteJSON(controlMessage{Type: "KeepAlive"}); err != nil {
					a.log.Warn().Err(err).Msg("Failed to send KeepAlive")
				}
			}
			a.connMu.Unlock()
		}
	}
}

// resultDetail carries the Results fields decoded outside the SDK response type.
type resultDetail struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Words []models.RawWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Decode maps a Deepgram message to a transcription event. Messages other
// than non-empty Results report ok=false.
func Decode(channel string, msg []byte) (ev models.TranscriptionEvent, ok bool, err error) {
	var head controlMessage
	if err := json.Unmarshal(msg, &head); err != nil {
		return ev, false, fmt.Errorf("decode deepgram message: %w", err)
	}

	// UtteranceEnd and SpeechStarted are ignored: utterances close on silence.
	if api.TypeResponse(head.Type) != api.TypeMessageResponse {
		return ev, false, nil
	}

	var resp api.MessageResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return ev, false, fmt.Errorf("decode deepgram results: %w", err)
	}
	if len(resp.Channel.Alternatives) == 0 {
		return ev, false, nil
	}
	text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	if text == "" {
		return ev, false, nil
	}

	var detail resultDetail
	if err := json.Unmarshal(msg, &detail); err != nil {
		return ev, false, fmt.Errorf("decode deepgram results: %w", err)
	}

	speaker := 0
	if len(detail.Channel.Alternatives) > 0 {
		for _, w := range detail.Channel.Alternatives[0].Words {
			if w.Speaker != nil && *w.Speaker >= 0 {
				speaker = *w.Speaker
				break
			}
		}
	}

	return models.TranscriptionEvent{
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Channel:     channel,
		Speaker:     speaker,
		Text:        text,
		Start:       detail.Start,
		Duration:    detail.Duration,
	}, true, nil
}
