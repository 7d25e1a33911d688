// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/observability/metrics"
	"copilot-transcript-service/internal/service/stt"
)

const provider = "google"

// Config holds Google streaming recognition configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	Diarize        bool // Applied to remote channels only
	MinSpeakers    int
	MaxSpeakers    int
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Diarize:        true,
		MinSpeakers:    1,
		MaxSpeakers:    6,
	}
}

// parseAudioEncoding maps an upper-case encoding name; anything unknown is LINEAR16.
func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[enc]; ok && v != int32(speechpb.RecognitionConfig_ENCODING_UNSPECIFIED) {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// recognitionConfig builds the streaming config for one channel.
func recognitionConfig(cfg Config, channel string) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
	if cfg.Diarize && channel != models.LocalChannel {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakers),
			MaxSpeakerCount:          int32(cfg.MaxSpeakers),
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: cfg.InterimResults,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg     Config
	channel string
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	cb      stt.Callback
	log     zerolog.Logger
	metrics *metrics.Metrics
	done    chan struct{}

	mu      sync.Mutex
	tracker resultTracker
	closed  bool
}

// New creates a new Google STT adapter for one channel.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config, channel string) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{
		cfg:     cfg,
		channel: channel,
		client:  c,
		log:     logging.WithComponent("stt-google").With().Str("channel", channel).Logger(),
		metrics: metrics.DefaultMetrics,
	}, nil
}

// Factory returns an stt.Factory producing Google adapters.
func Factory(cfg Config) stt.Factory {
	return func(ctx context.Context, channel string) (stt.Adapter, error) {
		return New(ctx, cfg, channel)
	}
}

// Start begins a streaming recognition session and sends the initial config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(context.WithoutCancel(ctx))
	if err != nil {
		a.metrics.RecordSTTError(provider, "connect")
		return fmt.Errorf("start streaming recognize: %w", err)
	}
	if err := a.begin(stream, cb); err != nil {
		return err
	}
	a.log.Info().Str("language", a.cfg.LanguageCode).Msg("Google stream started")
	return nil
}

// begin sends the streaming config and starts the receive loop. The stream
// is only adopted once the config is accepted, so Close after a failed
// begin does not wait for a receive loop that never ran.
func (a *Adapter) begin(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) error {
	// Send streaming config as the first message
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: recognitionConfig(a.cfg, a.channel),
		},
	}); err != nil {
		a.metrics.RecordSTTError(provider, "config")
		_ = stream.CloseSend()
		return fmt.Errorf("send streaming config: %w", err)
	}

	a.stream = stream
	a.cb = cb
	a.done = make(chan struct{})
	go a.listen()
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	if a.stream == nil {
		return errors.New("google stream not started")
	}
	if err := a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		a.metrics.RecordSTTError(provider, "write")
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Close half-closes the stream, waits for trailing results and releases the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var err error
	if a.stream != nil {
		err = a.stream.CloseSend()
		<-a.done
	}
	if a.client != nil {
		if cerr := a.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen() {
	defer close(a.done)
	for {
		resp, err := a.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			a.metrics.RecordSTTError(provider, "read")
			a.cb.OnError(fmt.Errorf("receive recognition: %w", err))
			return
		}

		for _, r := range resp.Results {
			a.mu.Lock()
			ev, ok := a.tracker.event(a.channel, r)
			a.mu.Unlock()
			if ok {
				a.cb.OnTranscript(ev)
			}
		}
	}
}

// resultTracker turns stream-relative Google results into transcription
// events. Interim revisions of an utterance share the end time of the
// previous final as their start, so they merge into one segment.
type resultTracker struct {
	utteranceStart float64
	lastSpeaker    int
}

func (t *resultTracker) event(channel string, r *speechpb.StreamingRecognitionResult) (models.TranscriptionEvent, bool) {
	if len(r.GetAlternatives()) == 0 {
		return models.TranscriptionEvent{}, false
	}
	alt := r.GetAlternatives()[0]
	text := strings.TrimSpace(alt.GetTranscript())
	if text == "" {
		return models.TranscriptionEvent{}, false
	}

	end := t.utteranceStart
	if r.GetResultEndTime() != nil {
		end = r.GetResultEndTime().AsDuration().Seconds()
	}
	duration := end - t.utteranceStart
	if duration < 0 {
		duration = 0
	}

	speaker := t.lastSpeaker
	if s, ok := dominantSpeaker(alt.GetWords(), t.utteranceStart); ok {
		speaker = s
	}

	ev := models.TranscriptionEvent{
		IsFinal:     r.GetIsFinal(),
		SpeechFinal: r.GetIsFinal(),
		Channel:     channel,
		Speaker:     speaker,
		Text:        text,
		Start:       t.utteranceStart,
		Duration:    duration,
	}

	t.lastSpeaker = speaker
	if r.GetIsFinal() {
		t.utteranceStart = end
	}
	return ev, true
}

// dominantSpeaker returns the most frequent diarization tag among words at or
// after from. Tags start at 1; speaker numbers start at 0.
func dominantSpeaker(words []*speechpb.WordInfo, from float64) (int, bool) {
	counts := make(map[int32]int)
	var best int32
	for _, w := range words {
		tag := w.GetSpeakerTag()
		if tag <= 0 {
			continue
		}
		if w.GetStartTime() != nil && w.GetStartTime().AsDuration().Seconds() < from {
			continue
		}
		counts[tag]++
		if counts[tag] > counts[best] || (counts[tag] == counts[best] && tag < best) {
			best = tag
		}
	}
	if best == 0 {
		return 0, false
	}
	return int(best - 1), true
}
