// Package mock provides a mock STT adapter for running without provider credentials.
// It replays a scripted interview: every audio frame advances the script by one
// hypothesis, so each line produces progressive interim revisions followed by
// exactly one final.
package mock

import (
	"context"
	"sync"
	"time"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/service/stt"
)

// Line is one scripted utterance.
type Line struct {
	Speaker  int      // Diarized speaker number
	Partials []string // Progressive interim transcripts
	Final    string   // Final transcript text
	Duration float64  // Seconds of speech covered by the final
}

// InterviewerScript is replayed on remote channels.
var InterviewerScript = []Line{
	{
		Speaker:  0,
		Partials: []string{"Thanks for", "Thanks for joining", "Thanks for joining us today"},
		Final:    "Thanks for joining us today.",
		Duration: 1.8,
	},
	{
		Speaker:  0,
		Partials: []string{"Can you walk", "Can you walk me through", "Can you walk me through your last project"},
		Final:    "Can you walk me through your last project?",
		Duration: 2.6,
	},
	{
		Speaker:  1,
		Partials: []string{"And how", "And how did you", "And how did you handle scaling"},
		Final:    "And how did you handle scaling?",
		Duration: 2.1,
	},
}

// CandidateScript is replayed on the local channel.
var CandidateScript = []Line{
	{
		Partials: []string{"Sure", "Sure I led", "Sure I led the migration"},
		Final:    "Sure, I led the migration to event streaming.",
		Duration: 2.9,
	},
	{
		Partials: []string{"We sharded", "We sharded by tenant"},
		Final:    "We sharded by tenant and added backpressure.",
		Duration: 2.4,
	},
}

// gap is the scripted silence between lines in seconds.
const gap = 0.3

// Option configures an Adapter.
type Option func(*Adapter)

// WithScript replaces the channel's default script.
func WithScript(lines []Line) Option {
	return func(a *Adapter) {
		a.script = lines
	}
}

// WithDelay delivers hypotheses asynchronously after d, simulating provider latency.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.delay = d
	}
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	mu            sync.Mutex
	cb            stt.Callback
	channel       string
	script        []Line
	delay         time.Duration
	line          int     // Index of the line being spoken
	partial       int     // Next partial to send
	offset        float64 // Start time of the current line
	audioReceived int
	closed        bool
}

// New creates a mock adapter for a channel.
func New(channel string, opts ...Option) *Adapter {
	a := &Adapter{
		channel: channel,
		script:  InterviewerScript,
	}
	if channel == models.LocalChannel {
		a.script = CandidateScript
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory returns an stt.Factory producing mock adapters.
func Factory(opts ...Option) stt.Factory {
	return func(_ context.Context, channel string) (stt.Adapter, error) {
		return New(channel, opts...), nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio advances the script by one hypothesis.
func (a *Adapter) SendAudio(_ context.Context, _ []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	a.audioReceived++
	ev, ok := a.next(false)
	cb := a.cb
	a.mu.Unlock()

	if ok {
		a.deliver(cb, ev)
	}
	return nil
}

// Close ends the mock session. A line cut off mid-utterance is finalized.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	var (
		ev models.TranscriptionEvent
		ok bool
	)
	if a.partial > 0 {
		ev, ok = a.next(true)
	}
	cb := a.cb
	a.mu.Unlock()

	if ok && cb != nil {
		cb.OnTranscript(ev)
	}
	return nil
}

// next returns the next scripted hypothesis. Must be called with mu held.
func (a *Adapter) next(forceFinal bool) (models.TranscriptionEvent, bool) {
	if a.line >= len(a.script) {
		return models.TranscriptionEvent{}, false
	}
	l := a.script[a.line]
	ev := models.TranscriptionEvent{
		Channel: a.channel,
		Speaker: l.Speaker,
		Start:   a.offset,
	}

	if !forceFinal && a.partial < len(l.Partials) {
		ev.Text = l.Partials[a.partial]
		ev.Duration = l.Duration * float64(a.partial+1) / float64(len(l.Partials)+1)
		a.partial++
		return ev, true
	}

	ev.Text = l.Final
	ev.Duration = l.Duration
	ev.IsFinal = true
	ev.SpeechFinal = true
	a.offset += l.Duration + gap
	a.line++
	a.partial = 0
	return ev, true
}

func (a *Adapter) deliver(cb stt.Callback, ev models.TranscriptionEvent) {
	if a.delay <= 0 {
		cb.OnTranscript(ev)
		return
	}
	time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if !closed {
			cb.OnTranscript(ev)
		}
	})
}

// Done reports whether the script is exhausted.
func (a *Adapter) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.line >= len(a.script)
}
