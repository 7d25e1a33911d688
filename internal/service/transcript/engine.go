// Package transcript reconciles a live stream of speech-to-text hypotheses
// into an ordered, per-speaker list of utterance blocks.
//
// Each speaker has at most one open utterance. Hypotheses that start close
// to an existing segment of that utterance revise it; others are appended,
// and the block text is rebuilt from the segments in start order. An
// utterance closes only after its speaker has been idle for IdleTimeout.
package transcript

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/schema"
	"copilot-transcript-service/internal/service/segment"
)

// ErrStopped is returned by Accept once the engine has been stopped.
var ErrStopped = errors.New("transcript engine stopped")

// Block is one utterance in the transcript. ID is stable; Text changes in
// place while the utterance is open.
type Block struct {
	ID      string `json:"id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ChangeKind identifies a transcript change.
type ChangeKind int

const (
	BlockOpened ChangeKind = iota
	BlockUpdated
	BlockClosed
	SessionReset
)

func (k ChangeKind) String() string {
	switch k {
	case BlockOpened:
		return "opened"
	case BlockUpdated:
		return "updated"
	case BlockClosed:
		return "closed"
	case SessionReset:
		return "reset"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Change describes one transition of the projection. Revision increases by
// one for every change over the engine's lifetime, resets included.
type Change struct {
	Kind       ChangeKind
	Block      Block
	SpeakerKey string
	Outcome    segment.Outcome
	Revision   uint64

	// Segments and Extends describe the utterance on BlockClosed.
	Segments int
	Extends  int
}

// ChangeFunc observes transcript changes. It runs with the engine lock held,
// so changes arrive in revision order; it must not call back into the Engine.
type ChangeFunc func(Change)

// Config holds the reconciliation windows.
type Config struct {
	// MergeWindow is the distance in seconds under which two hypotheses
	// are treated as revisions of the same chunk.
	MergeWindow float64
	// IdleTimeout closes a speaker's utterance after this much silence.
	IdleTimeout time.Duration
}

// DefaultConfig returns the stock windows.
func DefaultConfig() Config {
	return Config{
		MergeWindow: 0.5,
		IdleTimeout: 4 * time.Second,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the reconciliation windows. Non-positive values keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.MergeWindow > 0 {
			e.cfg.MergeWindow = cfg.MergeWindow
		}
		if cfg.IdleTimeout > 0 {
			e.cfg.IdleTimeout = cfg.IdleTimeout
		}
	}
}

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the block id source.
func WithIDGenerator(next func() string) Option {
	return func(e *Engine) {
		e.newID = next
	}
}

// WithChangeFunc registers the change observer.
func WithChangeFunc(f ChangeFunc) Option {
	return func(e *Engine) {
		e.onChange = f
	}
}

type utterance struct {
	block     int
	segments  *segment.Store
	lifecycle *segment.Lifecycle
}

type idleTimer struct {
	timer Timer
	token uint64
}

// Engine owns the transcript of one session. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	newID    func() string
	onChange ChangeFunc

	speakers *SpeakerResolver
	blocks   []Block
	active   map[string]*utterance
	timers   map[string]idleTimer
	timerSeq uint64
	revision uint64
	stopped  bool
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		clock:    RealClock,
		newID:    uuid.NewString,
		speakers: NewSpeakerResolver(),
		active:   make(map[string]*utterance),
		timers:   make(map[string]idleTimer),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective windows.
func (e *Engine) Config() Config {
	return e.cfg
}

// Accept feeds one hypothesis into the transcript. Invalid events return
// their rejection reason and leave the transcript untouched.
func (e *Engine) Accept(ev models.TranscriptionEvent) error {
	if err := schema.Transcription(ev); err != nil {
		return err
	}
	key := ev.SpeakerKey()
	seg := segment.Segment{
		Start:    ev.Start,
		Duration: ev.Duration,
		Text:     strings.TrimSpace(ev.Text),
		IsFinal:  ev.IsFinal,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}

	label := e.speakers.Resolve(key)
	e.cancelIdle(key)

	var change Change
	if u, ok := e.active[key]; ok {
		// Closed and discarded utterances leave e.active first.
		_ = u.lifecycle.Extend()
		outcome := u.segments.Upsert(seg, e.cfg.MergeWindow)
		b := &e.blocks[u.block]
		b.Text = u.segments.Text()
		change = Change{Kind: BlockUpdated, Block: *b, Outcome: outcome}
	} else {
		b := Block{ID: e.newID(), Speaker: label, Text: seg.Text}
		e.blocks = append(e.blocks, b)
		e.active[key] = &utterance{
			block:     len(e.blocks) - 1,
			segments:  segment.NewStore(seg),
			lifecycle: segment.NewLifecycle(b.ID),
		}
		change = Change{Kind: BlockOpened, Block: b, Outcome: segment.Appended}
	}
	change.SpeakerKey = key

	e.armIdle(key)
	e.emit(change)
	return nil
}

// Blocks returns a copy of the transcript in creation order.
func (e *Engine) Blocks() []Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Block, len(e.blocks))
	copy(out, e.blocks)
	return out
}

// Speakers returns the labels seen in this session, in first-seen order.
func (e *Engine) Speakers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speakers.Labels()
}

// Format renders the last n blocks as "Speaker: text" lines. n <= 0
// renders every block.
func (e *Engine) Format(n int) string {
	blocks := e.Blocks()
	if n > 0 && len(blocks) > n {
		blocks = blocks[len(blocks)-n:]
	}
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(b.Speaker)
		sb.WriteString(": ")
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// Reset returns the engine to its freshly constructed state and cancels
// every pending idle timer.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	for _, t := range e.timers {
		t.timer.Stop()
	}
	for _, u := range e.active {
		u.lifecycle.Discard()
		u.segments.Clear()
	}
	e.timers = make(map[string]idleTimer)
	e.active = make(map[string]*utterance)
	e.blocks = nil
	e.speakers.Reset()

	e.emit(Change{Kind: SessionReset})
}

// View runs f with the current blocks, speaker labels and revision while
// holding the engine lock, so no change is delivered between the view and
// anything f registers. f must not call back into the engine.
func (e *Engine) View(f func(blocks []Block, speakers []string, revision uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Block, len(e.blocks))
	copy(out, e.blocks)
	f(out, e.speakers.Labels(), e.revision)
}

// Revision returns the revision of the latest change.
func (e *Engine) Revision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// Stop closes every open utterance in block order, cancels the idle timers
// and rejects further events. No change is delivered after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	for _, t := range e.timers {
		t.timer.Stop()
	}
	e.timers = make(map[string]idleTimer)

	keys := make([]string, 0, len(e.active))
	for k := range e.active {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return e.active[keys[i]].block < e.active[keys[j]].block
	})
	for _, k := range keys {
		e.emit(e.closeUtterance(k, e.active[k]))
	}
	e.active = make(map[string]*utterance)
	e.stopped = true
}

// armIdle schedules the idle close for key. Caller holds e.mu and has
// cancelled any previous timer for key.
func (e *Engine) armIdle(key string) {
	e.timerSeq++
	token := e.timerSeq
	e.timers[key] = idleTimer{
		token: token,
		timer: e.clock.AfterFunc(e.cfg.IdleTimeout, func() {
			e.closeIdle(key, token)
		}),
	}
}

func (e *Engine) cancelIdle(key string) {
	if t, ok := e.timers[key]; ok {
		t.timer.Stop()
		delete(e.timers, key)
	}
}

// closeIdle runs on the timer goroutine. A token that no longer matches
// belongs to a cancelled or reset timer that fired anyway.
func (e *Engine) closeIdle(key string, token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.timers[key]
	if e.stopped || !ok || t.token != token {
		return
	}
	delete(e.timers, key)

	u, ok := e.active[key]
	if !ok {
		return
	}
	delete(e.active, key)
	e.emit(e.closeUtterance(key, u))
}

// closeUtterance freezes u and describes the close. Caller holds e.mu.
func (e *Engine) closeUtterance(key string, u *utterance) Change {
	c := Change{
		Kind:       BlockClosed,
		Block:      e.blocks[u.block],
		SpeakerKey: key,
		Segments:   u.segments.Len(),
		Extends:    u.lifecycle.Extends(),
	}
	u.lifecycle.Close()
	u.segments.Clear()
	return c
}

func (e *Engine) emit(c Change) {
	e.revision++
	c.Revision = e.revision
	if e.onChange != nil {
		e.onChange(c)
	}
}
