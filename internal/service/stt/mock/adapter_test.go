package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"copilot-transcript-service/internal/models"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu     sync.Mutex
	events []models.TranscriptionEvent
	errors []error
}

func (c *testCallback) OnTranscript(ev models.TranscriptionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getEvents() []models.TranscriptionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TranscriptionEvent{}, c.events...)
}

func TestAdapter_New_ScriptByChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    []Line
	}{
		{models.LocalChannel, CandidateScript},
		{"remote", InterviewerScript},
		{"zoom", InterviewerScript},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			a := New(tt.channel)
			if len(a.script) != len(tt.want) || a.script[0].Final != tt.want[0].Final {
				t.Errorf("unexpected script for channel %s", tt.channel)
			}
		})
	}
}

func TestAdapter_SendAudio_BeforeStart(t *testing.T) {
	a := New("remote")
	if err := a.SendAudio(context.Background(), []byte{0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.audioReceived != 0 {
		t.Error("expected audio to be ignored before Start")
	}
}

func TestAdapter_ProgressiveHypotheses(t *testing.T) {
	script := []Line{
		{Speaker: 2, Partials: []string{"one", "one two"}, Final: "one two three", Duration: 1.5},
		{Speaker: 3, Final: "four", Duration: 0.5},
	}
	a := New("remote", WithScript(script))
	cb := &testCallback{}
	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		if err := a.SendAudio(context.Background(), []byte{0, 1}); err != nil {
			t.Fatal(err)
		}
	}

	events := cb.getEvents()
	if len(events) != 4 {
		t.Fatalf("expected 4 hypotheses, got %d: %+v", len(events), events)
	}

	wantText := []string{"one", "one two", "one two three", "four"}
	wantFinal := []bool{false, false, true, true}
	for i, ev := range events {
		if ev.Text != wantText[i] {
			t.Errorf("event %d: expected text %q, got %q", i, wantText[i], ev.Text)
		}
		if ev.IsFinal != wantFinal[i] {
			t.Errorf("event %d: expected final %v, got %v", i, wantFinal[i], ev.IsFinal)
		}
		if ev.Channel != "remote" {
			t.Errorf("event %d: expected channel remote, got %s", i, ev.Channel)
		}
	}

	// Revisions of one line share a start so they merge into one segment.
	if events[0].Start != 0 || events[1].Start != 0 || events[2].Start != 0 {
		t.Errorf("expected first line to start at 0, got %+v", events[:3])
	}
	if want := script[0].Duration + gap; events[3].Start != want {
		t.Errorf("expected second line to start at %v, got %v", want, events[3].Start)
	}
	if events[3].Speaker != 3 {
		t.Errorf("expected speaker 3, got %d", events[3].Speaker)
	}
	if !a.Done() {
		t.Error("expected script to be exhausted")
	}
}

func TestAdapter_Close_FinalizesCutOffLine(t *testing.T) {
	a := New(models.LocalChannel)
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)

	_ = a.SendAudio(context.Background(), []byte{0})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	events := cb.getEvents()
	if len(events) != 2 {
		t.Fatalf("expected partial plus forced final, got %d", len(events))
	}
	if !events[1].IsFinal || events[1].Text != CandidateScript[0].Final {
		t.Errorf("expected forced final %q, got %+v", CandidateScript[0].Final, events[1])
	}

	// Closed adapters ignore audio and repeated Close.
	_ = a.SendAudio(context.Background(), []byte{0})
	_ = a.Close()
	if len(cb.getEvents()) != 2 {
		t.Error("expected no events after Close")
	}
}

func TestAdapter_Close_BetweenLinesSendsNothing(t *testing.T) {
	a := New("remote", WithScript([]Line{{Final: "hi", Duration: 0.4}}))
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)
	_ = a.SendAudio(context.Background(), nil)
	_ = a.Close()

	if n := len(cb.getEvents()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestAdapter_WithDelay(t *testing.T) {
	a := New("remote", WithDelay(10*time.Millisecond))
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)
	_ = a.SendAudio(context.Background(), []byte{0})

	if len(cb.getEvents()) != 0 {
		t.Error("expected delayed delivery")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(cb.getEvents()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(cb.getEvents()) != 1 {
		t.Error("expected hypothesis after delay")
	}
}

func TestFactory(t *testing.T) {
	f := Factory()
	a, err := f(context.Background(), models.LocalChannel)
	if err != nil {
		t.Fatal(err)
	}
	if a.(*Adapter).channel != models.LocalChannel {
		t.Error("expected factory to stamp the channel")
	}
}
