package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawTranscriptionEvent is the relay shape of a live transcription result:
// a Deepgram "Results" message annotated with the speaker channel.
type RawTranscriptionEvent struct {
	Type              string          `json:"type,omitempty"`
	Channel           *RawChannel     `json:"channel"`
	IsFinal           bool            `json:"is_final"`
	SpeechFinal       bool            `json:"speech_final"`
	Speaker           json.RawMessage `json:"speaker,omitempty"`
	SpeakerIdentifier string          `json:"speakerIdentifier,omitempty"`
	Start             float64         `json:"start"`
	Duration          float64         `json:"duration"`
}

type RawChannel struct {
	Alternatives []RawAlternative `json:"alternatives"`
}

type RawAlternative struct {
	Transcript *string   `json:"transcript"`
	Words      []RawWord `json:"words,omitempty"`
}

type RawWord struct {
	Word    string `json:"word"`
	Speaker *int   `json:"speaker,omitempty"`
}

// DecodeTranscriptionEvent parses one relay message into a TranscriptionEvent.
func DecodeTranscriptionEvent(data []byte) (TranscriptionEvent, error) {
	// Other Deepgram message types reuse field names with different shapes.
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return TranscriptionEvent{}, fmt.Errorf("decode transcription event: %w", err)
	}
	if head.Type != "" && head.Type != "Results" {
		return TranscriptionEvent{}, ErrNotTranscript
	}

	var raw RawTranscriptionEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return TranscriptionEvent{}, fmt.Errorf("decode transcription event: %w", err)
	}
	return raw.ToEvent()
}

// DecodeTranscriptionEvents parses a single relay message or a JSON array of them.
// Each element is decoded independently so one malformed element does not
// discard its neighbours; per-element errors are returned alongside.
func DecodeTranscriptionEvents(data []byte) ([]TranscriptionEvent, []error, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		ev, err := DecodeTranscriptionEvent(trimmed)
		if err != nil {
			return nil, []error{err}, nil
		}
		return []TranscriptionEvent{ev}, nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, nil, fmt.Errorf("decode transcription batch: %w", err)
	}

	events := make([]TranscriptionEvent, 0, len(items))
	var errs []error
	for _, item := range items {
		ev, err := DecodeTranscriptionEvent(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs, nil
}

// ToEvent validates the wire shape and converts it.
func (r RawTranscriptionEvent) ToEvent() (TranscriptionEvent, error) {
	if r.Type != "" && r.Type != "Results" {
		return TranscriptionEvent{}, ErrNotTranscript
	}
	if r.Channel == nil || len(r.Channel.Alternatives) == 0 || r.Channel.Alternatives[0].Transcript == nil {
		return TranscriptionEvent{}, ErrMissingTranscript
	}
	alt := r.Channel.Alternatives[0]

	speaker, err := r.speaker(alt)
	if err != nil {
		return TranscriptionEvent{}, err
	}

	channel := strings.TrimSpace(r.SpeakerIdentifier)
	if channel == "" {
		channel = RemoteChannel
	}

	return TranscriptionEvent{
		IsFinal:     r.IsFinal,
		SpeechFinal: r.SpeechFinal,
		Channel:     channel,
		Speaker:     speaker,
		Text:        *alt.Transcript,
		Start:       r.Start,
		Duration:    r.Duration,
	}, nil
}

// speaker resolves the diarized speaker number. An absent speaker falls back
// to the first diarized word, then to 0.
func (r RawTranscriptionEvent) speaker(alt RawAlternative) (int, error) {
	raw := bytes.TrimSpace(r.Speaker)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		for _, w := range alt.Words {
			if w.Speaker != nil {
				if *w.Speaker < 0 {
					return 0, ErrInvalidSpeaker
				}
				return *w.Speaker, nil
			}
		}
		return 0, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrInvalidSpeaker
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil || v < 0 {
		return 0, ErrInvalidSpeaker
	}
	return v, nil
}
