// Package models defines the data structures for transcription input and block events.
package models

import (
	"errors"
	"strconv"
)

// LocalChannel is the reserved channel for the candidate's own microphone.
const LocalChannel = "user"

// RemoteChannel is used when the source does not identify the channel.
const RemoteChannel = "remote"

// Rejection reasons for transcription events. Events carrying any of these
// are dropped without changing transcript state.
var (
	ErrMissingTranscript = errors.New("event has no transcript")
	ErrEmptyTranscript   = errors.New("transcript is empty")
	ErrInvalidSpeaker    = errors.New("event has no usable speaker")
	ErrInvalidTiming     = errors.New("event timing is not finite")
	ErrNotTranscript     = errors.New("event is not a transcription result")
)

// TranscriptionEvent is one speech chunk hypothesis from the transcription source.
type TranscriptionEvent struct {
	IsFinal     bool    `json:"isFinal"`
	SpeechFinal bool    `json:"speechFinal"`
	Channel     string  `json:"channel"`
	Speaker     int     `json:"speaker"`
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
}

// IsLocal reports whether the event came from the local microphone.
func (e TranscriptionEvent) IsLocal() bool {
	return e.Channel == LocalChannel
}

// SpeakerKey returns the session-stable identity of the event's speaker.
// All local audio is one speaker; remote speakers are keyed by channel and
// diarized speaker number.
func (e TranscriptionEvent) SpeakerKey() string {
	if e.IsLocal() {
		return LocalChannel
	}
	return e.Channel + ":" + strconv.Itoa(e.Speaker)
}

// Block event types.
const (
	EventBlockOpened   = "copilot.transcript.block.opened"
	EventBlockUpdated  = "copilot.transcript.block.updated"
	EventBlockClosed   = "copilot.transcript.block.closed"
	EventBlockSnapshot = "copilot.transcript.block.snapshot"
	EventReset         = "copilot.transcript.reset"
)

// BlockEvent is published whenever the transcript projection of a session changes.
type BlockEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	BlockID   string `json:"blockId,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	Revision  uint64 `json:"revision"`
	Timestamp int64  `json:"timestamp"`
}
