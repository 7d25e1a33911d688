// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"

	"copilot-transcript-service/internal/models"
)

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnTranscript is called for every interim or final hypothesis.
	OnTranscript(ev models.TranscriptionEvent)

	// OnError is called when an error occurs during transcription.
	OnError(err error)
}

// Adapter defines the interface for STT providers (Deepgram, Google, mock).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// Factory creates an adapter for one audio channel of a session. The channel
// is stamped on every event the adapter emits.
type Factory func(ctx context.Context, channel string) (Adapter, error)

// CallbackFuncs adapts plain functions to Callback.
type CallbackFuncs struct {
	Transcript func(models.TranscriptionEvent)
	Error      func(error)
}

func (c CallbackFuncs) OnTranscript(ev models.TranscriptionEvent) {
	if c.Transcript != nil {
		c.Transcript(ev)
	}
}

func (c CallbackFuncs) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}
