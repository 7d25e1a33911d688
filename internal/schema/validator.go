// Package schema validates transcription events at the service boundary.
package schema

import (
	"errors"
	"math"
	"strings"

	"copilot-transcript-service/internal/models"
)

// Transcription returns the rejection reason for an event, or nil when the
// event may be fed into a transcript.
func Transcription(ev models.TranscriptionEvent) error {
	if strings.TrimSpace(ev.Text) == "" {
		return models.ErrEmptyTranscript
	}
	if strings.TrimSpace(ev.Channel) == "" || ev.Speaker < 0 {
		return models.ErrInvalidSpeaker
	}
	if !finite(ev.Start) || !finite(ev.Duration) {
		return models.ErrInvalidTiming
	}
	return nil
}

// Reason maps a rejection error to a short metrics label.
func Reason(err error) string {
	switch {
	case errors.Is(err, models.ErrMissingTranscript):
		return "missing_transcript"
	case errors.Is(err, models.ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, models.ErrInvalidSpeaker):
		return "invalid_speaker"
	case errors.Is(err, models.ErrInvalidTiming):
		return "invalid_timing"
	case errors.Is(err, models.ErrNotTranscript):
		return "not_transcript"
	default:
		return "malformed"
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
