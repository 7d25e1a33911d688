// Test client - replays a scripted interview as relayed transcription
// events and prints the block stream and the final transcript.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
)

type step struct {
	channel string
	speaker int
	text    string
	start   float64
	final   bool
}

// script interleaves the candidate with two diarized interviewers, with
// interim revisions ahead of each final.
var script = []step{
	{"remote", 0, "Thanks for", 0.0, false},
	{"remote", 0, "Thanks for joining us today", 0.0, true},
	{"remote", 0, "Could you walk us", 2.1, false},
	{"remote", 0, "Could you walk us through your last project?", 2.1, true},
	{"user", 0, "Sure, I", 5.0, false},
	{"user", 0, "Sure, I led the migration", 5.0, false},
	{"user", 0, "Sure, I led the migration of our billing system.", 5.0, true},
	{"remote", 1, "What was the", 9.2, false},
	{"remote", 1, "What was the hardest part?", 9.2, true},
	{"user", 0, "Keeping both systems consistent during cutover.", 11.0, true},
}

func rawEvent(s step) models.RawTranscriptionEvent {
	text := s.text
	speaker, _ := json.Marshal(s.speaker)
	return models.RawTranscriptionEvent{
		Type:              "Results",
		Channel:           &models.RawChannel{Alternatives: []models.RawAlternative{{Transcript: &text}}},
		IsFinal:           s.final,
		SpeechFinal:       s.final,
		Speaker:           speaker,
		SpeakerIdentifier: s.channel,
		Start:             s.start,
		Duration:          float64(len(strings.Fields(s.text))) * 0.3,
	}
}

func main() {
	server := flag.String("server", "http://localhost:8080", "HTTP API base URL")
	delay := flag.Duration("delay", 300*time.Millisecond, "Delay between events")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.Kitchen})
	base := strings.TrimRight(*server, "/")

	resp, err := http.Post(base+"/v1/sessions", "application/json", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	err = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Fatal().Err(err).Int("status", resp.StatusCode).Msg("Failed to create session")
	}
	id := created.SessionID
	log.Info().Str("sessionId", id).Msg("Session created")

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to block stream")
	}
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		for {
			var ev models.BlockEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			log.Info().
				Uint64("revision", ev.Revision).
				Str("eventType", ev.EventType).
				Str("speaker", ev.Speaker).
				Msg(ev.Text)
		}
	}()

	for _, s := range script {
		body, _ := json.Marshal(rawEvent(s))
		resp, err := http.Post(base+"/v1/sessions/"+id+"/events", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to send event")
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Warn().Int("status", resp.StatusCode).Str("body", strings.TrimSpace(string(b))).Msg("Event not accepted")
		}
		time.Sleep(*delay)
	}

	resp, err = http.Get(base + "/v1/sessions/" + id + "/transcript?last=0")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch transcript")
	}
	transcript, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	fmt.Printf("\n%s\n\n", transcript)

	// Ending the session closes the open blocks and then the stream.
	req, _ := http.NewRequest(http.MethodDelete, base+"/v1/sessions/"+id, nil)
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
	}
	select {
	case <-streamDone:
	case <-time.After(5 * time.Second):
	}
	conn.Close()
}
