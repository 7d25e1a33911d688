// Audio client - streams a WAV file into a session's audio channel and
// prints the resulting transcript.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"copilot-transcript-service/internal/observability/logging"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Audio is sent in 100ms chunks to simulate real-time capture.
const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	server := flag.String("server", "http://localhost:8080", "HTTP API base URL")
	sessionID := flag.String("session", "", "Existing session ID (a new session is created when empty)")
	channel := flag.String("channel", "remote", "Audio channel: user or remote")
	settle := flag.Duration("settle", 5*time.Second, "Wait after streaming before printing the transcript")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.Kitchen})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal().Msg("Not a valid WAV file")
	}

	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Info().
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file opened")

	chunkSize := int(sampleRate) * int(numChannels) * int(bitsPerSample) / 8 / int(time.Second/chunkInterval)
	if chunkSize <= 0 {
		log.Fatal().Msg("WAV header describes an empty format")
	}

	id := *sessionID
	if id == "" {
		id, err = createSession(*server)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create session")
		}
		log.Info().Str("sessionId", id).Msg("Session created")
	}

	wsURL, err := audioURL(*server, id, *channel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", wsURL).Msg("Failed to open audio stream")
	}

	buf := make([]byte, chunkSize)
	var frames, total int
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Fatal().Err(werr).Msg("Failed to send audio")
			}
			frames++
			total += n
			<-ticker.C
		}
		if err != nil {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	conn.Close()
	log.Info().Int("frames", frames).Int("bytes", total).Msg("Audio sent")

	time.Sleep(*settle)
	transcript, err := fetchTranscript(*server, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch transcript")
	}
	fmt.Println(transcript)
}

func createSession(server string) (string, error) {
	resp, err := http.Post(strings.TrimRight(server, "/")+"/v1/sessions", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: %s", resp.Status)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func audioURL(server, id, channel string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/sessions/" + url.PathEscape(id) + "/audio/" + url.PathEscape(channel)
	return u.String(), nil
}

func fetchTranscript(server, id string) (string, error) {
	resp, err := http.Get(strings.TrimRight(server, "/") + "/v1/sessions/" + url.PathEscape(id) + "/transcript?last=0")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return string(b), nil
}
