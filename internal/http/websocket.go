package http

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/service/copilot"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Copilot UI is served from another origin
	},
}

// streamBlocks sends the transcript snapshot, then every block event until
// the session closes or the client goes away.
func (a *api) streamBlocks(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	snapshot, events, cancel, err := s.Subscribe()
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := logging.WithSession(s.ID()).With().Str("component", "block-stream").Logger()
	log.Info().Int("snapshotBlocks", len(snapshot)).Msg("Stream subscriber connected")

	// Reader goroutine only watches for the client going away.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range snapshot {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				log.Info().Msg("Stream ended")
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("Stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Info().Msg("Stream subscriber disconnected")
			return
		}
	}
}

// streamAudio forwards binary frames from the client to the channel's STT
// stream. Text frames are ignored.
func (a *api) streamAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	channel := chi.URLParam(r, "channel")
	if !slices.Contains(s.Channels(), channel) {
		a.writeError(w, r, http.StatusBadRequest, copilot.ErrUnknownChannel)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := logging.WithSession(s.ID()).With().Str("component", "audio-ingest").Str("channel", channel).Logger()
	log.Info().Msg("Audio stream connected")

	var frames, bytes int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Audio stream read ended")
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if err := s.SendAudio(r.Context(), channel, data); err != nil {
			code := websocket.CloseInternalServerErr
			switch {
			case errors.Is(err, copilot.ErrLimitExceeded):
				code = websocket.CloseMessageTooBig
			case errors.Is(err, copilot.ErrSessionClosed), errors.Is(err, copilot.ErrSessionExpired):
				code = websocket.CloseGoingAway
			}
			log.Warn().Err(err).Msg("Audio rejected, closing stream")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
			break
		}
		frames++
		bytes += len(data)
	}

	log.Info().Int("frames", frames).Int("bytes", bytes).Msg("Audio stream closed")
}
