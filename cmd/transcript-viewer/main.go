// Transcript Viewer - live block display
// Consumes block events from Kafka and pushes them to browsers over WebSocket
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

// Hub fans block events out to browser connections and keeps the latest
// state of every block so late joiners see the current transcript.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	blocks  map[string]models.BlockEvent
	order   []string
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func newHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		blocks:  make(map[string]models.BlockEvent),
	}
}

// apply records ev and reports whether it should be broadcast. Events older
// than the stored revision of their block are dropped.
func (h *Hub) apply(ev models.BlockEvent) bool {
	if ev.EventType == models.EventReset {
		kept := h.order[:0]
		for _, id := range h.order {
			if h.blocks[id].SessionID == ev.SessionID {
				delete(h.blocks, id)
				continue
			}
			kept = append(kept, id)
		}
		h.order = kept
		return true
	}
	if ev.BlockID == "" {
		return false
	}
	prev, ok := h.blocks[ev.BlockID]
	if ok && prev.Revision >= ev.Revision {
		return false
	}
	if !ok {
		h.order = append(h.order, ev.BlockID)
	}
	h.blocks[ev.BlockID] = ev
	return true
}

func (h *Hub) publish(ev models.BlockEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.apply(ev) {
		return
	}
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn().Err(err).Msg("Write error")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.order {
		if err := conn.WriteJSON(h.blocks[id]); err != nil {
			conn.Close()
			return
		}
	}
	h.clients[conn] = true
	log.Info().Int("clients", len(h.clients)).Msg("Client connected")
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	log.Info().Int("clients", len(h.clients)).Msg("Client disconnected")
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.register(conn)

		// Keep connection alive, handle disconnects
		go func() {
			defer hub.unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// Partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind reader, starting at latest")
	}

	log.Info().Str("topic", topic).Msg("Consuming block events (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var ev models.BlockEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable block event")
			continue
		}

		log.Debug().
			Str("eventType", ev.EventType).
			Str("sessionId", ev.SessionID).
			Str("speaker", ev.Speaker).
			Msg(truncate(ev.Text, 40))
		hub.publish(ev)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicUpdated := flag.String("topic-updated", "copilot.transcript.block.updated", "Block update topic")
	topicClosed := flag.String("topic-closed", "copilot.transcript.block.closed", "Closed block topic")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console", TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go consumeKafka(ctx, hub, *brokers, *topicUpdated)
	go consumeKafka(ctx, hub, *brokers, *topicClosed)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("Static assets missing")
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Strs("topics", []string{*topicUpdated, *topicClosed}).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
