package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"copilot-transcript-service/internal/app"
	"copilot-transcript-service/internal/config"
	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/service/copilot"
	"copilot-transcript-service/internal/service/stt/mock"
	"copilot-transcript-service/internal/service/transcript"
)

func newTestServer(t *testing.T, opts ...copilot.Option) (*httptest.Server, *copilot.Manager) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Transcript.PromptBlocks = 2

	sc := app.SessionConfig(cfg)
	sc.Transcript = transcript.Config{MergeWindow: 0.5, IdleTimeout: time.Hour}
	sc.MaxSessions = 2
	sc.Limits.MaxEventsPerRequest = 10
	m := copilot.NewManager(sc, opts...)

	srv := httptest.NewServer(NewRouter(&app.Application{Cfg: cfg, Sessions: m}))
	t.Cleanup(func() {
		srv.Close()
		m.CloseAll()
	})
	return srv, m
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %d %s", resp.StatusCode, body)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil || out.SessionID == "" {
		t.Fatalf("create session body %q: %v", body, err)
	}
	return out.SessionID
}

func rawEvent(channel string, speaker int, text string, start float64, final bool) string {
	return fmt.Sprintf(`{"channel":{"alternatives":[{"transcript":%q}]},"is_final":%t,"speaker":%d,"speakerIdentifier":%q,"start":%v,"duration":1}`,
		text, final, speaker, channel, start)
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/v1/liveness", http.StatusOK, "ok"},
		{"/v1/readiness", http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, srv.URL+tt.path, "")
			if resp.StatusCode != tt.status || body != tt.body {
				t.Errorf("GET %s = %d %q, want %d %q", tt.path, resp.StatusCode, body, tt.status, tt.body)
			}
		})
	}
}

func TestRouter_SessionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id

	batch := "[" +
		rawEvent("user", 0, "Tell me about", 0, false) + "," +
		rawEvent("user", 0, "Tell me about yourself", 0, true) + "," +
		rawEvent("remote", 0, "I am a software engineer", 5, true) + "," +
		rawEvent("remote", 1, "", 6, true) +
		"]"
	resp, body := do(t, http.MethodPost, base+"/events", batch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post events: %d %s", resp.StatusCode, body)
	}
	var res copilot.IngestResult
	_ = json.Unmarshal([]byte(body), &res)
	if res.Accepted != 3 || res.Rejected != 1 {
		t.Errorf("expected 3 accepted and 1 rejected, got %+v", res)
	}

	resp, body = do(t, http.MethodPost, base+"/events", rawEvent("remote", 1, "Let's talk about scaling", 9, true))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post single event: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, base+"/blocks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get blocks: %d", resp.StatusCode)
	}
	var blocks []transcript.Block
	if err := json.Unmarshal([]byte(body), &blocks); err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %+v", blocks)
	}
	wantSpeakers := []string{"You", "Client 1", "Client 2"}
	for i, b := range blocks {
		if b.Speaker != wantSpeakers[i] {
			t.Errorf("block %d speaker %q, want %q", i, b.Speaker, wantSpeakers[i])
		}
	}

	// Default tail is the configured prompt size.
	_, body = do(t, http.MethodGet, base+"/transcript", "")
	if want := "Client 1: I am a software engineer\nClient 2: Let's talk about scaling"; body != want {
		t.Errorf("transcript = %q, want %q", body, want)
	}
	_, body = do(t, http.MethodGet, base+"/transcript?last=0", "")
	if !strings.HasPrefix(body, "You: Tell me about yourself\n") {
		t.Errorf("full transcript = %q", body)
	}
	resp, _ = do(t, http.MethodGet, base+"/transcript?last=-1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative last, got %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, base, "")
	var info copilot.Info
	if err := json.Unmarshal([]byte(body), &info); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d %s", resp.StatusCode, body)
	}
	if info.SessionID != id || len(info.Speakers) != 3 || info.Revision != 4 {
		t.Errorf("unexpected info %+v", info)
	}

	resp, _ = do(t, http.MethodPost, base+"/reset", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("reset: %d", resp.StatusCode)
	}
	_, body = do(t, http.MethodGet, base+"/blocks", "")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("expected empty blocks after reset, got %s", body)
	}

	resp, _ = do(t, http.MethodDelete, base, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, base, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRouter_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		status int
	}{
		{"unknown session", http.MethodGet, srv.URL + "/v1/sessions/nope/blocks", "", http.StatusNotFound},
		{"delete unknown session", http.MethodDelete, srv.URL + "/v1/sessions/nope", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, base + "/events", `[{"channel":`, http.StatusBadRequest},
		{"too many events", http.MethodPost, base + "/events", "[" + strings.Repeat(rawEvent("user", 0, "x", 0, true)+",", 10) + rawEvent("user", 0, "x", 0, true) + "]", http.StatusRequestEntityTooLarge},
		{"audio channel without stt", http.MethodGet, base + "/audio/user", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, tt.url, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("%s %s = %d %s, want %d", tt.method, tt.url, resp.StatusCode, body, tt.status)
			}
		})
	}
}

func TestRouter_TooManySessions(t *testing.T) {
	srv, _ := newTestServer(t)
	createSession(t, srv)
	createSession(t, srv)

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/sessions", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/readiness", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected readiness 503 at capacity, got %d", resp.StatusCode)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) models.BlockEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.BlockEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read block event: %v", err)
	}
	return ev
}

func TestRouter_StreamBlocks(t *testing.T) {
	srv, m := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id

	do(t, http.MethodPost, base+"/events", rawEvent("user", 0, "Hello", 0, true))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/sessions/"+id+"/stream"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev.EventType != models.EventBlockSnapshot || ev.Text != "Hello" {
		t.Fatalf("expected snapshot, got %+v", ev)
	}

	do(t, http.MethodPost, base+"/events", rawEvent("remote", 0, "Hi, welcome", 2, true))
	ev = readEvent(t, conn)
	if ev.EventType != models.EventBlockOpened || ev.Speaker != "Client 1" || ev.Revision != 2 {
		t.Errorf("expected opened event, got %+v", ev)
	}

	if err := m.End(id); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Hello", "Hi, welcome"} {
		ev = readEvent(t, conn)
		if ev.EventType != models.EventBlockClosed || ev.Text != want {
			t.Errorf("expected close of %q, got %+v", want, ev)
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestRouter_StreamAudio(t *testing.T) {
	script := []mock.Line{{Speaker: 1, Partials: []string{"So"}, Final: "So, tell me more.", Duration: 1}}
	srv, m := newTestServer(t, copilot.WithSTT("mock", mock.Factory(mock.WithScript(script))))
	id := createSession(t, srv)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/sessions/"+id+"/audio/remote"), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
			t.Fatal(err)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	s, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b := s.Blocks(); len(b) == 1 && b[0].Text == "So, tell me more." {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected audio to produce the scripted final, got %+v", s.Blocks())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{copilot.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", copilot.ErrTooManySessions), http.StatusTooManyRequests},
		{copilot.ErrSessionClosed, http.StatusGone},
		{copilot.ErrSessionExpired, http.StatusGone},
		{copilot.ErrLimitExceeded, http.StatusRequestEntityTooLarge},
		{copilot.ErrUnknownChannel, http.StatusBadRequest},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
