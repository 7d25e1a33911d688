package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"copilot-transcript-service/internal/app"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/service/copilot"
)

// maxEventBody bounds a single events request body.
const maxEventBody = 4 << 20

type api struct {
	sessions     *copilot.Manager
	promptBlocks int
	log          zerolog.Logger
}

func newAPI(application *app.Application) *api {
	return &api{
		sessions:     application.Sessions,
		promptBlocks: application.Cfg.Transcript.PromptBlocks,
		log:          logging.WithComponent("http-api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, copilot.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, copilot.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, copilot.ErrSessionClosed), errors.Is(err, copilot.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, copilot.ErrLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, copilot.ErrUnknownChannel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*copilot.Session, bool) {
	s, err := a.sessions.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return nil, false
	}
	return s, true
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Create(r.Context())
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": s.ID()})
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *api) getBlocks(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Blocks())
}

// getTranscript renders the tail of the transcript for a prompt. last=0
// renders everything.
func (a *api) getTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	last := a.promptBlocks
	if v := r.URL.Query().Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeError(w, r, http.StatusBadRequest, errors.New("last must be a non-negative integer"))
			return
		}
		last = n
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.Transcript(last))
}

func (a *api) postEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	res, err := s.IngestRaw(body)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Anything else is an undecodable body.
			status = http.StatusBadRequest
		}
		a.writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := a.sessions.End(id); err != nil {
		if errors.Is(err, copilot.ErrSessionNotFound) {
			a.writeError(w, r, http.StatusNotFound, err)
			return
		}
		// The session is gone either way; only its STT streams failed to close.
		a.log.Warn().Err(err).Str("sessionId", id).Msg("Session ended with errors")
	}
	w.WriteHeader(http.StatusNoContent)
}
