package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/service/capture"
	"ai-live-transcription-service/internal/service/pipeline"
	"ai-live-transcription-service/internal/service/stt"
)

// SessionController is the session surface the API drives.
type SessionController interface {
	Start(ctx context.Context, sessionID string) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	ForceEndpoint() error
	Status() pipeline.Status
	Segments() []models.Segment
}

type api struct {
	sessions    SessionController
	feed        *feed.Broadcaster
	stopTimeout time.Duration
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(sessions SessionController, fb *feed.Broadcaster) http.Handler {
	a := &api{sessions: sessions, feed: fb, stopTimeout: 10 * time.Second}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/segments", a.segments)
		r.Get("/segments/ws", a.watch)

		r.Route("/session", func(r chi.Router) {
			r.Post("/start", a.start)
			r.Post("/pause", a.pause)
			r.Post("/resume", a.resume)
			r.Post("/stop", a.stop)
			r.Post("/endpoint", a.endpoint)
		})
	})

	return r
}

type startRequest struct {
	SessionID string `json:"sessionId"`
}

type segmentsResponse struct {
	SessionID string           `json:"sessionId,omitempty"`
	Segments  []models.Segment `json:"segments"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

// segments returns the current snapshot. ?after=N limits it to segments
// with a turn order greater than N.
func (a *api) segments(w http.ResponseWriter, r *http.Request) {
	segs := a.sessions.Segments()
	if v := r.URL.Query().Get("after"); v != "" {
		after, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "after must be an integer"})
			return
		}
		filtered := segs[:0]
		for _, s := range segs {
			if s.TurnOrder > after {
				filtered = append(filtered, s)
			}
		}
		segs = filtered
	}
	if segs == nil {
		segs = []models.Segment{}
	}
	writeJSON(w, http.StatusOK, segmentsResponse{SessionID: a.sessions.Status().SessionID, Segments: segs})
}

func (a *api) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if err := a.sessions.Start(r.Context(), req.SessionID); err != nil {
		a.fail(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Pause(); err != nil {
		a.fail(w, r, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Resume(); err != nil {
		a.fail(w, r, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *api) stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.stopTimeout)
	defer cancel()
	if err := a.sessions.Stop(ctx); err != nil {
		a.fail(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

// endpoint closes the open turn early.
func (a *api) endpoint(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.ForceEndpoint(); err != nil {
		a.fail(w, r, "endpoint", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	log.Warn().
		Err(err).
		Str("op", op).
		Int("status", code).
		Str("requestId", middleware.GetReqID(r.Context())).
		Msg("Session request failed")
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrSessionActive),
		errors.Is(err, pipeline.ErrNoSession),
		errors.Is(err, capture.ErrInvalidTransition),
		errors.Is(err, stt.ErrChannelClosed):
		return http.StatusConflict
	case errors.Is(err, stt.ErrEndpointUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, stt.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
