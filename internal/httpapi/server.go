package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openscreen/triage/internal/config"
	"github.com/openscreen/triage/internal/engine"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/session"
)

type Server struct {
	cfg          config.Config
	orchestrator *engine.Orchestrator
	metrics      *observability.Metrics
	window       *observability.StageWindow
}

func New(cfg config.Config, orchestrator *engine.Orchestrator, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		metrics:      metrics,
		window:       window,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/diagnostics/stages", s.handleStageDiagnostics)

	r.Post("/v1/sessions", s.handleStartSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/messages", s.handleMessage)
	r.Post("/v1/sessions/{id}/pause", s.handlePause)
	r.Post("/v1/sessions/{id}/resume", s.handleResume)
	r.Post("/v1/sessions/{id}/cancel", s.handleCancel)
	r.Get("/v1/sessions/{id}/transcript", s.handleTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStageDiagnostics(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "stage window not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

type startSessionRequest struct {
	PatientID  string         `json:"patient_id"`
	StrategyID string         `json:"strategy_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.StrategyID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "strategy_id is required")
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		req.PatientID = "anonymous"
	}

	attrs := make(map[string]fieldmap.Value, len(req.Attributes))
	for k, raw := range req.Attributes {
		if v, ok := fieldmap.FromAny(raw); ok {
			attrs[k] = v
		}
	}

	reply, err := s.orchestrator.StartSession(r.Context(), req.PatientID, req.StrategyID, attrs)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownStrategy) {
			respondError(w, http.StatusNotFound, "strategy_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, reply)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	reply, err := s.orchestrator.HandleMessage(r.Context(), id, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		case errors.Is(err, engine.ErrSessionTerminal):
			respondError(w, http.StatusConflict, "session_terminal", err.Error())
		case errors.Is(err, engine.ErrSessionNotActive):
			respondError(w, http.StatusConflict, "session_not_active", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "message_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orchestrator.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.orchestrator.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.orchestrator.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.orchestrator.Cancel)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, sessionID string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		case errors.Is(err, session.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "invalid_transition", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "transition_failed", err.Error())
		}
		return
	}
	sess, err := s.orchestrator.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := s.orchestrator.Transcript(r.Context(), id, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": messages})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
