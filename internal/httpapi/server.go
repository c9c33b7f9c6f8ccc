package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lmoretti/elara/internal/config"
	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/engine"
	"github.com/lmoretti/elara/internal/ledger"
	"github.com/lmoretti/elara/internal/memory"
	"github.com/lmoretti/elara/internal/observability"
	"github.com/lmoretti/elara/internal/protocol"
	"github.com/lmoretti/elara/internal/session"
)

type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	ledger   ledger.UsageLedger
	registry *session.Registry
	stages   *observability.PipelineStageWindow
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, lg ledger.UsageLedger, registry *session.Registry, stages *observability.PipelineStageWindow, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		ledger:   lg,
		registry: registry,
		stages:   stages,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin. This prevents other websites from driving the user's
				// companion call if Elara is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/perf", s.handlePerf)

	r.Post("/api/conversations/{companionID}/turns", s.handleAddTurn)
	r.Post("/api/conversations/{companionID}/flush", s.handleFlush)
	r.Get("/api/context/{companionID}", s.handleContext)
	r.Post("/api/milestones/{companionID}", s.handleAddMilestone)
	r.Put("/api/profile/{companionID}", s.handleUpdateProfile)
	r.Get("/api/memory/{companionID}", s.handleGetMemory)

	r.Get("/ws/voice", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

type turnRequest struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAddTurn(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}
	if req.Role != conversation.RoleUser && req.Role != conversation.RoleAssistant {
		respondError(w, http.StatusBadRequest, "invalid_role", "role must be user or assistant")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "missing_content", "content is required")
		return
	}

	s.engine.AddTurn(req.UserID, companionID, req.Role, req.Content)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"buffered": s.engine.Pipeline(req.UserID, companionID).BufferedTurns(),
	})
}

type flushRequest struct {
	UserID string `json:"user_id"`
}

// handleFlush is the teardown hook: clients call it when the user navigates
// away or switches companions, so the remaining buffer gets one last chance
// to become memory.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	var req flushRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.flushTimeout())
	defer cancel()
	if err := s.engine.Release(ctx, req.UserID, companionID); err != nil {
		respondError(w, http.StatusBadGateway, "flush_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flushed": true})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	userID, ok := s.userIDQuery(w, r)
	if !ok {
		return
	}

	block, err := s.engine.ContextBlock(r.Context(), userID, companionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "context_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"context": block})
}

type milestoneRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handleAddMilestone(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	var req milestoneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	if err := s.engine.AddMilestone(r.Context(), req.UserID, companionID, req.Text); err != nil {
		respondError(w, http.StatusInternalServerError, "milestone_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"recorded": true})
}

type profileRequest struct {
	UserID  string                 `json:"user_id"`
	Profile memory.PersonalProfile `json:"profile"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	if err := s.engine.UpdateProfile(r.Context(), req.UserID, companionID, req.Profile); err != nil {
		respondError(w, http.StatusInternalServerError, "profile_update_failed", err.Error())
		return
	}
	rec, err := s.engine.Memory(r.Context(), req.UserID, companionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile_read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec.PersonalProfile)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	companionID, ok := s.companionID(w, r)
	if !ok {
		return
	}
	userID, ok := s.userIDQuery(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Memory(r.Context(), userID, companionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "memory_read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) flushTimeout() time.Duration {
	if s.cfg.FlushTimeout <= 0 {
		return 30 * time.Second
	}
	return s.cfg.FlushTimeout
}

func (s *Server) companionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "companionID"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_companion_id", "companion id is required")
		return "", false
	}
	return id, true
}

func (s *Server) userIDQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return "", false
	}
	return id, true
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

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ConnectionState:
		return m.Type, true
	case protocol.TranscriptDelta:
		return m.Type, true
	case protocol.UtteranceComplete:
		return m.Type, true
	case protocol.UserTranscript:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
