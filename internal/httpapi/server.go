package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bfalabs/bfa-assistant/internal/chat"
	"github.com/bfalabs/bfa-assistant/internal/chatlog"
	"github.com/bfalabs/bfa-assistant/internal/config"
	"github.com/bfalabs/bfa-assistant/internal/measurement"
	"github.com/bfalabs/bfa-assistant/internal/observability"
	"github.com/bfalabs/bfa-assistant/internal/session"
)

// APIPrefix is the mount point of the measurement API.
const APIPrefix = "/api/v1/bfa"

const readyTimeout = 2 * time.Second

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Config   config.Config
	Sessions *session.Manager
	Chat     *chat.Service
	Store    measurement.Store
	Workflow *measurement.Workflow
	ChatLog  chatlog.Store
	Metrics  *observability.Metrics
	Logger   *log.Logger
}

type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	chat       *chat.Service
	store      measurement.Store
	workflow   *measurement.Workflow
	calculator *measurement.Calculator
	chatlog    chatlog.Store
	metrics    *observability.Metrics
	logger     *log.Logger
	upgrader   websocket.Upgrader
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(d.Config.MetricsNamespace)
	}
	cfg := d.Config
	return &Server{
		cfg:        cfg,
		sessions:   d.Sessions,
		chat:       d.Chat,
		store:      d.Store,
		workflow:   d.Workflow,
		calculator: measurement.NewCalculator(d.Store),
		chatlog:    d.ChatLog,
		metrics:    metrics,
		logger:     logger.WithPrefix("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive a chat socket from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/status", s.handleOnboardingStatus)
		r.Get("/settings", s.handleUISettings)
		r.Get("/persons", s.handleListPersons)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/submit", s.handleSubmitTask)
		r.Get("/history", s.handleHistory)
		r.Get("/projects/historical", s.handleHistoricalProjects)
		r.Get("/projects/historical/{id}/details", s.handleHistoricalDetails)
		r.Get("/baselines", s.handleBaselines)
		r.Get("/strategies", s.handleStrategies)
		r.Post("/calculations/generate", s.handleGenerateCalculation)
		r.Post("/calculations/modify", s.handleModifyCalculation)
		r.Post("/calculations/validate", s.handleValidateCalculation)

		r.Post("/chat", s.handleChat)
		r.Post("/chat/events", s.handleChatEvents)
		r.Get("/chat/ws", s.handleChatWS)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/login", s.handleLogin)
		r.Post("/sessions/{id}/logout", s.handleLogout)
		r.Post("/sessions/{id}/end", s.handleEndSession)
		r.Post("/sessions/{id}/actions", s.handleSessionAction)
		r.Get("/sessions/{id}/conversations", s.handleConversations)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"store_mode":      s.storeMode(),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	switch s.store.(type) {
	case *measurement.PostgresCatalog:
		return "postgres"
	case *measurement.MemoryCatalog:
		return "in-memory"
	default:
		return "custom"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type dataResponse struct {
	Data any `json:"data"`
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

func respondData(w http.ResponseWriter, status int, v any) {
	respondJSON(w, status, dataResponse{Data: v})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps service errors to status codes.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	respondError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusGone, "session_ended"
	case errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusConflict, "not_logged_in"
	case errors.Is(err, session.ErrTurnInFlight):
		return http.StatusConflict, "turn_in_flight"
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, measurement.ErrTaskNotFound):
		return http.StatusNotFound, "task_not_found"
	case errors.Is(err, measurement.ErrPersonNotFound):
		return http.StatusNotFound, "person_not_found"
	case errors.Is(err, measurement.ErrProjectNotFound):
		return http.StatusNotFound, "project_not_found"
	case errors.Is(err, measurement.ErrStrategyNotFound):
		return http.StatusNotFound, "strategy_not_found"
	case errors.Is(err, measurement.ErrBaselineNotFound):
		return http.StatusNotFound, "baseline_not_found"
	case errors.Is(err, measurement.ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found"
	case errors.Is(err, measurement.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, measurement.ErrInvalidStage):
		return http.StatusConflict, "invalid_stage"
	case errors.Is(err, measurement.ErrNoBaselines):
		return http.StatusUnprocessableEntity, "no_baselines"
	case errors.Is(err, measurement.ErrUnknownCommand):
		return http.StatusUnprocessableEntity, "unknown_command"
	case errors.Is(err, measurement.ErrEntryNotFound):
		return http.StatusUnprocessableEntity, "entry_not_found"
	case errors.Is(err, measurement.ErrAmbiguousEntry):
		return http.StatusUnprocessableEntity, "ambiguous_entry"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
