// Package httpapi exposes users, conversations, tutor chat and health over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/learnaware/tutor/internal/config"
	"github.com/learnaware/tutor/internal/conversations"
	"github.com/learnaware/tutor/internal/health"
	"github.com/learnaware/tutor/internal/llm"
	"github.com/learnaware/tutor/internal/observability"
	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/tutor"
	"github.com/learnaware/tutor/internal/users"
)

type UserStore interface {
	List(ctx context.Context) ([]users.User, error)
	Create(ctx context.Context, reg users.Registration) (users.User, error)
	FindByEmail(ctx context.Context, email string) (users.User, error)
	Update(ctx context.Context, email string, upd users.Update) (users.User, bool, error)
	Delete(ctx context.Context, email string) error
	DeleteAll(ctx context.Context) (int64, error)
}

type ConversationStore interface {
	List(ctx context.Context) ([]conversations.Conversation, error)
	Save(ctx context.Context, email string, sessions []conversations.Session) (conversations.SaveResult, error)
	SessionIDs(ctx context.Context, email string) ([]string, error)
	Get(ctx context.Context, email, sessionID string) (conversations.Conversation, error)
	Delete(ctx context.Context, email, sessionID string) error
	FindBySession(ctx context.Context, sessionID string) ([]conversations.Conversation, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

type Tutor interface {
	Chat(ctx context.Context, req tutor.ChatRequest, onDelta llm.DeltaHandler) (tutor.ChatResult, error)
	ActiveTurns() []tutor.Turn
}

type HealthChecker interface {
	CheckDatabase(ctx context.Context) health.Report
}

// Readiness reports whether the database can serve requests.
type Readiness interface {
	IsConnected() bool
	DatabaseInitialized() bool
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Users         UserStore
	Conversations ConversationStore
	Tutor         Tutor
	Health        HealthChecker
	Readiness     Readiness
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   zerolog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
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
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.accessLog)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the LearnAware tutor API!"})
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/database", s.handleDatabaseHealth)
		r.Get("/perf/latency", s.handlePerfLatency)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/users", s.handleListUsers)
			r.Delete("/users", s.handleDeleteAllUsers)
			r.Post("/register", s.handleRegister)
			r.Get("/users/{email}", s.handleGetUser)
			r.Patch("/users/{email}", s.handleUpdateUser)
			r.Delete("/users/{email}", s.handleDeleteUser)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleSaveConversations)
			r.Get("/{email}", s.handleListSessionIDs)
			r.Get("/{email}/{sessionID}", s.handleGetConversation)
			r.Delete("/{email}/{sessionID}", s.handleDeleteConversation)
		})
		r.Get("/sessions/{sessionID}", s.handleFindBySession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteBySession)

		r.Post("/tutor/chat", s.handleChat)
		r.Get("/tutor/ws", s.handleChatWS)
		r.Get("/tutor/turns", s.handleActiveTurns)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := s.deps.Readiness != nil && s.deps.Readiness.IsConnected()
	initialized := s.deps.Readiness != nil && s.deps.Readiness.DatabaseInitialized()
	status, code := "ready", http.StatusOK
	if !connected || !initialized {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":         status,
		"is_connected":   connected,
		"db_initialized": initialized,
	})
}

func (s *Server) handleDatabaseHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Health.CheckDatabase(r.Context()))
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{Operations: []observability.LatencyStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Metrics.SnapshotLatency())
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowAnyOrigin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTPRequest(r.Method, route, status, d)
		}

		ev := s.logger.Info()
		if route == "/healthz" || route == "/readyz" || route == "/metrics" {
			ev = s.logger.Debug()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", d).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type dataResponse struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
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

// decodeValid decodes the body into out and validates its struct tags.
func (s *Server) decodeValid(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil {
		return err
	}
	return s.validate.Struct(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFailure maps err onto the public error shape.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")
	}
	respondError(w, status, code, message)
}

func classifyError(err error) (int, string, string) {
	var (
		validationErrs validator.ValidationErrors
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		storeErr       *store.Error
	)
	switch {
	case errors.Is(err, errEmptyBody):
		return http.StatusBadRequest, "invalid_request", "request body is required"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed JSON body: %v", err)
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, "validation_error", describeValidation(validationErrs)
	case errors.Is(err, users.ErrNoChanges),
		errors.Is(err, conversations.ErrNoConversations),
		errors.Is(err, tutor.ErrEmptyMessage):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, llm.ErrUpstream):
		return http.StatusBadGateway, "llm_error", "the tutor could not produce a reply, please try again later"
	case errors.As(err, &storeErr):
		msg := storeErr.Message
		if storeErr.Kind == store.KindUnexpected || msg == "" {
			msg = "an unexpected error occurred"
		}
		return store.HTTPStatus(storeErr.Kind), string(storeErr.Kind), msg
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled", "request was canceled before it completed"
	default:
		return http.StatusInternalServerError, "internal_error", "an unexpected error occurred"
	}
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// pathParam returns the unescaped URL parameter; emails may arrive
// percent-encoded.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return strings.TrimSpace(raw)
}
