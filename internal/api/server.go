package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/engine"
	"github.com/Sharpy077/m2mmoving-sub000/internal/guardrail"
	"github.com/Sharpy077/m2mmoving-sub000/internal/metrics"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

// Conversations is the part of the engine the HTTP surface drives.
type Conversations interface {
	Start(ctx context.Context, visitorID string) (*engine.Reply, error)
	HandleMessage(ctx context.Context, conversationID, visitorID, text string) (*engine.Reply, error)
	Recover(ctx context.Context, visitorID string) (*engine.Reply, error)
	Resume(ctx context.Context, conversationID string) (*engine.Reply, error)
	Snapshot(ctx context.Context, conversationID string) (*engine.State, error)
	Health(ctx context.Context, conversationID string) (guardrail.Health, error)
	Reengagement(ctx context.Context, conversationID string) (dialogue.Reengagement, error)
	Close(ctx context.Context, conversationID string) error
	Delete(ctx context.Context, conversationID string) error
}

type Server struct {
	router  *chi.Mux
	port    int
	convs   Conversations
	hub     *notify.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	http    *http.Server
}

type Option func(*Server)

// WithHub enables the live event stream of a conversation.
func WithHub(h *notify.Hub) Option { return func(s *Server) { s.hub = h } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(port int, apiToken string, convs Conversations, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		convs:  convs,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	router.Get("/health", s.health)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/recovery", s.recoverConversation)
		r.Post("/conversations", s.startConversation)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Delete("/", s.deleteConversation)
			r.Post("/messages", s.postMessage)
			r.Post("/resume", s.resumeConversation)
			r.Post("/close", s.closeConversation)
			r.Get("/health", s.conversationHealth)
			r.Get("/reengagement", s.reengagement)
			r.Get("/events", s.events)
		})
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	VisitorID string `json:"visitorId"`
}

type messageRequest struct {
	VisitorID string `json:"visitorId"`
	Message   string `json:"message"`
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}
	reply, err := s.convs.Start(r.Context(), req.VisitorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	reply, err := s.convs.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.VisitorID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) recoverConversation(w http.ResponseWriter, r *http.Request) {
	visitor := r.URL.Query().Get("visitor")
	if visitor == "" {
		writeError(w, http.StatusBadRequest, "visitor is required")
		return
	}
	reply, err := s.convs.Recover(r.Context(), visitor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) resumeConversation(w http.ResponseWriter, r *http.Request) {
	reply, err := s.convs.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	state, err := s.convs.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) conversationHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.convs.Health(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) reengagement(w http.ResponseWriter, r *http.Request) {
	re, err := s.convs.Reengagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, re)
}

func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.convs.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.convs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
