package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/verilive/livenessd/pkg/core/liveness"
	"github.com/verilive/livenessd/pkg/gateway/config"
	"github.com/verilive/livenessd/pkg/gateway/handlers"
	"github.com/verilive/livenessd/pkg/gateway/lifecycle"
	"github.com/verilive/livenessd/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	orchestrator *liveness.Orchestrator
	lifecycle    *lifecycle.Lifecycle
}

func New(cfg config.Config, orch *liveness.Orchestrator, lc *lifecycle.Lifecycle, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if lc == nil {
		lc = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		orchestrator: orch,
		lifecycle:    lc,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Active:    s.orchestrator.ActiveSessions,
	})

	s.mux.Handle("/webhook", handlers.WebhookHandler{
		Config:       s.cfg,
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})

	s.mux.Handle("POST /v1/sessions", handlers.StartSessionHandler{
		Config:       s.cfg,
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})
	s.mux.Handle("DELETE /v1/sessions/{meeting}", handlers.StopSessionHandler{
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})
	s.mux.Handle("POST /v1/sessions/{meeting}/participants/{participant}/retry", handlers.RetryParticipantHandler{
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})
	s.mux.Handle("POST /v1/pending", handlers.RegisterPendingHandler{
		Config:       s.cfg,
		Orchestrator: s.orchestrator,
		Logger:       s.logger,
	})
	s.mux.Handle("GET /v1/results/{meeting}", handlers.ResultsHandler{
		Store:  s.orchestrator.Store(),
		Logger: s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// SetDraining flips readiness so load balancers stop routing new work here.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// CloseSessions stops every active session and waits for in-flight pipelines
// until ctx expires.
func (s *Server) CloseSessions(ctx context.Context) {
	s.orchestrator.Close(ctx)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, []string{"/webhook", "/healthz", "/readyz"}, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
