package http

import (
	"context"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/observability"

	"go.uber.org/zap"
)

type AdminServer struct {
	server *http.Server
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAdminServer(adminHandler *api.AdminHandler, addr string, logger *zap.Logger) *AdminServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", adminHandler.HealthHandler)
	mux.HandleFunc("POST /admin/presence/sweep", adminHandler.SweepPresenceHandler)
	mux.HandleFunc("POST /admin/typing/sweep", adminHandler.SweepTypingHandler)
	mux.HandleFunc("DELETE /admin/users", adminHandler.DeleteUserHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	s.logger.Info("Admin API started", zap.String("addr", s.server.Addr))
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
