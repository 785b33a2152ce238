package http

import (
	"context"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/observability"
	"parley/internal/webhook"
	"parley/internal/ws"

	"go.uber.org/zap"
)

type APIServer struct {
	server *http.Server
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, live *ws.Server, hooks *webhook.Handler, addr string, logger *zap.Logger) *APIServer {
	mux := http.NewServeMux()

	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, observability.HTTPMetrics(route, h))
	}

	handle("POST /api/query/{name}", "query", apiHandlers.QueryHandler)
	handle("POST /api/mutation/{name}", "mutation", apiHandlers.MutationHandler)
	handle("POST /webhooks/identity", "webhook", hooks.ServeHTTP)

	// the upgrade needs the raw ResponseWriter, so no metrics wrapper here
	mux.HandleFunc("GET /api/live", live.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.logger.Info("API server started", zap.String("addr", s.server.Addr))
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
