package ws

import (
	"net/http"

	"parley/internal/auth"
	"parley/internal/observability"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "parley/ws"

// TokenVerifier yields the external user id a session token was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Server struct {
	verifier TokenVerifier
	hub      *Hub
	invoker  Invoker
	upgrader *websocket.Upgrader
	logger   *zap.Logger
}

func NewServer(verifier TokenVerifier, hub *Hub, invoker Invoker, logger *zap.Logger) *Server {
	return &Server{
		verifier: verifier,
		hub:      hub,
		invoker:  invoker,
		logger:   logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // tokens, not origins, gate access
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := observability.StartSpan(r.Context(), tracerName, "ws.handshake")
	externalID, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		observability.EndSpan(span, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("external_id", externalID))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("error upgrading to websocket",
			zap.String("trace_id", observability.TraceID(ctx)),
			zap.Error(err))
		return
	}

	observability.IncLiveConnections()
	defer observability.DecLiveConnections()

	logger := s.logger.With(zap.String("external_id", externalID))
	logger.Debug("live connection opened")

	c := NewConnection(s.hub, s.invoker, conn, externalID, logger)
	if err := c.Handle(r.Context()); err != nil {
		logger.Debug("live connection closed", zap.Error(err))
	}
}
