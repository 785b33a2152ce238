package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"parley/internal/auth"
	"parley/internal/models"

	"go.uber.org/zap"
)

const maxArgsSize = 1 << 20

// TokenVerifier yields the external user id a session token was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type API struct {
	registry *Registry
	verifier TokenVerifier
	logger   *zap.Logger
}

func New(registry *Registry, verifier TokenVerifier, logger *zap.Logger) *API {
	return &API{registry: registry, verifier: verifier, logger: logger}
}

type response struct {
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func (a *API) QueryHandler(w http.ResponseWriter, r *http.Request) {
	a.invoke(w, r, KindQuery)
}

func (a *API) MutationHandler(w http.ResponseWriter, r *http.Request) {
	a.invoke(w, r, KindMutation)
}

func (a *API) invoke(w http.ResponseWriter, r *http.Request, kind Kind) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	externalID, err := a.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		a.writeError(w, err)
		return
	}

	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgsSize))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: failed to read arguments: %v", models.ErrValidation, err))
		return
	}

	value, err := a.registry.Invoke(r.Context(), kind, r.PathValue("name"), externalID, args)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, response{Value: value})
}

// StatusCode maps an error to the HTTP status of the query/mutation surface.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotAMember), errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("operation failed", zap.Error(err))
		msg = "internal error"
	}
	a.writeJSON(w, status, response{Error: msg, Code: models.ErrorCode(err)})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", zap.Error(err))
	}
}
