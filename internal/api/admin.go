package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Sweeper is a background reconciliation task that can also be run on
// demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// UserRemover hard deletes a synced user.
type UserRemover interface {
	DeleteByExternalID(ctx context.Context, externalID string) error
}

// Disconnector closes the live connections of a caller.
type Disconnector interface {
	DisconnectUser(externalID string)
}

type AdminHandler struct {
	presence Sweeper
	typing   Sweeper
	users    UserRemover
	live     Disconnector
	logger   *zap.Logger
}

func NewAdminHandler(presence, typing Sweeper, users UserRemover, live Disconnector, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{presence: presence, typing: typing, users: users, live: live, logger: logger}
}

type AdminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Removed int    `json:"removed"`
}

func (h *AdminHandler) SweepPresenceHandler(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "presence", h.presence)
}

func (h *AdminHandler) SweepTypingHandler(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "typing", h.typing)
}

func (h *AdminHandler) sweep(w http.ResponseWriter, r *http.Request, kind string, s Sweeper) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := s.Sweep(r.Context())
	if err != nil {
		h.logger.Error("sweep failed", zap.String("kind", kind), zap.Error(err))
		h.write(w, http.StatusInternalServerError, AdminResponse{
			Message: fmt.Sprintf("Failed to sweep %s: %v", kind, err),
		})
		return
	}

	h.write(w, http.StatusOK, AdminResponse{
		Success: true,
		Message: fmt.Sprintf("%s sweep removed %d", kind, n),
		Removed: n,
	})
}

// DeleteUserHandler removes a user by external id and drops their live
// connections. The identity webhook normally does this.
func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	externalID := r.URL.Query().Get("externalId")
	if externalID == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}

	if err := h.users.DeleteByExternalID(r.Context(), externalID); err != nil {
		h.logger.Error("failed to delete user", zap.String("external_id", externalID), zap.Error(err))
		h.write(w, http.StatusInternalServerError, AdminResponse{
			Message: fmt.Sprintf("Failed to delete user: %v", err),
		})
		return
	}

	h.live.DisconnectUser(externalID)

	h.write(w, http.StatusOK, AdminResponse{
		Success: true,
		Message: fmt.Sprintf("User %s deleted", externalID),
	})
}

func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, AdminResponse{Success: true, Message: "ok"})
}

func (h *AdminHandler) write(w http.ResponseWriter, status int, resp AdminResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to encode admin response", zap.Error(err))
	}
}
