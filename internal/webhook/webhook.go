package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/users"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"
)

const (
	maxBodySize = 1 << 20

	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

var (
	errMissingSecret  = errors.New("webhook secret is not configured")
	errMissingHeaders = errors.New("missing webhook headers")
)

// UserSyncer applies identity-provider user events.
type UserSyncer interface {
	Upsert(ctx context.Context, profile users.Profile) (models.User, error)
	DeleteByExternalID(ctx context.Context, externalID string) error
}

type Event struct {
	Type string    `json:"type"`
	Data EventUser `json:"data"`
}

type EventUser struct {
	ID             string         `json:"id"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
	FirstName      *string        `json:"first_name"`
	LastName       *string        `json:"last_name"`
	ImageURL       *string        `json:"image_url"`
}

type EmailAddress struct {
	EmailAddress string `json:"email_address"`
}

// Profile maps the event payload to the user profile fields.
func (u EventUser) Profile() users.Profile {
	var email string
	if len(u.EmailAddresses) > 0 {
		email = u.EmailAddresses[0].EmailAddress
	}
	name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName))
	if name == "" {
		name = users.AnonymousName
	}
	return users.Profile{
		ExternalID:  u.ID,
		Email:       email,
		DisplayName: name,
		AvatarURL:   deref(u.ImageURL),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Handler receives signed user events from the identity provider.
type Handler struct {
	webhook   *svix.Webhook
	secretErr error
	users     UserSyncer
	logger    *zap.Logger
}

func NewHandler(secret string, users UserSyncer, logger *zap.Logger) *Handler {
	h := &Handler{users: users, logger: logger}
	if secret == "" {
		h.secretErr = errMissingSecret
	} else {
		h.webhook, h.secretErr = svix.NewWebhook(secret)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secretErr != nil {
		h.logger.Error("webhook secret is invalid", zap.Error(h.secretErr))
		http.Error(w, "Webhook secret not configured", http.StatusInternalServerError)
		return
	}

	headers, err := signatureHeaders(r)
	if err != nil {
		observability.WebhookEvent("", "rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := headers.Get("svix-id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.webhook.Verify(body, headers); err != nil {
		h.logger.Warn("rejected webhook", zap.String("webhook_id", id), zap.Error(err))
		observability.WebhookEvent("", "rejected")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		observability.WebhookEvent("", "rejected")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case EventUserCreated, EventUserUpdated:
		if evt.Data.ID == "" {
			observability.WebhookEvent(evt.Type, "rejected")
			http.Error(w, "Missing user id", http.StatusBadRequest)
			return
		}
		if _, err := h.users.Upsert(r.Context(), evt.Data.Profile()); err != nil {
			err = fmt.Errorf("%w: %w", models.ErrUpstreamSync, err)
			h.logger.Error("failed to sync user",
				zap.String("event", evt.Type),
				zap.String("external_id", evt.Data.ID),
				zap.Error(err))
			observability.WebhookEvent(evt.Type, "failed")
			http.Error(w, "Error syncing user", http.StatusInternalServerError)
			return
		}
		observability.WebhookEvent(evt.Type, "applied")
	case EventUserDeleted:
		if evt.Data.ID == "" {
			observability.WebhookEvent(evt.Type, "ignored")
			break
		}
		if err := h.users.DeleteByExternalID(r.Context(), evt.Data.ID); err != nil {
			h.logger.Error("failed to delete user",
				zap.String("external_id", evt.Data.ID),
				zap.Error(err))
			observability.WebhookEvent(evt.Type, "failed")
			break
		}
		observability.WebhookEvent(evt.Type, "applied")
	default:
		observability.WebhookEvent(evt.Type, "ignored")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook processed"))
}

// signatureHeaders collects the delivery headers under their svix-* names.
// Unbranded webhook-* names take precedence.
func signatureHeaders(r *http.Request) (http.Header, error) {
	headers := make(http.Header, 3)
	for _, name := range []string{"id", "timestamp", "signature"} {
		v := r.Header.Get("webhook-" + name)
		if v == "" {
			v = r.Header.Get("svix-" + name)
		}
		if strings.TrimSpace(v) == "" {
			return nil, errMissingHeaders
		}
		headers.Set("svix-"+name, v)
	}
	return headers, nil
}

// Sign returns the v1 signature header value of a webhook delivery.
func Sign(secret, id string, ts time.Time, body []byte) (string, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return "", fmt.Errorf("invalid webhook secret: %w", err)
	}
	return wh.Sign(id, ts, body)
}
