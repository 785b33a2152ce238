package typing

import (
	"context"
	"errors"
	"time"

	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/storage"

	"go.uber.org/zap"
)

const DefaultTTL = 2 * time.Second

// Registry keeps short-lived typing markers, at most one per
// (conversation, user). A marker is live while now < expiresAt; expired
// markers are filtered at read time and swept lazily.
type Registry struct {
	store storage.Transactor
	ttl   time.Duration
	now   func() time.Time
}

func NewRegistry(store storage.Transactor, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetTyping creates or refreshes the caller's marker, then deletes every
// expired marker in the system. Callers that are not members of the
// conversation are ignored.
func (r *Registry) SetTyping(ctx context.Context, conversationID, userID string) error {
	return r.store.Update(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetMembership(conversationID, userID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}

		now := r.now()
		_, err := tx.PutTypingMarker(models.TypingMarker{
			ConversationID: conversationID,
			UserID:         userID,
			ExpiresAt:      now.Add(r.ttl).UnixMilli(),
		})
		if err != nil {
			return err
		}

		_, err = sweep(tx, now.UnixMilli())
		return err
	})
}

// GetTypingUsers returns the users with a live marker in the conversation,
// excluding the caller. Markers of deleted users are dropped.
func (r *Registry) GetTypingUsers(ctx context.Context, conversationID, excludingUserID string) ([]models.User, error) {
	users := []models.User{}
	err := r.store.View(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetMembership(conversationID, excludingUserID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}

		markers, err := tx.TypingMarkers(conversationID)
		if err != nil {
			return err
		}

		now := r.now().UnixMilli()
		for _, m := range markers {
			if m.UserID == excludingUserID || m.ExpiresAt <= now {
				continue
			}
			user, err := tx.GetUser(m.UserID)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

// StopTyping deletes the caller's marker if present.
func (r *Registry) StopTyping(ctx context.Context, conversationID, userID string) error {
	return r.store.Update(ctx, func(tx *storage.Tx) error {
		marker, err := tx.TypingMarker(conversationID, userID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.DeleteTypingMarker(marker.ID)
	})
}

// Sweep deletes every marker that expired before now and returns how many
// it removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := r.store.Update(ctx, func(tx *storage.Tx) error {
		var err error
		removed, err = sweep(tx, r.now().UnixMilli())
		return err
	})
	if err != nil {
		return 0, err
	}

	observability.AddSweepRemoved("typing", removed)
	return removed, nil
}

// Run sweeps on every interval tick until ctx is done. Reads already
// ignore expired markers, so this only bounds storage growth.
func (r *Registry) Run(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logger.Error("typing sweep failed", zap.Error(err))
			}
		}
	}
}

func sweep(tx *storage.Tx, now int64) (int, error) {
	expired, err := tx.ExpiredTypingMarkers(now)
	if err != nil {
		return 0, err
	}
	for _, m := range expired {
		if err := tx.DeleteTypingMarker(m.ID); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
