package presence

import (
	"context"
	"errors"
	"time"

	"parley/internal/models"
	"parley/internal/storage"
)

// Tracker keeps the heartbeat-driven online/offline state of users.
// Offline transitions are client driven; a user whose client vanished
// without calling SetOffline stays online until the optional Sweeper runs.
type Tracker struct {
	store storage.Transactor
	now   func() time.Time
}

func NewTracker(store storage.Transactor) *Tracker {
	return &Tracker{
		store: store,
		now:   time.Now,
	}
}

// Heartbeat marks the user online. Missing users are ignored.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	return t.set(ctx, userID, true)
}

// SetOffline marks the user offline. Missing users are ignored.
func (t *Tracker) SetOffline(ctx context.Context, userID string) error {
	return t.set(ctx, userID, false)
}

func (t *Tracker) set(ctx context.Context, userID string, online bool) error {
	return t.store.Update(ctx, func(tx *storage.Tx) error {
		user, err := tx.GetUser(userID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user.IsOnline = online
		user.LastSeenAt = t.now().UnixMilli()
		_, err = tx.PutUser(user)
		return err
	})
}

// GetPresence returns the presence of the user, or nil when absent.
func (t *Tracker) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	var p *models.Presence
	err := t.store.View(ctx, func(tx *storage.Tx) error {
		user, err := tx.GetUser(userID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		p = presenceOf(user)
		return nil
	})
	return p, err
}

// GetBatchPresence returns the presence of every existing user in userIDs,
// in request order. Unknown IDs are skipped.
func (t *Tracker) GetBatchPresence(ctx context.Context, userIDs []string) ([]models.Presence, error) {
	result := make([]models.Presence, 0, len(userIDs))
	err := t.store.View(ctx, func(tx *storage.Tx) error {
		for _, id := range userIDs {
			user, err := tx.GetUser(id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, *presenceOf(user))
		}
		return nil
	})
	return result, err
}

func presenceOf(user models.User) *models.Presence {
	return &models.Presence{
		UserID:     user.ID,
		IsOnline:   user.IsOnline,
		LastSeenAt: user.LastSeenAt,
	}
}
