package users

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"parley/internal/content"
	"parley/internal/models"
	"parley/internal/storage"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// AnonymousName is stored for users whose display name is empty once
// markup is stripped.
const AnonymousName = "Anonymous"

// Profile holds the identity-provider fields of a user.
type Profile struct {
	ExternalID  string `json:"externalId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Directory is the user directory: identity sync and profile lookup.
type Directory struct {
	store storage.Transactor
	now   func() time.Time
}

func NewDirectory(store storage.Transactor) *Directory {
	return &Directory{
		store: store,
		now:   time.Now,
	}
}

// GetByExternalID returns the user synced under externalID, or nil.
func (d *Directory) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user *models.User
	err := d.store.View(ctx, func(tx *storage.Tx) error {
		u, err := tx.UserByExternalID(externalID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user = &u
		return nil
	})
	return user, err
}

// GetByID returns the user with the given ID, or nil.
func (d *Directory) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := d.store.View(ctx, func(tx *storage.Tx) error {
		u, err := tx.GetUser(id)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user = &u
		return nil
	})
	return user, err
}

// Upsert creates the user offline on first sync, otherwise patches the
// profile fields only. Presence fields are never touched by a sync.
func (d *Directory) Upsert(ctx context.Context, profile Profile) (models.User, error) {
	var user models.User
	err := d.store.Update(ctx, func(tx *storage.Tx) error {
		existing, err := tx.UserByExternalID(profile.ExternalID)
		switch {
		case err == nil:
			user = existing
		case errors.Is(err, models.ErrNotFound):
			user = models.User{
				ExternalID: profile.ExternalID,
				IsOnline:   false,
				LastSeenAt: d.now().UnixMilli(),
			}
		default:
			return err
		}

		user.Email = profile.Email
		user.DisplayName = content.PlainText(profile.DisplayName)
		if user.DisplayName == "" {
			user.DisplayName = AnonymousName
		}
		user.AvatarURL = profile.AvatarURL

		user, err = tx.PutUser(user)
		return err
	})
	return user, err
}

// ListExcluding returns every user but currentUserID whose display name or
// email contains search (case-insensitive). Online users come first, then
// users are ordered by display name.
func (d *Directory) ListExcluding(ctx context.Context, currentUserID, search string) ([]models.User, error) {
	var all []models.User
	err := d.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		all, err = tx.ListUsers()
		return err
	})
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(search))
	users := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.ID == currentUserID {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(u.DisplayName), query) &&
			!strings.Contains(strings.ToLower(u.Email), query) {
			continue
		}
		users = append(users, u)
	}

	c := collate.New(language.Und)
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].IsOnline != users[j].IsOnline {
			return users[i].IsOnline
		}
		return c.CompareString(users[i].DisplayName, users[j].DisplayName) < 0
	})

	return users, nil
}

// DeleteByExternalID hard deletes the user. It is a no-op when absent.
func (d *Directory) DeleteByExternalID(ctx context.Context, externalID string) error {
	return d.store.Update(ctx, func(tx *storage.Tx) error {
		user, err := tx.UserByExternalID(externalID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.DeleteUser(user.ID)
	})
}
