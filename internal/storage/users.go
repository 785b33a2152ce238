package storage

import (
	"fmt"

	"parley/internal/models"
)

func userFromDB(u DBUser) models.User {
	return models.User{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		IsOnline:    u.IsOnline,
		LastSeenAt:  u.LastSeenAt,
	}
}

// GetUser returns the user with the given ID.
func (t *Tx) GetUser(id string) (models.User, error) {
	t.read(UserTopic(id))

	var dbUser DBUser
	ok, err := getRecord(t.tx.Bucket(bucketUsers), []byte(id), &dbUser)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, notFound("user", id)
	}
	return userFromDB(dbUser), nil
}

// UserByExternalID looks a user up through the unique external ID index.
func (t *Tx) UserByExternalID(externalID string) (models.User, error) {
	t.read(ExternalIDTopic(externalID))

	id := t.tx.Bucket(bucketUsersByExternalID).Get([]byte(externalID))
	if id == nil {
		return models.User{}, notFound("user with external id", externalID)
	}

	var dbUser DBUser
	ok, err := getRecord(t.tx.Bucket(bucketUsers), id, &dbUser)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, fmt.Errorf("external id index points at missing user %s", id)
	}
	return userFromDB(dbUser), nil
}

// ListUsers returns all users stored in the database.
func (t *Tx) ListUsers() ([]models.User, error) {
	t.read(TopicUsers)

	var users []models.User
	err := t.tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(v); err != nil {
			return err
		}
		users = append(users, userFromDB(dbUser))
		return nil
	})
	return users, err
}

// PutUser inserts the user, assigning an ID when empty, or replaces the
// stored record. A second user with the same external ID is rejected.
func (t *Tx) PutUser(user models.User) (models.User, error) {
	if user.ExternalID == "" {
		return models.User{}, fmt.Errorf("%w: user missing external id", models.ErrValidation)
	}
	if user.ID == "" {
		user.ID = newID()
	}

	users := t.tx.Bucket(bucketUsers)
	byExternal := t.tx.Bucket(bucketUsersByExternalID)

	if owner := byExternal.Get([]byte(user.ExternalID)); owner != nil && string(owner) != user.ID {
		return models.User{}, fmt.Errorf("%w: external id %s already taken", models.ErrValidation, user.ExternalID)
	}

	var previous DBUser
	ok, err := getRecord(users, []byte(user.ID), &previous)
	if err != nil {
		return models.User{}, err
	}
	if ok && previous.ExternalID != user.ExternalID {
		if err := byExternal.Delete([]byte(previous.ExternalID)); err != nil {
			return models.User{}, err
		}
		t.wrote(ExternalIDTopic(previous.ExternalID))
	}

	dbUser := DBUser{
		ID:          user.ID,
		ExternalID:  user.ExternalID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		AvatarURL:   user.AvatarURL,
		IsOnline:    user.IsOnline,
		LastSeenAt:  user.LastSeenAt,
	}
	if err := putRecord(users, &dbUser); err != nil {
		return models.User{}, fmt.Errorf("failed to put user: %w", err)
	}
	if err := byExternal.Put([]byte(user.ExternalID), []byte(user.ID)); err != nil {
		return models.User{}, fmt.Errorf("failed to index user: %w", err)
	}

	t.wrote(TopicUsers, UserTopic(user.ID), ExternalIDTopic(user.ExternalID))
	return user, nil
}

// DeleteUser hard deletes the user and its external ID index entry.
// Memberships, messages and reactions of the user are kept.
func (t *Tx) DeleteUser(id string) error {
	users := t.tx.Bucket(bucketUsers)

	var dbUser DBUser
	ok, err := getRecord(users, []byte(id), &dbUser)
	if err != nil || !ok {
		return err
	}
	if err := users.Delete([]byte(id)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketUsersByExternalID).Delete([]byte(dbUser.ExternalID)); err != nil {
		return err
	}

	t.wrote(TopicUsers, UserTopic(id), ExternalIDTopic(dbUser.ExternalID))
	return nil
}
