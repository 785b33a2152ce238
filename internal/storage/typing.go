package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"parley/internal/models"
)

func typingMarkerFromDB(m DBTypingMarker) models.TypingMarker {
	return models.TypingMarker{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		ExpiresAt:      m.ExpiresAt,
	}
}

func (t *Tx) getDBTypingMarker(id []byte) (DBTypingMarker, error) {
	var dbMarker DBTypingMarker
	ok, err := getRecord(t.tx.Bucket(bucketTypingMarkers), id, &dbMarker)
	if err != nil {
		return DBTypingMarker{}, err
	}
	if !ok {
		return DBTypingMarker{}, fmt.Errorf("typing index points at missing marker %s", id)
	}
	return dbMarker, nil
}

// TypingMarker returns the marker of userID in conversationID, expired or not.
func (t *Tx) TypingMarker(conversationID, userID string) (models.TypingMarker, error) {
	t.read(TypingTopic(conversationID))

	byConv, err := t.subBucket(bucketTypingByConversation, conversationID)
	if err != nil {
		return models.TypingMarker{}, err
	}
	if byConv == nil {
		return models.TypingMarker{}, notFound("typing marker in", conversationID)
	}
	id := byConv.Get([]byte(userID))
	if id == nil {
		return models.TypingMarker{}, notFound("typing marker in", conversationID)
	}
	dbMarker, err := t.getDBTypingMarker(id)
	if err != nil {
		return models.TypingMarker{}, err
	}
	return typingMarkerFromDB(dbMarker), nil
}

// TypingMarkers returns every marker of the conversation, expired or not.
func (t *Tx) TypingMarkers(conversationID string) ([]models.TypingMarker, error) {
	t.read(TypingTopic(conversationID))

	byConv, err := t.subBucket(bucketTypingByConversation, conversationID)
	if err != nil || byConv == nil {
		return nil, err
	}

	var markers []models.TypingMarker
	err = byConv.ForEach(func(k, v []byte) error {
		dbMarker, err := t.getDBTypingMarker(v)
		if err != nil {
			return err
		}
		markers = append(markers, typingMarkerFromDB(dbMarker))
		return nil
	})
	return markers, err
}

// PutTypingMarker inserts or refreshes the marker of (conversation, user).
// An existing marker for the pair keeps its ID.
func (t *Tx) PutTypingMarker(m models.TypingMarker) (models.TypingMarker, error) {
	byConv, err := t.subBucket(bucketTypingByConversation, m.ConversationID)
	if err != nil {
		return models.TypingMarker{}, err
	}
	byExpiry := t.tx.Bucket(bucketTypingByExpiry)

	if id := byConv.Get([]byte(m.UserID)); id != nil {
		previous, err := t.getDBTypingMarker(id)
		if err != nil {
			return models.TypingMarker{}, err
		}
		if err := byExpiry.Delete(previous.ExpiryKey()); err != nil {
			return models.TypingMarker{}, err
		}
		m.ID = previous.ID
	}
	if m.ID == "" {
		m.ID = newID()
	}

	dbMarker := DBTypingMarker{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		ExpiresAt:      m.ExpiresAt,
	}
	if err := putRecord(t.tx.Bucket(bucketTypingMarkers), &dbMarker); err != nil {
		return models.TypingMarker{}, fmt.Errorf("failed to put typing marker: %w", err)
	}
	if err := byConv.Put([]byte(m.UserID), []byte(m.ID)); err != nil {
		return models.TypingMarker{}, err
	}
	if err := byExpiry.Put(dbMarker.ExpiryKey(), []byte(m.ID)); err != nil {
		return models.TypingMarker{}, err
	}

	t.wrote(TypingTopic(m.ConversationID))
	return m, nil
}

// DeleteTypingMarker removes the marker and its index entries. Deleting a
// missing marker is a no-op.
func (t *Tx) DeleteTypingMarker(id string) error {
	markers := t.tx.Bucket(bucketTypingMarkers)

	var dbMarker DBTypingMarker
	ok, err := getRecord(markers, []byte(id), &dbMarker)
	if err != nil || !ok {
		return err
	}

	if err := markers.Delete([]byte(id)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketTypingByExpiry).Delete(dbMarker.ExpiryKey()); err != nil {
		return err
	}
	byConv, err := t.subBucket(bucketTypingByConversation, dbMarker.ConversationID)
	if err != nil {
		return err
	}
	if err := byConv.Delete([]byte(dbMarker.UserID)); err != nil {
		return err
	}

	t.wrote(TypingTopic(dbMarker.ConversationID))
	return nil
}

// ExpiredTypingMarkers returns the markers across all conversations with
// expiresAt strictly before the given time, oldest first.
func (t *Tx) ExpiredTypingMarkers(before int64) ([]models.TypingMarker, error) {
	bound := make([]byte, 8)
	binary.BigEndian.PutUint64(bound, uint64(before))

	var markers []models.TypingMarker
	c := t.tx.Bucket(bucketTypingByExpiry).Cursor()
	for k, v := c.First(); k != nil && bytes.Compare(k[:8], bound) < 0; k, v = c.Next() {
		dbMarker, err := t.getDBTypingMarker(v)
		if err != nil {
			return nil, err
		}
		markers = append(markers, typingMarkerFromDB(dbMarker))
	}
	return markers, nil
}
