package storage

import (
	"fmt"

	"parley/internal/models"
)

func reactionFromDB(r DBReaction) models.Reaction {
	return models.Reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
}

func (t *Tx) getDBReaction(id []byte) (DBReaction, error) {
	var dbReaction DBReaction
	ok, err := getRecord(t.tx.Bucket(bucketReactions), id, &dbReaction)
	if err != nil {
		return DBReaction{}, err
	}
	if !ok {
		return DBReaction{}, fmt.Errorf("reaction index points at missing reaction %s", id)
	}
	return dbReaction, nil
}

// Reaction returns the reaction of userID on messageID.
func (t *Tx) Reaction(messageID, userID string) (models.Reaction, error) {
	t.read(ReactionsTopic(messageID))

	byUser, err := t.subBucket(bucketReactionsByMessageAndUser, messageID)
	if err != nil {
		return models.Reaction{}, err
	}
	if byUser == nil {
		return models.Reaction{}, notFound("reaction on message", messageID)
	}
	id := byUser.Get([]byte(userID))
	if id == nil {
		return models.Reaction{}, notFound("reaction on message", messageID)
	}
	dbReaction, err := t.getDBReaction(id)
	if err != nil {
		return models.Reaction{}, err
	}
	return reactionFromDB(dbReaction), nil
}

// Reactions returns the reactions on a message in first-seen order.
func (t *Tx) Reactions(messageID string) ([]models.Reaction, error) {
	t.read(ReactionsTopic(messageID))

	byMessage, err := t.subBucket(bucketReactionsByMessage, messageID)
	if err != nil || byMessage == nil {
		return nil, err
	}

	var reactions []models.Reaction
	err = byMessage.ForEach(func(k, v []byte) error {
		dbReaction, err := t.getDBReaction(v)
		if err != nil {
			return err
		}
		reactions = append(reactions, reactionFromDB(dbReaction))
		return nil
	})
	return reactions, err
}

// PutReaction inserts the reaction of (message, user) or overwrites the
// existing one in place, keeping its ID and position.
func (t *Tx) PutReaction(r models.Reaction) (models.Reaction, error) {
	byMessage, err := t.subBucket(bucketReactionsByMessage, r.MessageID)
	if err != nil {
		return models.Reaction{}, err
	}
	byUser, err := t.subBucket(bucketReactionsByMessageAndUser, r.MessageID)
	if err != nil {
		return models.Reaction{}, err
	}

	var dbReaction DBReaction
	if id := byUser.Get([]byte(r.UserID)); id != nil {
		if dbReaction, err = t.getDBReaction(id); err != nil {
			return models.Reaction{}, err
		}
		dbReaction.Emoji = r.Emoji
	} else {
		seq, err := byMessage.NextSequence()
		if err != nil {
			return models.Reaction{}, fmt.Errorf("failed to allocate reaction sequence: %w", err)
		}
		if r.ID == "" {
			r.ID = newID()
		}
		dbReaction = DBReaction{
			ID:        r.ID,
			Seq:       seq,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Emoji:     r.Emoji,
			CreatedAt: r.CreatedAt,
		}
	}

	if err := putRecord(t.tx.Bucket(bucketReactions), &dbReaction); err != nil {
		return models.Reaction{}, fmt.Errorf("failed to put reaction: %w", err)
	}
	if err := byMessage.Put(dbReaction.SeqKey(), []byte(dbReaction.ID)); err != nil {
		return models.Reaction{}, err
	}
	if err := byUser.Put([]byte(dbReaction.UserID), []byte(dbReaction.ID)); err != nil {
		return models.Reaction{}, err
	}

	t.wrote(ReactionsTopic(r.MessageID))
	return reactionFromDB(dbReaction), nil
}

// DeleteReaction removes the reaction and its index entries. Deleting a
// missing reaction is a no-op.
func (t *Tx) DeleteReaction(id string) error {
	reactions := t.tx.Bucket(bucketReactions)

	var dbReaction DBReaction
	ok, err := getRecord(reactions, []byte(id), &dbReaction)
	if err != nil || !ok {
		return err
	}

	if err := reactions.Delete([]byte(id)); err != nil {
		return err
	}
	byMessage, err := t.subBucket(bucketReactionsByMessage, dbReaction.MessageID)
	if err != nil {
		return err
	}
	if err := byMessage.Delete(dbReaction.SeqKey()); err != nil {
		return err
	}
	byUser, err := t.subBucket(bucketReactionsByMessageAndUser, dbReaction.MessageID)
	if err != nil {
		return err
	}
	if err := byUser.Delete([]byte(dbReaction.UserID)); err != nil {
		return err
	}

	t.wrote(ReactionsTopic(dbReaction.MessageID))
	return nil
}
