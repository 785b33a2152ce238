package storage

import (
	"bytes"
	"fmt"

	"parley/internal/models"
)

func messageFromDB(m DBMessage) models.Message {
	return models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		Deleted:        m.Deleted,
	}
}

func (t *Tx) getDBMessage(id string) (DBMessage, bool, error) {
	var dbMsg DBMessage
	ok, err := getRecord(t.tx.Bucket(bucketMessages), []byte(id), &dbMsg)
	return dbMsg, ok, err
}

func (t *Tx) GetMessage(id string) (models.Message, error) {
	t.read(MessageTopic(id))

	dbMsg, ok, err := t.getDBMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, notFound("message", id)
	}
	return messageFromDB(dbMsg), nil
}

// InsertMessage stores a new message and positions it in the
// conversation's (createdAt, sequence) ordered index.
func (t *Tx) InsertMessage(msg models.Message) (models.Message, error) {
	if msg.ConversationID == "" {
		return models.Message{}, fmt.Errorf("%w: message missing conversation", models.ErrValidation)
	}
	if msg.ID == "" {
		msg.ID = newID()
	}

	byConv, err := t.subBucket(bucketMessagesByConversation, msg.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	seq, err := byConv.NextSequence()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to allocate message sequence: %w", err)
	}

	dbMsg := DBMessage{
		ID:             msg.ID,
		Seq:            seq,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
		Deleted:        msg.Deleted,
	}
	if err := putRecord(t.tx.Bucket(bucketMessages), &dbMsg); err != nil {
		return models.Message{}, fmt.Errorf("failed to put message: %w", err)
	}
	if err := byConv.Put(dbMsg.PositionKey(), []byte(dbMsg.ID)); err != nil {
		return models.Message{}, fmt.Errorf("failed to index message: %w", err)
	}

	t.wrote(MessagesTopic(msg.ConversationID), MessageTopic(msg.ID))
	return msg, nil
}

// UpdateMessage replaces the mutable fields of a stored message. The
// message keeps its conversation, sender and position.
func (t *Tx) UpdateMessage(msg models.Message) error {
	dbMsg, ok, err := t.getDBMessage(msg.ID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("message", msg.ID)
	}

	dbMsg.Body = msg.Body
	dbMsg.Deleted = msg.Deleted
	if err := putRecord(t.tx.Bucket(bucketMessages), &dbMsg); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}

	t.wrote(MessagesTopic(dbMsg.ConversationID), MessageTopic(dbMsg.ID))
	return nil
}

// ListMessages returns the conversation's messages in ascending order.
func (t *Tx) ListMessages(conversationID string) ([]models.Message, error) {
	t.read(MessagesTopic(conversationID))

	byConv, err := t.subBucket(bucketMessagesByConversation, conversationID)
	if err != nil || byConv == nil {
		return nil, err
	}

	var messages []models.Message
	c := byConv.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		msg, err := t.indexedMessage(v)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// LastMessage returns the most recent message of the conversation.
func (t *Tx) LastMessage(conversationID string) (models.Message, error) {
	t.read(MessagesTopic(conversationID))

	byConv, err := t.subBucket(bucketMessagesByConversation, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if byConv == nil {
		return models.Message{}, notFound("last message of", conversationID)
	}
	k, v := byConv.Cursor().Last()
	if k == nil {
		return models.Message{}, notFound("last message of", conversationID)
	}
	return t.indexedMessage(v)
}

// CountMessagesAfter counts messages of the conversation not sent by
// excludeSenderID and positioned strictly after afterMessageID. When
// afterMessageID is empty or does not resolve to a message of this
// conversation, every message is a candidate.
func (t *Tx) CountMessagesAfter(conversationID, afterMessageID, excludeSenderID string) (int, error) {
	t.read(MessagesTopic(conversationID))

	byConv, err := t.subBucket(bucketMessagesByConversation, conversationID)
	if err != nil || byConv == nil {
		return 0, err
	}

	var after []byte
	if afterMessageID != "" {
		t.read(MessageTopic(afterMessageID))
		cursorMsg, ok, err := t.getDBMessage(afterMessageID)
		if err != nil {
			return 0, err
		}
		if ok && cursorMsg.ConversationID == conversationID {
			after = cursorMsg.PositionKey()
		}
	}

	c := byConv.Cursor()
	var k, v []byte
	if after == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(after)
		if k != nil && bytes.Equal(k, after) {
			k, v = c.Next()
		}
	}

	count := 0
	for ; k != nil; k, v = c.Next() {
		msg, err := t.indexedMessage(v)
		if err != nil {
			return 0, err
		}
		if msg.SenderID != excludeSenderID {
			count++
		}
	}
	return count, nil
}

func (t *Tx) indexedMessage(id []byte) (models.Message, error) {
	var dbMsg DBMessage
	ok, err := getRecord(t.tx.Bucket(bucketMessages), id, &dbMsg)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, fmt.Errorf("message index points at missing message %s", id)
	}
	return messageFromDB(dbMsg), nil
}
