package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/storage"
)

// Store holds the messages of conversations and the reactions on them.
// Every operation checks membership and applies its effect in one
// transaction.
type Store struct {
	store storage.Transactor
	now   func() time.Time
}

func NewStore(store storage.Transactor) *Store {
	return &Store{
		store: store,
		now:   time.Now,
	}
}

func requireMember(tx *storage.Tx, conversationID, userID string) error {
	_, err := tx.GetMembership(conversationID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("user %s in conversation %s: %w", userID, conversationID, models.ErrNotAMember)
	}
	return err
}

// ListMessages returns the conversation's messages in ascending order,
// each joined with its sender.
func (s *Store) ListMessages(ctx context.Context, conversationID, currentUserID string) ([]models.MessageWithSender, error) {
	result := []models.MessageWithSender{}
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		if err := requireMember(tx, conversationID, currentUserID); err != nil {
			return err
		}

		msgs, err := tx.ListMessages(conversationID)
		if err != nil {
			return err
		}

		senders := make(map[string]*models.User)
		for _, msg := range msgs {
			sender, seen := senders[msg.SenderID]
			if !seen {
				u, err := tx.GetUser(msg.SenderID)
				switch {
				case err == nil:
					sender = &u
				case !errors.Is(err, models.ErrNotFound):
					return err
				}
				senders[msg.SenderID] = sender
			}
			result = append(result, models.MessageWithSender{Message: msg, Sender: sender})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SendMessage appends a message to the conversation and bumps its
// lastMessageAt. The body is trimmed; empty bodies are accepted.
func (s *Store) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	var id string
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		if err := requireMember(tx, conversationID, senderID); err != nil {
			return err
		}

		conv, err := tx.GetConversation(conversationID)
		if err != nil {
			return err
		}

		msg, err := tx.InsertMessage(models.Message{
			ConversationID: conversationID,
			SenderID:       senderID,
			Body:           strings.TrimSpace(body),
			CreatedAt:      s.now().UnixMilli(),
			Deleted:        false,
		})
		if err != nil {
			return err
		}

		conv.LastMessageAt = msg.CreatedAt
		if _, err := tx.PutConversation(conv); err != nil {
			return err
		}

		id = msg.ID
		return nil
	})
	return id, err
}

// DeleteMessage soft deletes a message. Only its sender may delete it and
// the body is kept.
func (s *Store) DeleteMessage(ctx context.Context, messageID, userID string) error {
	return s.store.Update(ctx, func(tx *storage.Tx) error {
		msg, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != userID {
			return fmt.Errorf("user %s deleting message %s: %w", userID, messageID, models.ErrUnauthorized)
		}
		if msg.Deleted {
			return nil
		}
		msg.Deleted = true
		return tx.UpdateMessage(msg)
	})
}

// AddReaction sets the user's reaction on the message, replacing the emoji
// of an existing reaction in place.
func (s *Store) AddReaction(ctx context.Context, messageID, userID, emoji string) (string, error) {
	if emoji == "" {
		return "", fmt.Errorf("%w: emoji is required", models.ErrValidation)
	}

	var id string
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		msg, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if err := requireMember(tx, msg.ConversationID, userID); err != nil {
			return err
		}

		r, err := tx.PutReaction(models.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: s.now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		id = r.ID
		return nil
	})
	return id, err
}

// RemoveReaction deletes the user's reaction on the message if present.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID string) error {
	return s.store.Update(ctx, func(tx *storage.Tx) error {
		r, err := tx.Reaction(messageID, userID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.DeleteReaction(r.ID)
	})
}

// GetReactions groups the reactions on the message by emoji in first-seen
// order. The viewer must be a member of the message's conversation.
func (s *Store) GetReactions(ctx context.Context, messageID, viewerID string) ([]models.ReactionGroup, error) {
	groups := []models.ReactionGroup{}
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		msg, err := tx.GetMessage(messageID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := requireMember(tx, msg.ConversationID, viewerID); err != nil {
			return err
		}

		reactions, err := tx.Reactions(messageID)
		if err != nil {
			return err
		}
		groups = GroupReactions(reactions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// GroupReactions aggregates reactions by emoji, keeping the order in which
// each emoji first appears.
func GroupReactions(reactions []models.Reaction) []models.ReactionGroup {
	groups := []models.ReactionGroup{}
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, models.ReactionGroup{Emoji: r.Emoji, UserIDs: []string{}})
		}
		groups[i].Count++
		groups[i].UserIDs = append(groups[i].UserIDs, r.UserID)
	}
	return groups
}
