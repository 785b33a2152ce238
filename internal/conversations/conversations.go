package conversations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/storage"
)

const defaultGroupName = "Unnamed Group"

// Directory manages conversations, their memberships and read cursors.
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

// GetOrCreateDM returns the direct conversation between the two users,
// creating it together with both memberships when none exists. The pair
// index and the creation share one write transaction, so concurrent calls
// for the same pair converge on a single conversation.
func (d *Directory) GetOrCreateDM(ctx context.Context, currentUserID, otherUserID string) (string, error) {
	if currentUserID == otherUserID {
		return "", fmt.Errorf("%w: cannot start a conversation with yourself", models.ErrValidation)
	}

	var convID string
	err := d.store.Update(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetUser(currentUserID); err != nil {
			return err
		}
		if _, err := tx.GetUser(otherUserID); err != nil {
			return err
		}

		id, err := findDM(tx, currentUserID, otherUserID)
		if err != nil {
			return err
		}
		if id != "" {
			convID = id
			return nil
		}

		now := d.now().UnixMilli()
		conv, err := tx.PutConversation(models.Conversation{
			IsGroup:   false,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		for _, userID := range []string{currentUserID, otherUserID} {
			_, err := tx.PutMembership(models.Membership{
				ConversationID: conv.ID,
				UserID:         userID,
				JoinedAt:       now,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.PutDMPair(currentUserID, otherUserID, conv.ID); err != nil {
			return err
		}

		convID = conv.ID
		return nil
	})
	return convID, err
}

// findDM consults the pair index and falls back to scanning the current
// user's direct conversations. A scan hit is registered in the index.
func findDM(tx *storage.Tx, currentUserID, otherUserID string) (string, error) {
	id, err := tx.DMByPair(currentUserID, otherUserID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	memberships, err := tx.MembershipsByUser(currentUserID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		conv, err := tx.GetConversation(m.ConversationID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if conv.IsGroup {
			continue
		}
		_, err = tx.GetMembership(conv.ID, otherUserID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if err := tx.PutDMPair(currentUserID, otherUserID, conv.ID); err != nil {
			return "", err
		}
		return conv.ID, nil
	}
	return "", nil
}

// CreateGroup creates a group conversation of the creator and memberIDs.
// The de-duplicated member set must hold at least two existing users.
func (d *Directory) CreateGroup(ctx context.Context, name string, memberIDs []string, creatorID string) (string, error) {
	members := dedupe(append([]string{creatorID}, memberIDs...))
	if len(members) < 2 {
		return "", fmt.Errorf("%w: a group needs at least 2 members, got %d", models.ErrValidation, len(members))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultGroupName
	}

	var convID string
	err := d.store.Update(ctx, func(tx *storage.Tx) error {
		for _, id := range members {
			if _, err := tx.GetUser(id); err != nil {
				return err
			}
		}

		now := d.now().UnixMilli()
		conv, err := tx.PutConversation(models.Conversation{
			IsGroup:   true,
			Name:      name,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		for _, userID := range members {
			_, err := tx.PutMembership(models.Membership{
				ConversationID: conv.ID,
				UserID:         userID,
				JoinedAt:       now,
			})
			if err != nil {
				return err
			}
		}

		convID = conv.ID
		return nil
	})
	return convID, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ListForUser returns the sidebar entries of every conversation the user is
// a member of, most recently active first.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	summaries := []models.ConversationSummary{}
	err := d.store.View(ctx, func(tx *storage.Tx) error {
		memberships, err := tx.MembershipsByUser(userID)
		if err != nil {
			return err
		}

		for _, m := range memberships {
			conv, err := tx.GetConversation(m.ConversationID)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			detail, err := resolveDetail(tx, conv, userID)
			if err != nil {
				return err
			}

			summary := models.ConversationSummary{
				ConversationDetail: detail,
				Membership:         m,
			}

			last, err := tx.LastMessage(conv.ID)
			switch {
			case err == nil:
				summary.LastMessage = &last
			case !errors.Is(err, models.ErrNotFound):
				return err
			}

			summary.UnreadCount, err = tx.CountMessagesAfter(conv.ID, m.LastReadMessageID, userID)
			if err != nil {
				return err
			}

			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return activity(summaries[i].Conversation) > activity(summaries[j].Conversation)
	})
	return summaries, nil
}

func activity(c models.Conversation) int64 {
	if c.LastMessageAt != 0 {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// GetConversation returns the conversation resolved for currentUserID, or
// nil when it does not exist or the caller is not a member.
func (d *Directory) GetConversation(ctx context.Context, conversationID, currentUserID string) (*models.ConversationDetail, error) {
	var detail *models.ConversationDetail
	err := d.store.View(ctx, func(tx *storage.Tx) error {
		conv, err := tx.GetConversation(conversationID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.GetMembership(conversationID, currentUserID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		resolved, err := resolveDetail(tx, conv, currentUserID)
		if err != nil {
			return err
		}
		detail = &resolved
		return nil
	})
	return detail, err
}

// resolveDetail loads the members of conv. For a DM the other user is the
// first member that is not currentUserID. Deleted users are skipped.
func resolveDetail(tx *storage.Tx, conv models.Conversation, currentUserID string) (models.ConversationDetail, error) {
	detail := models.ConversationDetail{
		Conversation: conv,
		Members:      []models.User{},
	}

	memberships, err := tx.MembershipsByConversation(conv.ID)
	if err != nil {
		return detail, err
	}
	for _, m := range memberships {
		user, err := tx.GetUser(m.UserID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return detail, err
		}
		detail.Members = append(detail.Members, user)
		if !conv.IsGroup && detail.OtherUser == nil && user.ID != currentUserID {
			other := user
			detail.OtherUser = &other
		}
	}
	return detail, nil
}

// MarkAsRead moves the caller's read cursor to messageID. Callers without a
// membership are ignored.
func (d *Directory) MarkAsRead(ctx context.Context, conversationID, userID, messageID string) error {
	return d.store.Update(ctx, func(tx *storage.Tx) error {
		m, err := tx.GetMembership(conversationID, userID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		msg, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if msg.ConversationID != conversationID {
			return fmt.Errorf("message %s in conversation %s: %w", messageID, conversationID, models.ErrNotFound)
		}

		if m.LastReadMessageID == messageID {
			return nil
		}
		m.LastReadMessageID = messageID
		_, err = tx.PutMembership(m)
		return err
	})
}
